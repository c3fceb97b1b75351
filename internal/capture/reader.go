package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Reader iterates the records of a capture stream
type Reader struct {
	closer  io.Closer
	decoder *cbor.Decoder
}

func NewReader(r io.Reader) *Reader {
	cr := &Reader{decoder: decMode.NewDecoder(r)}
	if c, ok := r.(io.Closer); ok {
		cr.closer = c
	}
	return cr
}

func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReader(f), nil
}

// Next returns the next record, io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.decoder.Decode(&rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ReplayOptions controls replay pacing. Speed 0 replays as fast as
// possible, 1 in real time, 2 twice as fast.
type ReplayOptions struct {
	Speed float64
}

// Replay feeds every record to sink, usually a board's OnRawPacket. It
// returns the number of replayed packets.
func Replay(ctx context.Context, r *Reader, sink func(packet []byte), opts ReplayOptions) (int, error) {
	var count int
	var prev time.Time

	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}

		if opts.Speed > 0 && !prev.IsZero() {
			gap := time.Duration(float64(rec.Timestamp.Sub(prev)) / opts.Speed)
			if gap > 0 {
				timer := time.NewTimer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					return count, ctx.Err()
				case <-timer.C:
				}
			}
		}
		prev = rec.Timestamp

		if err := ctx.Err(); err != nil {
			return count, err
		}

		sink(rec.Packet())
		count++
	}
}
