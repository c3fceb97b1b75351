package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var sampleColumns = []string{"board_id", "board_name", "header", "fields", "recorded_at"}

// SaveSamples bulk inserts samples with COPY.
func (p *PostgresClient) SaveSamples(ctx context.Context, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}

	n, err := p.pool.CopyFrom(ctx,
		pgx.Identifier{"samples"},
		sampleColumns,
		pgx.CopyFromSlice(len(samples), func(i int) ([]any, error) {
			s := samples[i]
			return []any{s.BoardID, s.BoardName, s.Header, s.Fields, s.Timestamp}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to copy samples: %w", err)
	}
	if int(n) != len(samples) {
		return fmt.Errorf("copied %d of %d samples", n, len(samples))
	}

	return nil
}

// RecentSamples returns the newest samples of one board signal, newest first.
func (p *PostgresClient) RecentSamples(ctx context.Context, boardName, header string, limit int) ([]Sample, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, board_id, board_name, header, fields, recorded_at
		FROM samples
		WHERE board_name = $1 AND header = $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`, boardName, header, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var s Sample
		if err := rows.Scan(&s.ID, &s.BoardID, &s.BoardName, &s.Header, &s.Fields, &s.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}
