package recorder

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenSensorCore/internal/config"
	"github.com/KevinKickass/OpenSensorCore/internal/storage"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Sink persists batches of samples
type Sink interface {
	Name() string
	Write(ctx context.Context, samples []storage.Sample) error
}

// SampleStore is the part of the Postgres client the sink needs
type SampleStore interface {
	SaveSamples(ctx context.Context, samples []storage.Sample) error
}

type PostgresSink struct {
	store SampleStore
}

func NewPostgresSink(store SampleStore) *PostgresSink {
	return &PostgresSink{store: store}
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, samples []storage.Sample) error {
	return s.store.SaveSamples(ctx, samples)
}

// InfluxSink writes one point per sample: tags board and header, one field
// per value field.
type InfluxSink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
}

func NewInfluxSink(cfg config.InfluxConfig) *InfluxSink {
	client := influxdb2.NewClient(cfg.URL, cfg.InfluxToken())
	return &InfluxSink{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
	}
}

func (s *InfluxSink) Name() string { return "influx" }

func (s *InfluxSink) Write(ctx context.Context, samples []storage.Sample) error {
	points := make([]*write.Point, 0, len(samples))
	for _, sample := range samples {
		points = append(points, samplePoint(s.measurement, sample))
	}

	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write %d points: %w", len(points), err)
	}
	return nil
}

func (s *InfluxSink) Close() {
	s.client.Close()
}

func samplePoint(measurement string, sample storage.Sample) *write.Point {
	fields := make(map[string]interface{}, len(sample.Fields))
	for k, v := range sample.Fields {
		fields[k] = v
	}

	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"board":  sample.BoardName,
			"header": sample.Header,
		},
		fields,
		sample.Timestamp,
	)
}
