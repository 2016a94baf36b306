// Package influx delivers completed reports to an InfluxDB v2 bucket.
package influx

import (
	"context"
	"errors"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/thusser/lambrecht/internal/meteo"
	"github.com/thusser/lambrecht/internal/queue"
)

// Config holds the Influx connection settings. Influx is optional: leave any
// of URL, token, org or bucket empty and the sink accepts and discards every
// report instead of failing.
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
	Timeout     time.Duration
}

// Sink writes one point per report. HTTP 4xx responses (other than 429) are
// permanent failures; everything else is transient and will be retried by
// the forwarding queue.
type Sink struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
	timeout     time.Duration
}

// New builds the sink. With incomplete credentials it returns a discarding
// sink rather than an error.
func New(cfg Config) *Sink {
	s := &Sink{
		measurement: cfg.Measurement,
		timeout:     cfg.Timeout,
	}
	if s.measurement == "" {
		s.measurement = "lambrecht"
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Second
	}

	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		log.Println("influx: not configured, reports will be discarded")
		return s
	}

	s.client = influxdb2.NewClient(cfg.URL, cfg.Token)
	s.write = s.client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	log.Printf("influx: writing to %s bucket %q", cfg.URL, cfg.Bucket)
	return s
}

// Write implements queue.Sink.
func (s *Sink) Write(r meteo.Report) error {
	if s.write == nil {
		return nil
	}

	fields := make(map[string]interface{}, len(r.Values))
	for k, v := range r.Values {
		fields[k] = v
	}
	point := influxdb2.NewPoint(s.measurement, nil, fields, r.Time)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.write.WritePoint(ctx, point); err != nil {
		var herr *influxhttp.Error
		if errors.As(err, &herr) &&
			herr.StatusCode >= 400 && herr.StatusCode < 500 &&
			herr.StatusCode != 429 {
			return queue.Permanent(err)
		}
		return err
	}
	return nil
}

// Close shuts the underlying HTTP client down.
func (s *Sink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

var _ queue.Sink = (*Sink)(nil)
