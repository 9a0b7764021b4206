// Package tsdb stores and queries raw sensor readings in InfluxDB 2.x.
// Readings are written as points in the sensor_readings measurement,
// tagged for the dashboard query dimensions; reads go through Flux.
package tsdb

import (
	"context"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/c360/agrostream/errors"
)

// Measurement is the InfluxDB measurement readings are stored under.
const Measurement = "sensor_readings"

// Config locates the InfluxDB instance and the target bucket.
type Config struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// Validate checks that all connection fields are set.
func (c Config) Validate() error {
	if c.URL == "" || c.Token == "" || c.Org == "" || c.Bucket == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"influx url, token, org and bucket are required")
	}
	return nil
}

// PointWriter is the write surface the Writer needs. Satisfied by
// api.WriteAPIBlocking.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// FluxQuerier is the read surface the Reader needs. Satisfied by
// api.QueryAPI.
type FluxQuerier interface {
	Query(ctx context.Context, query string) (*api.QueryTableResult, error)
}

// Client bundles the InfluxDB connection with its write and query APIs.
type Client struct {
	client influxdb2.Client
	writer *Writer
	reader *Reader
}

// NewClient connects to InfluxDB per the config. The connection is lazy;
// the first write or query surfaces reachability problems.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Client{
		client: client,
		writer: NewWriter(client.WriteAPIBlocking(cfg.Org, cfg.Bucket)),
		reader: NewReader(client.QueryAPI(cfg.Org), cfg.Bucket),
	}, nil
}

// Writer returns the reading writer.
func (c *Client) Writer() *Writer {
	return c.writer
}

// Reader returns the Flux reader.
func (c *Client) Reader() *Reader {
	return c.reader
}

// Ping checks that the InfluxDB instance is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.client.Ping(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Client", "Ping", "ping influxdb")
	}
	if !ok {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "Client", "Ping", "ping influxdb")
	}
	return nil
}

// Close shuts down idle connections.
func (c *Client) Close() {
	c.client.Close()
}
