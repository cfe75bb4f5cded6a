package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/pipewright/internal/config"
	"git.home.luguber.info/inful/pipewright/internal/foundation/errors"
)

const (
	setupTimeout = 10 * time.Second
	statusBucket = "pipewright-run-status"
)

// NATSClient publishes to a JetStream stream and keeps the latest run
// status per workspace and ref in a KV bucket.
type NATSClient struct {
	conn *nats.Conn
	js   jetstream.JetStream
	kv   jetstream.KeyValue
}

// Connect dials cfg.URL and makes sure the stream and the status bucket exist.
func Connect(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger) (*NATSClient, error) {
	if cfg.URL == "" {
		return nil, errors.ConfigError("nats url is required").Build()
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("pipewright"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, errors.InfrastructureError("failed to connect to NATS").
			WithCause(err).WithContext("url", cfg.URL).Build()
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	if _, err := js.CreateOrUpdateStream(setupCtx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "pipewright run lifecycle events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		MaxAge:      30 * 24 * time.Hour,
	}); err != nil {
		conn.Close()
		return nil, errors.InfrastructureError("failed to create NATS stream").
			WithCause(err).WithContext("stream", cfg.Stream).Build()
	}

	kv, err := js.CreateOrUpdateKeyValue(setupCtx, jetstream.KeyValueConfig{
		Bucket:      statusBucket,
		Description: "Latest pipewright run status per workspace and ref",
		History:     5,
	})
	if err != nil {
		conn.Close()
		return nil, errors.InfrastructureError("failed to create NATS KV bucket").
			WithCause(err).WithContext("bucket", statusBucket).Build()
	}

	logger.Info("NATS event bus connected",
		"url", cfg.URL,
		"stream", cfg.Stream,
		"subject_prefix", cfg.SubjectPrefix)

	return &NATSClient{conn: conn, js: js, kv: kv}, nil
}

func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if _, err := c.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (c *NATSClient) PutStatus(ctx context.Context, key string, value []byte) error {
	if _, err := c.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("failed to put run status: %w", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (c *NATSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Drain()
}
