// Package persistence selects and wires the snapshot backend for a deployment.
package persistence

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"

	"example.com/diary/internal/config"
	"example.com/diary/internal/feed"
	"example.com/diary/internal/persistence/localfile"
	"example.com/diary/internal/persistence/postgres"
	diarysync "example.com/diary/internal/sync"
)

// Backends bundles the snapshot store and change feed chosen by config.
type Backends struct {
	Snapshots diarysync.SnapshotStore
	Feed      diarysync.ChangeFeed

	closers []func() error
}

// Open constructs the configured backend pair. The Postgres backend pairs
// the jsonb document store with a Kafka change feed; the localfile backend
// is its own feed via a directory watch.
func Open(ctx context.Context, cfg config.Config, logger *log.Logger) (*Backends, error) {
	switch cfg.SnapshotBackend {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	case config.BackendLocalFile:
		return openLocalFile(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}

func openPostgres(ctx context.Context, cfg config.Config, logger *log.Logger) (*Backends, error) {
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	registry := feed.NewRegistry()
	producer := feed.NewProducer(cfg.KafkaBrokers, cfg.FeedTopic)
	changeFeed := feed.New(producer, registry)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  cfg.FeedGroupID,
		Topic:    cfg.FeedTopic,
		MaxBytes: cfg.FeedMaxBytes,
	})
	listener := feed.NewListener(reader, registry, feed.WithLogger(logger))

	listenerCtx, stopListener := context.WithCancel(context.Background())
	go func() {
		if err := listener.Run(listenerCtx); err != nil && listenerCtx.Err() == nil {
			logger.Printf("feed listener stopped: %v", err)
		}
	}()

	return &Backends{
		Snapshots: postgres.NewStore(pool),
		Feed:      changeFeed,
		closers: []func() error{
			func() error { pool.Close(); return nil },
			producer.Close,
			reader.Close,
			func() error { stopListener(); return nil },
		},
	}, nil
}

func openLocalFile(cfg config.Config, logger *log.Logger) (*Backends, error) {
	store, err := localfile.NewStore(cfg.LocalDataDir, logger)
	if err != nil {
		return nil, err
	}
	return &Backends{
		Snapshots: store,
		Feed:      store,
		closers:   []func() error{store.Close},
	}, nil
}

// Close releases the backend resources in reverse construction order.
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Printf("backend close error: %v", err)
		}
	}
}
