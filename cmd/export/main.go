// Command export dumps one user's diary from the snapshot store as CSV,
// without going through the HTTP API.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/diary/internal/config"
	"example.com/diary/internal/domain"
	"example.com/diary/internal/export"
	"example.com/diary/internal/persistence/localfile"
	"example.com/diary/internal/persistence/postgres"
	diarysync "example.com/diary/internal/sync"
)

func main() {
	username := flag.String("user", "", "diary owner to export")
	outPath := flag.String("out", "", "output file (default stdout)")
	flag.Parse()

	if *username == "" {
		log.Fatal("missing required -user flag")
	}

	cfg := config.Load()
	ctx := context.Background()
	logger := log.New(os.Stderr, "[export] ", log.LstdFlags)

	snapshots, cleanup, err := openSnapshots(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open snapshot backend %q: %v", cfg.SnapshotBackend, err)
	}
	defer cleanup()

	snapshot, exists, err := snapshots.Load(ctx, *username)
	if err != nil {
		log.Fatalf("failed to load diary for %q: %v", *username, err)
	}
	if !exists {
		log.Fatalf("no diary found for %q", *username)
	}

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *outPath, err)
		}
		defer f.Close()
		out = f
	}

	store := domain.NewStore()
	store.ReplaceAll(snapshot, domain.OriginRemote)

	rows := export.Rows(store.List(domain.FilterAll), export.DefaultDateLabel)
	if err := export.WriteCSV(out, rows); err != nil {
		log.Fatalf("failed to write csv: %v", err)
	}

	logger.Printf("exported %d activities for %q", store.Len(), *username)
}

func openSnapshots(ctx context.Context, cfg config.Config, logger *log.Logger) (diarysync.SnapshotStore, func(), error) {
	switch cfg.SnapshotBackend {
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool), pool.Close, nil
	default:
		store, err := localfile.NewStore(cfg.LocalDataDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
}
