package test_utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klokku/calsync/internal/config"
	"github.com/klokku/calsync/internal/database"
	log "github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	postgresImage = "postgres:18.1-alpine"
	snapshotName  = "calsync-migrated"
)

// testDatabase matches the credentials the container is started with.
var testDatabase = config.Database{
	User:   "test_calsync",
	Pass:   "test_calsync",
	Name:   "calsync",
	Schema: "calsync",
}

// TestWithDB starts Postgres, applies every migration and snapshots the
// result, so each test can Restore a clean schema. The returned function
// opens a new pool on the container. Failures exit the test binary since no
// repository test can run without the database.
func TestWithDB() (*postgres.PostgresContainer, func() *pgxpool.Pool) {
	ctx := context.Background()

	root, err := moduleRoot()
	if err != nil {
		log.Fatalf("failed to locate module root: %v", err)
	}
	container, err := postgres.Run(ctx, postgresImage,
		postgres.WithInitScripts(filepath.Join(root, "dev", "init.sql")),
		postgres.WithDatabase(testDatabase.Name),
		postgres.WithUsername(testDatabase.User),
		postgres.WithPassword(testDatabase.Pass),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	cfg := testDatabase
	cfg.Host, err = container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to read container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("failed to read container port: %v", err)
	}
	cfg.Port = port.Int()
	log.Infof("postgres container listening on %s:%d", cfg.Host, cfg.Port)

	if err := database.Migrate(cfg); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}
	if err := container.Snapshot(ctx, postgres.WithSnapshotName(snapshotName)); err != nil {
		log.Fatalf("failed to snapshot postgres container: %v", err)
	}

	return container, func() *pgxpool.Pool {
		db, err := database.Open(ctx, cfg)
		if err != nil {
			log.Fatalf("failed to open database connection: %v", err)
		}
		return db
	}
}

// moduleRoot walks up from the working directory to the directory holding go.mod.
func moduleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found above the working directory")
		}
		dir = parent
	}
}
