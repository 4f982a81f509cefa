package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/library-service/cmd/api/book"
	"github.com/library-service/cmd/api/config"
	"github.com/library-service/cmd/api/database"
	"github.com/library-service/cmd/api/inmemory"
)

/*
Opens the repository selected by the configuration: PostgreSQL, migrated up to date,
when a connection string is set, the in-memory store otherwise. closer releases it.
*/
func Open(cfg config.Database) (repo book.Repository, closer func() error, err error) {
	if cfg.URL == "" {
		store, err := inmemory.NewInMemoryStore()
		if err != nil {
			return nil, nil, fmt.Errorf("creating in-memory store: %w", err)
		}
		slog.Warn("DATABASE_URL is empty, using the in-memory store")
		return store, func() error { return nil }, nil
	}

	db, err := database.ConnectDb(cfg.URL, cfg.Schema)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting with db: %w", err)
	}

	store := database.NewStore(db)
	err = database.MigrationUp(store, cfg.MigrationsPath, cfg.Schema)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}
	return store, db.Close, nil
}
