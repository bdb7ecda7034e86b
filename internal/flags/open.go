package flags

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shyim/perfaudit/internal/config"
)

// Open returns the store selected by cfg.Backend together with a function
// releasing its resources. The postgres backend shares databaseURL and
// relies on the migrations for its table.
func Open(ctx context.Context, cfg config.FlagsConfig, databaseURL string) (Store, func(), error) {
	switch cfg.Backend {
	case "kubernetes":
		client, err := NewKubernetesClient(cfg.Kubeconfig)
		if err != nil {
			return nil, nil, err
		}
		return NewConfigMapStore(client, cfg.Namespace, cfg.ConfigMap), func() {}, nil
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("flags: open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		store := NewSQLStore(db, SQLite)
		if err := store.EnsureTable(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return store, func() { db.Close() }, nil
	case "postgres", "":
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("flags: open postgres: %w", err)
		}
		return NewSQLStore(db, Postgres), func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("flags: unknown backend %q", cfg.Backend)
}
