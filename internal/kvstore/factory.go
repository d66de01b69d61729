package kvstore

import (
	"context"
	"fmt"
	"strings"
)

// NewStore picks a backend from databaseURL: empty or "memory" keeps values
// in process, postgres:// and postgresql:// use PostgreSQL, sqlite://path and
// file: paths use an embedded SQLite file.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	u := strings.TrimSpace(databaseURL)
	switch {
	case u == "" || strings.EqualFold(u, "memory"):
		return NewInMemoryStore(), nil
	case strings.HasPrefix(u, "postgres://"), strings.HasPrefix(u, "postgresql://"):
		return NewPostgresStore(ctx, u)
	case strings.HasPrefix(u, "sqlite://"):
		return NewSQLiteStore(ctx, strings.TrimPrefix(u, "sqlite://"))
	case strings.HasPrefix(u, "file:"):
		return NewSQLiteStore(ctx, u)
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", u)
	}
}
