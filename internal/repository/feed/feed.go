package feed

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Taichi-iskw/rewind-lang/internal/model"
)

// DefaultListLimit is used when List is called with a non-positive limit
const DefaultListLimit = 20

// Repository defines operations for recently opened feeds
type Repository interface {
	// Touch records that url was opened now, keeping an existing title when title is empty
	Touch(ctx context.Context, url, title string) (*model.Feed, error)
	Get(ctx context.Context, url string) (*model.Feed, error)
	// List returns the most recently opened feeds first
	List(ctx context.Context, limit int) ([]*model.Feed, error)
	Delete(ctx context.Context, url string) error
}

// Pool interface for abstracting pgx connection pool
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
