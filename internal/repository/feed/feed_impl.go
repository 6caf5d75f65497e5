package feed

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/Taichi-iskw/rewind-lang/internal/errors"
	"github.com/Taichi-iskw/rewind-lang/internal/model"
	"github.com/Taichi-iskw/rewind-lang/internal/repository/common"
)

// feedRepository implements Repository using PostgreSQL
type feedRepository struct {
	pool Pool
}

// NewRepository creates a new instance of Repository
func NewRepository(pool Pool) Repository {
	return &feedRepository{
		pool: pool,
	}
}

func (r *feedRepository) Touch(ctx context.Context, url, title string) (*model.Feed, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArg, "feed URL must not be blank")
	}

	sql := `INSERT INTO recent_feeds (url, title, last_opened_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (url) DO UPDATE
		SET title = COALESCE(NULLIF(EXCLUDED.title, ''), recent_feeds.title),
			last_opened_at = EXCLUDED.last_opened_at
		RETURNING url, title, last_opened_at`

	var feed model.Feed
	err := r.pool.QueryRow(ctx, sql, url, strings.TrimSpace(title)).
		Scan(&feed.URL, &feed.Title, &feed.LastOpenedAt)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to save feed")
	}
	return &feed, nil
}

func (r *feedRepository) Get(ctx context.Context, url string) (*model.Feed, error) {
	sql := "SELECT url, title, last_opened_at FROM recent_feeds WHERE url = $1"

	var feed model.Feed
	err := r.pool.QueryRow(ctx, sql, url).Scan(&feed.URL, &feed.Title, &feed.LastOpenedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.Wrap(err, apperrors.CodeNotFound, "feed not found")
		}
		return nil, common.HandlePostgreSQLError(err, "failed to get feed")
	}
	return &feed, nil
}

func (r *feedRepository) List(ctx context.Context, limit int) ([]*model.Feed, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	sql := "SELECT url, title, last_opened_at FROM recent_feeds ORDER BY last_opened_at DESC, url LIMIT $1"
	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, common.HandlePostgreSQLError(err, "failed to list feeds")
	}
	defer rows.Close()

	feeds := []*model.Feed{}
	for rows.Next() {
		var feed model.Feed
		if err := rows.Scan(&feed.URL, &feed.Title, &feed.LastOpenedAt); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan feed row")
		}
		feeds = append(feeds, &feed)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to iterate feed rows")
	}

	return feeds, nil
}

func (r *feedRepository) Delete(ctx context.Context, url string) error {
	sql := "DELETE FROM recent_feeds WHERE url = $1"
	tag, err := r.pool.Exec(ctx, sql, url)
	if err != nil {
		return common.HandlePostgreSQLError(err, "failed to delete feed")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.CodeNotFound, "feed not found")
	}
	return nil
}
