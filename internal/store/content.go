package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ContentCache stores response bodies keyed by URL.
type ContentCache struct {
	db *sql.DB
}

// Keys lists every cached URL in lexical order.
func (c *ContentCache) Keys(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT url FROM content ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Get returns the body cached for url, or ErrNotFound.
func (c *ContentCache) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	err := c.db.QueryRowContext(ctx, `SELECT body FROM content WHERE url = ?`, url).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	if err != nil {
		return nil, fmt.Errorf("get content %s: %w", url, err)
	}
	if body == nil {
		body = []byte{}
	}
	return body, nil
}

// Put stores data under url, replacing any previous body.
func (c *ContentCache) Put(ctx context.Context, url string, data []byte) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO content(url, body, size, stored_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET body = excluded.body, size = excluded.size, stored_at = excluded.stored_at`,
		url, data, len(data), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put content %s: %w", url, err)
	}
	return nil
}

// Delete removes url from the cache.
func (c *ContentCache) Delete(ctx context.Context, url string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM content WHERE url = ?`, url); err != nil {
		return fmt.Errorf("delete content %s: %w", url, err)
	}
	return nil
}

// Size returns the total number of cached bytes.
func (c *ContentCache) Size(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	if err := c.db.QueryRowContext(ctx, `SELECT SUM(size) FROM content`).Scan(&n); err != nil {
		return 0, err
	}
	return n.Int64, nil
}
