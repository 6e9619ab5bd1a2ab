package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/rackpatch/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// QueryGetSideValue returns the side value stored under id, or nil.
func (c *Client) QueryGetSideValue(ctx context.Context, id string) (*models.SideValue, error) {
	results, err := surrealdb.Query[[]models.SideValue](ctx, c.db, `
		SELECT * FROM type::record("side_value", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get side value: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return &(*results)[0].Result[0], nil
}

// QueryUpsertSideValue writes a side value under id.
func (c *Client) QueryUpsertSideValue(ctx context.Context, id, kind, key, value string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("side_value", $id) SET
			kind = $kind,
			key = $key,
			value = $value,
			modified = time::now()
		RETURN NONE
	`, map[string]any{
		"id":    id,
		"kind":  kind,
		"key":   key,
		"value": value,
	})
	if err != nil {
		return fmt.Errorf("upsert side value: %w", wrapQueryError(err))
	}
	return nil
}

// QueryDeleteSideValue removes the side value stored under id.
func (c *Client) QueryDeleteSideValue(ctx context.Context, id string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("side_value", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return fmt.Errorf("delete side value: %w", wrapQueryError(err))
	}
	return nil
}
