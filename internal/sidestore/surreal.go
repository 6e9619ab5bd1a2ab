package sidestore

import (
	"context"

	"github.com/raphaelgruber/rackpatch/internal/db"
	"github.com/raphaelgruber/rackpatch/internal/models"
)

// Surreal stores side values in the shared SurrealDB side_value table.
type Surreal struct {
	client *db.Client
}

// OpenSurreal connects to SurrealDB, defines the schema and returns a store
// that owns the connection.
func OpenSurreal(ctx context.Context, cfg db.Config) (*Surreal, error) {
	client, err := db.NewClient(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	if err := client.InitSchema(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, err
	}
	return &Surreal{client: client}, nil
}

// Get implements Store.
func (s *Surreal) Get(ctx context.Context, kind Kind, key models.ProgressKey) (string, error) {
	id, err := storageKey(kind, key)
	if err != nil {
		return "", err
	}
	v, err := s.client.QueryGetSideValue(ctx, id)
	if err != nil || v == nil {
		return "", err
	}
	return v.Value, nil
}

// Put implements Store.
func (s *Surreal) Put(ctx context.Context, kind Kind, key models.ProgressKey, value string) error {
	id, err := storageKey(kind, key)
	if err != nil {
		return err
	}
	if value == "" {
		return s.client.QueryDeleteSideValue(ctx, id)
	}
	return s.client.QueryUpsertSideValue(ctx, id, string(kind), key.Canonical().String(), value)
}

// Close implements Store.
func (s *Surreal) Close() error {
	return s.client.Close(context.Background())
}
