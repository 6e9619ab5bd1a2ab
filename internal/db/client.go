// Package db stores side values in SurrealDB so several dashboard operators
// share notes and responsible-person assignments.
package db

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrade needs HTTP/1.1; stop ALPN from negotiating h2 on wss.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// Config holds SurrealDB connection configuration.
type Config struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

// credentials builds the sign-in payload for the configured auth level.
func (cfg Config) credentials() surrealdb.Auth {
	a := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == "database" {
		a.Namespace, a.Database = cfg.Namespace, cfg.Database
	}
	return a
}

// Reconnect settings for the side store connection.
const (
	dialTimeout       = 5 * time.Second
	reconnectFirst    = time.Second
	reconnectMax      = 30 * time.Second
	reconnectAttempts = 10
	reconnectGrowth   = 2.0
)

// Client is a reconnecting SurrealDB session bound to one namespace and
// database.
type Client struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	cfg    Config
	logger logger.Logger
}

func dial(cfg Config, sdkLogger logger.Logger) *rews.Connection[*gorillaws.Connection] {
	codec := surrealcbor.New()
	// gorillaws appends /rpc itself.
	base := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(func(context.Context) (*gorillaws.Connection, error) {
		return gorillaws.New(&connection.Config{
			BaseURL:     base,
			Marshaler:   codec,
			Unmarshaler: codec,
			Logger:      sdkLogger,
		}), nil
	}, dialTimeout, codec, sdkLogger)

	backoff := rews.NewExponentialBackoffRetryer()
	backoff.InitialDelay = reconnectFirst
	backoff.MaxDelay = reconnectMax
	backoff.Multiplier = reconnectGrowth
	backoff.MaxRetries = reconnectAttempts
	conn.Retryer = backoff
	return conn
}

// NewClient opens a session: connect, sign in, select namespace and database.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())

	conn := dial(cfg, sdkLogger)
	sdkLogger.Info("opening side store session", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	db, err := surrealdb.FromConnection(ctx, conn)
	if err == nil {
		_, err = db.SignIn(ctx, cfg.credentials())
		if err != nil {
			err = fmt.Errorf("signin: %w", err)
		} else if err = db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
			err = fmt.Errorf("use %s/%s: %w", cfg.Namespace, cfg.Database, err)
		}
	} else {
		err = fmt.Errorf("from connection: %w", err)
	}
	if err != nil {
		_ = conn.Close(ctx)
		return nil, err
	}

	sdkLogger.Info("side store session ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{conn: conn, db: db, cfg: cfg, logger: sdkLogger}, nil
}

// Close ends the session.
func (c *Client) Close(ctx context.Context) error {
	c.logger.Info("closing side store session")
	return c.conn.Close(ctx)
}

// InitSchema defines the side value table.
func (c *Client) InitSchema(ctx context.Context) error {
	if _, err := surrealdb.Query[any](ctx, c.db, SchemaSQL, nil); err != nil {
		return fmt.Errorf("init schema: %w", wrapQueryError(err))
	}
	return nil
}

// WipeData deletes all side values. Use for testing only.
func (c *Client) WipeData(ctx context.Context) error {
	c.logger.Warn("wiping side values")
	if _, err := surrealdb.Query[any](ctx, c.db, "DELETE side_value", nil); err != nil {
		return fmt.Errorf("delete side_value: %w", err)
	}
	return nil
}
