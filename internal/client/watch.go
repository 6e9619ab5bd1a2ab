package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/rackpatch/internal/models"
)

// WatchOptions filters the change feed server-side.
type WatchOptions struct {
	SiteUnit string
	Process  string
}

// Watch connects to a rackpatch server's /ws change feed and invokes onEvent
// for every event until ctx is cancelled, the server closes the stream, or
// onEvent returns an error.
func Watch(ctx context.Context, serverURL string, opts WatchOptions, onEvent func(models.Event) error) error {
	wsEndpoint := strings.TrimRight(serverURL, "/")
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/ws")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	if opts.SiteUnit != "" {
		q.Set("su", opts.SiteUnit)
	}
	if opts.Process != "" {
		q.Set("process", opts.Process)
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
}
