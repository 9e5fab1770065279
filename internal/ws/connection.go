package ws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"palaver/internal/models"
	"palaver/internal/presence"
)

type wsConnection interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type registry interface {
	Register(userID string, conn presence.Conn)
	Unregister(userID string, conn presence.Conn)
}

const pushBuffer = 100

// Connection couples one websocket to one identity for the lifetime
// of the socket. It registers itself in the presence registry on
// Handle and performs a guarded unregister on teardown, so a late
// disconnect never evicts a newer connection for the same identity.
type Connection struct {
	ws         wsConnection
	registry   registry
	userID     string
	fromServer chan models.Event
	errorCh    chan error
}

func NewConnection(registry registry, ws wsConnection, userID string) *Connection {
	return &Connection{
		ws:         ws,
		registry:   registry,
		userID:     userID,
		fromServer: make(chan models.Event, pushBuffer),
		errorCh:    make(chan error, 2),
	}
}

// Push implements presence.Conn. Delivery is best-effort: if the
// connection cannot take the event, it is dropped and the error is
// reported to the caller, never blocking the sender.
func (c *Connection) Push(ev models.Event) error {
	select {
	case c.fromServer <- ev:
		return nil
	default:
		return fmt.Errorf("connection buffer full for user %s", c.userID)
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.registry.Register(c.userID, c)
	defer func() {
		close(c.errorCh)
		// Guarded: only removes this connection, not a newer one.
		c.registry.Unregister(c.userID, c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.readLoop(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.writeLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// readLoop drains client frames. Sends go through the REST surface;
// inbound frames only matter for detecting disconnect.
func (c *Connection) readLoop(ctx context.Context) error {
	for {
		var frame map[string]any
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context) error {
	for {
		select {
		case ev := <-c.fromServer:
			if err := c.ws.WriteJSON(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
