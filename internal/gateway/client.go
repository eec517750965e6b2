package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/binding"
)

// ErrDisconnected is returned by dialogs pending when the connection closes.
var ErrDisconnected = errors.New("client disconnected")

var (
	_ binding.View      = (*client)(nil)
	_ binding.Presenter = (*client)(nil)
	_ binding.Haptics   = (*client)(nil)
)

// client is the device side of one connection. It renders the binder's
// output as protocol messages and tracks dialogs awaiting an answer.
type client struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
	metrics      *gatewayMetrics
	lg           *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan string
	closed  bool
}

func newClient(ws *websocket.Conn, writeTimeout time.Duration, m *gatewayMetrics, lg *zap.Logger) *client {
	return &client{
		ws:           ws,
		writeTimeout: writeTimeout,
		metrics:      m,
		lg:           lg,
		pending:      map[string]chan string{},
	}
}

func (c *client) send(kind string, data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.lg.Debug("Write failed", zap.String("message", kind), zap.Error(err))
		return
	}
	c.metrics.sent(kind)
}

func (c *client) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *client) RenderProfile(v binding.ProfileView) { c.send(msgProfile, encodeProfile(v)) }

func (c *client) RenderCatalog(v binding.CatalogView) { c.send(msgCatalog, encodeCatalog(v)) }

func (c *client) Navigate(r binding.Route) { c.send(msgNavigate, encodeNavigate(r)) }

func (c *client) Notify(f binding.Feedback) { c.send(msgHaptic, encodeHaptic(f)) }

func (c *client) Alert(d binding.Dialog) { c.send(msgDialog, encodeDialog("", dialogAlert, d)) }

func (c *client) Confirm(ctx context.Context, d binding.Dialog) (string, error) {
	return c.ask(ctx, dialogConfirm, d)
}

func (c *client) ActionSheet(ctx context.Context, d binding.Dialog) (string, error) {
	return c.ask(ctx, dialogActionSheet, d)
}

// ask shows d and waits for the matching dialog_result. An empty or unknown
// button is treated as dismissal and answered with the cancel button.
func (c *client) ask(ctx context.Context, kind string, d binding.Dialog) (string, error) {
	id := uuid.NewString()
	answer := make(chan string, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrDisconnected
	}
	c.pending[id] = answer
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.send(msgDialog, encodeDialog(id, kind, d))

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case button, ok := <-answer:
		if !ok {
			return "", ErrDisconnected
		}
		for _, b := range d.Buttons {
			if b.ID == button {
				return button, nil
			}
		}
		return cancelButton(d), nil
	}
}

// answer routes a dialog_result to the waiting dialog.
func (c *client) answer(dialogID, button string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[dialogID]
	if !ok {
		return false
	}
	delete(c.pending, dialogID)
	ch <- button
	return true
}

// close fails every pending dialog.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func cancelButton(d binding.Dialog) string {
	for _, b := range d.Buttons {
		if b.Role == binding.RoleCancel {
			return b.ID
		}
	}
	return binding.ButtonCancel
}
