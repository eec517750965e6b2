// Package gateway hosts one view binding per websocket connection. Each
// connection gets its own session, profile cache, catalog loader and event
// loop over the shared backends.
package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/catalog-sync/internal/binding"
	"github.com/xenking/catalog-sync/internal/catalog"
	"github.com/xenking/catalog-sync/internal/domain/apperr"
	"github.com/xenking/catalog-sync/internal/domain/blob"
	"github.com/xenking/catalog-sync/internal/domain/identity"
	"github.com/xenking/catalog-sync/internal/domain/realtime"
	"github.com/xenking/catalog-sync/internal/loop"
	"github.com/xenking/catalog-sync/internal/profile"
	"github.com/xenking/catalog-sync/internal/resume"
	"github.com/xenking/catalog-sync/internal/session"
)

// Backends are shared by every connection.
type Backends struct {
	Auth  identity.Authenticator
	Store realtime.Store
	Blobs blob.Store
}

// Options configure the gateway.
type Options struct {
	Locale          apperr.Locale
	DefaultPhotoURL string
	// CheckOrigin decides whether an upgrade request is accepted. Nil
	// accepts same-origin requests only.
	CheckOrigin func(*http.Request) bool

	ReadLimit    int64
	WriteTimeout time.Duration
	PingInterval time.Duration

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

func (o *Options) setDefaults() {
	if o.Locale == "" {
		o.Locale = apperr.English
	}
	if o.ReadLimit == 0 {
		// Room for a base64 encoded product image.
		o.ReadLimit = 8 << 20
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval == 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.MeterProvider == nil {
		o.MeterProvider = metricnoop.NewMeterProvider()
	}
	if o.TracerProvider == nil {
		o.TracerProvider = tracenoop.NewTracerProvider()
	}
}

// Server upgrades device connections.
type Server struct {
	backends Backends
	opts     Options
	upgrader websocket.Upgrader
	metrics  *gatewayMetrics
	lg       *zap.Logger
}

// New creates a Server.
func New(backends Backends, opts Options, lg *zap.Logger) (*Server, error) {
	opts.setDefaults()
	m, err := newGatewayMetrics(opts.MeterProvider.Meter("gateway"))
	if err != nil {
		return nil, err
	}
	return &Server{
		backends: backends,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		metrics: m,
		lg:      lg,
	}, nil
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())
	if lg == nil {
		lg = s.lg
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg.Debug("Upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = ws.Close() }()

	locale := s.opts.Locale
	if v := r.URL.Query().Get("locale"); v != "" {
		locale = apperr.ParseLocale(v)
	}

	s.metrics.connected(1)
	defer s.metrics.connected(-1)

	lg.Info("Client connected", zap.String("remote", r.RemoteAddr), zap.String("locale", string(locale)))
	if err := s.serve(r.Context(), ws, locale, lg); err != nil {
		lg.Warn("Connection failed", zap.Error(err))
		return
	}
	lg.Info("Client disconnected")
}

func (s *Server) serve(ctx context.Context, ws *websocket.Conn, locale apperr.Locale, lg *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := newClient(ws, s.opts.WriteTimeout, s.metrics, lg)
	defer c.close()

	sess := session.New(s.backends.Auth, lg)
	profiles := profile.New(sess, lg)
	loader, err := catalog.NewLoader(s.backends.Store, s.backends.Blobs, lg,
		catalog.WithMeterProvider(s.opts.MeterProvider),
		catalog.WithTracerProvider(s.opts.TracerProvider),
	)
	if err != nil {
		sess.Close()
		return errors.Wrap(err, "create loader")
	}
	b := binding.New(binding.Params{
		Session:         sess,
		Profiles:        profiles,
		Catalog:         loader,
		Resume:          resume.New(sess, loader, lg),
		Loop:            loop.New(lg),
		View:            c,
		Presenter:       c,
		Haptics:         c,
		Logger:          lg,
		Locale:          locale,
		DefaultPhotoURL: s.opts.DefaultPhotoURL,
	})

	// Commands run one at a time, in arrival order, off the read goroutine
	// so that a command waiting on a dialog does not block its answer.
	commands := loop.New(lg)

	binderDone := make(chan struct{})
	go func() {
		defer close(binderDone)
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Warn("Binder stopped", zap.Error(err))
		}
	}()
	commandsDone := make(chan struct{})
	go func() {
		defer close(commandsDone)
		_ = commands.Run(ctx)
	}()
	go s.keepAlive(ctx, c)

	err = s.read(ctx, ws, c, b, commands)
	cancel()
	c.close()
	<-commandsDone
	<-binderDone
	return err
}

func (s *Server) keepAlive(ctx context.Context, c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) read(ctx context.Context, ws *websocket.Conn, c *client, b *binding.Binder, commands *loop.Loop) error {
	deadline := 2 * s.opts.PingInterval
	ws.SetReadLimit(s.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read")
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))

		msg, err := decodeClientMessage(data)
		if err != nil {
			c.lg.Debug("Bad message", zap.Error(err))
			continue
		}
		s.metrics.receivedMsg(msg.Type)

		if msg.Type == msgDialogResult {
			if !c.answer(msg.DialogID, msg.Button) {
				c.lg.Debug("Stale dialog result", zap.String("dialog_id", msg.DialogID))
			}
			continue
		}
		if err := commands.Post(func() { s.dispatch(ctx, c, b, msg) }); err != nil {
			return nil
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, b *binding.Binder, m clientMessage) {
	switch m.Type {
	case msgLogin:
		b.Login(ctx, m.Email, m.Password)
	case msgRegister:
		b.Register(ctx, m.Email, m.Password, m.DisplayName)
	case msgLogout:
		b.Logout(ctx)
	case msgAddProduct:
		b.QuickAdd(ctx, m.Name, m.Description)
	case msgSaveProduct:
		req := catalog.SaveRequest{
			ProductID: m.ProductID,
			Draft:     m.draft(),
			Image:     m.Image,
		}
		if m.Image != nil {
			req.Progress = func(p blob.Progress) { c.send(msgUploadProgress, encodeUploadProgress(p)) }
		}
		id, ok := b.SaveProduct(ctx, req)
		c.send(msgSaveResult, encodeSaveResult(id, ok))
	case msgDeleteProduct:
		b.DeleteProduct(ctx, m.ProductID)
	case msgUpdateProfile:
		b.UpdateProfile(ctx, binding.ProfileUpdate{
			DisplayName:     m.DisplayName,
			Email:           m.Email,
			NewPassword:     m.NewPassword,
			ConfirmPassword: m.ConfirmPassword,
		})
	case msgSearch:
		_ = b.Search(ctx, m.Query)
	case msgMenu:
		b.OpenMenu(ctx)
	case msgResume:
		_ = b.Resume(ctx)
	default:
		c.lg.Debug("Unknown message", zap.String("type", m.Type))
	}
}
