// Package bridge streams session events to websocket clients, and executes
// the commands they send.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/commands"
	"github.com/bluetuith-org/api-ble/api/eventbus"
	"github.com/bluetuith-org/api-ble/api/helpers/serde"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultWriteTimeout = 2 * time.Second
	defaultPingInterval = 30 * time.Second

	shutdownTimeout = 5 * time.Second
)

// Session describes the session operations used by the bridge.
type Session interface {
	Subscribe(ids ...bluetooth.EventID) *eventbus.Subscription
	Handle(req commands.Request) commands.Response
}

// Server is a websocket endpoint. Every client receives all published
// events, and may send command payloads, which are answered with a response.
type Server struct {
	session  Session
	upgrader websocket.Upgrader

	writeTimeout time.Duration
	pingInterval time.Duration

	ids     atomic.Int64
	clients *xsync.MapOf[int64, *client]

	log logrus.FieldLogger
}

type client struct {
	id   int64
	conn *websocket.Conn
	sub  *eventbus.Subscription

	writeTimeout time.Duration
	wmu          sync.Mutex

	once sync.Once
	log  logrus.FieldLogger
}

// Option configures a Server.
type Option func(s *Server)

// WithWriteTimeout sets the deadline of each write to a client.
// Clients which do not accept a write in time are disconnected.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(s *Server) {
		if timeout > 0 {
			s.writeTimeout = timeout
		}
	}
}

// WithPingInterval sets the interval of keepalive pings.
func WithPingInterval(interval time.Duration) Option {
	return func(s *Server) {
		if interval > 0 {
			s.pingInterval = interval
		}
	}
}

// WithLogger sets the logger of the server.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New returns a new bridge for the provided session.
func New(session Session, opts ...Option) *Server {
	s := &Server{
		session: session,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		clients:      xsync.NewMapOf[int64, *client](),
		log:          logrus.StandardLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.WithField("component", "bridge")

	return s
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	return s.clients.Size()
}

// ListenAndServe serves the bridge on the provided address until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, address string) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		errs <- srv.ListenAndServe()
	}()

	s.log.WithField("address", address).Info("Bridge listening")

	select {
	case err := <-errs:
		return fault.Wrap(err,
			fctx.With(context.Background(), "address", address),
			ftag.With(ftag.Internal),
			fmsg.With("Bridge stopped unexpectedly"),
		)

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fault.Wrap(err,
			fctx.With(context.Background(), "address", address),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot shut down the bridge"),
		)
	}

	return nil
}

// Close disconnects all clients.
func (s *Server) Close() {
	s.clients.Range(func(_ int64, c *client) bool {
		c.close()
		return true
	})
}

// ServeHTTP upgrades the request to a websocket connection, and serves
// the client until it disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).WithField("remote", r.RemoteAddr).Warn("Cannot upgrade connection")
		return
	}

	c := &client{
		id:           s.ids.Add(1),
		conn:         conn,
		sub:          s.session.Subscribe(),
		writeTimeout: s.writeTimeout,
	}
	c.log = s.log.WithFields(logrus.Fields{"client": c.id, "remote": r.RemoteAddr})

	s.clients.Store(c.id, c)
	defer s.clients.Delete(c.id)
	defer c.close()

	c.log.Info("Client connected")

	done := make(chan struct{})
	defer close(done)

	go c.pushEvents()
	go c.keepalive(s.pingInterval, done)

	c.readCommands(s.session, s.pingInterval)

	c.log.Info("Client disconnected")
}

func (c *client) pushEvents() {
	for ev := range c.sub.C {
		data, err := bluetooth.MarshalEvent(ev)
		if err != nil {
			c.log.WithError(err).WithField("event", ev.EventID()).Error("Cannot encode event")
			continue
		}

		if err := c.write(websocket.TextMessage, data); err != nil {
			c.log.WithError(err).Debug("Cannot write event, dropping client")
			c.close()

			return
		}
	}

	// The session was closed.
	c.close()
}

func (c *client) readCommands(session Session, pingInterval time.Duration) {
	readTimeout := 2 * pingInterval

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("Connection closed")
			}

			return
		}
		c.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if kind != websocket.TextMessage {
			continue
		}

		var resp commands.Response

		req, err := commands.ParseRequest(data)
		if err != nil {
			c.log.WithError(err).Warn("Invalid command")
			resp = commands.Failed(req, err)
		} else {
			resp = session.Handle(req)
		}

		reply, err := serde.MarshalJson(resp)
		if err != nil {
			c.log.WithError(err).Error("Cannot encode response")
			continue
		}

		if err := c.write(websocket.TextMessage, reply); err != nil {
			c.log.WithError(err).Debug("Cannot write response")
			return
		}
	}
}

func (c *client) keepalive(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("Ping failed")
				c.close()

				return
			}
		}
	}
}

func (c *client) write(kind int, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	return c.conn.WriteMessage(kind, data)
}

func (c *client) close() {
	c.once.Do(func() {
		c.sub.Close()
		c.conn.Close()
	})
}
