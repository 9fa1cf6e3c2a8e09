package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/api-ble/api/bluetooth"
	"github.com/bluetuith-org/api-ble/api/commands"
	"github.com/bluetuith-org/api-ble/api/errorkinds"
	"github.com/bluetuith-org/api-ble/api/eventbus"
	"github.com/bluetuith-org/api-ble/api/helpers/serde"
	sstore "github.com/bluetuith-org/api-ble/api/helpers/sessionstore"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
)

// ClientReplyTimeout bounds how long a command waits for its response.
const ClientReplyTimeout = 5 * time.Second

// Client is a remote session, connected to a bridge. Events received from
// the bridge are republished on a local bus, and tracked in a local store.
type Client struct {
	conn *websocket.Conn
	wmu  sync.Mutex

	id       atomic.Int64
	requests *xsync.MapOf[commands.RequestID, chan commands.Response]

	bus      *eventbus.Bus
	store    sstore.SessionStore
	storeSub *eventbus.Subscription

	closed atomic.Bool
	done   chan struct{}

	log logrus.FieldLogger
}

type frameHeader struct {
	EventID string `json:"event_id"`
}

// Dial connects to a bridge at the provided websocket URL.
func Dial(ctx context.Context, url string, log logrus.FieldLogger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "url", url),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot connect to the bridge"),
		)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Client{
		conn:     conn,
		requests: xsync.NewMapOf[commands.RequestID, chan commands.Response](),
		bus:      eventbus.New(eventbus.WithLogger(log)),
		store:    sstore.NewSessionStore(),
		done:     make(chan struct{}),
		log:      log.WithFields(logrus.Fields{"component": "bridge-client", "url": url}),
	}

	c.storeSub = c.bus.Subscribe()
	c.storeSub.Listen(c.store.Apply)

	go c.listen()

	return c, nil
}

// Subscribe returns a subscription to events received from the bridge.
func (c *Client) Subscribe(ids ...bluetooth.EventID) *eventbus.Subscription {
	return c.bus.Subscribe(ids...)
}

// Peripherals returns a snapshot of the peripherals seen in received events.
func (c *Client) Peripherals() []bluetooth.PeripheralRecord {
	return c.store.Peripherals()
}

// Peripheral returns a snapshot of a peripheral seen in received events.
func (c *Client) Peripheral(id bluetooth.PeripheralID) (bluetooth.PeripheralRecord, bool) {
	return c.store.Peripheral(id)
}

// Execute sends a command to the bridge and waits for its response.
// The returned data is decoded generically.
func (c *Client) Execute(cmd commands.Command) (any, error) {
	resp, err := c.Do(cmd)
	if err != nil {
		return nil, err
	}

	return resp.Data, resp.Err()
}

// Do sends a command to the bridge and returns its response.
func (c *Client) Do(cmd commands.Command) (commands.Response, error) {
	if c.closed.Load() {
		return commands.Response{}, errorkinds.ErrSessionNotExist
	}

	req := commands.Request{ID: commands.RequestID(c.id.Add(1)), Command: cmd}

	data, err := req.Marshal()
	if err != nil {
		return commands.Response{}, err
	}

	reply := make(chan commands.Response, 1)
	c.requests.Store(req.ID, reply)
	defer c.requests.Delete(req.ID)

	if err := c.write(data); err != nil {
		return commands.Response{}, fault.Wrap(err,
			fctx.With(context.Background(), "command", cmd.Name().String()),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot send command to the bridge"),
		)
	}

	timer := time.NewTimer(ClientReplyTimeout)
	defer timer.Stop()

	select {
	case resp := <-reply:
		return resp, nil

	case <-c.done:
		return commands.Response{}, errorkinds.ErrSessionNotExist

	case <-timer.C:
		return commands.Response{}, fault.Wrap(errorkinds.ErrMethodTimeout,
			fctx.With(context.Background(), "command", cmd.Name().String()),
			ftag.With(errorkinds.Timeout),
			fmsg.With("Bridge did not answer the command in time"),
		)
	}
}

// Close disconnects from the bridge, and closes all subscriptions.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return errorkinds.ErrSessionNotExist
	}

	c.wmu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	c.wmu.Unlock()

	err := c.conn.Close()
	<-c.done

	return err
}

func (c *Client) listen() {
	defer func() {
		c.closed.Store(true)
		close(c.done)
		c.bus.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.log.WithError(err).Warn("Bridge connection lost")
			}

			return
		}

		var header frameHeader
		if err := serde.UnmarshalJson(data, &header); err != nil {
			c.log.WithError(err).Debug("Cannot decode frame")
			continue
		}

		if header.EventID != "" {
			ev, err := bluetooth.UnmarshalEvent(data)
			if err != nil {
				c.log.WithError(err).WithField("event", header.EventID).Debug("Cannot decode event")
				continue
			}

			c.bus.Publish(ev)

			continue
		}

		var resp commands.Response
		if err := serde.UnmarshalJson(data, &resp); err != nil {
			c.log.WithError(err).Debug("Cannot decode response")
			continue
		}

		if reply, ok := c.requests.LoadAndDelete(resp.RequestID); ok {
			reply <- resp
		}
	}
}

func (c *Client) write(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}

	return c.conn.WriteMessage(websocket.TextMessage, data)
}
