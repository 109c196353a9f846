package com

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/lanclass/relay/pkg/api"
	"github.com/lanclass/relay/pkg/logger"
	ws "github.com/lanclass/relay/pkg/network/websocket"
)

type (
	// Connector upgrades inbound HTTP requests and dials outbound peers.
	Connector struct {
		tag string
		wu  *websocket.Upgrader
	}
	// Client is one packet-oriented connection: fire-and-forget notifies
	// plus blocking calls correlated by packet id.
	Client struct {
		id       Uid
		conn     *ws.WS
		queue    map[string]*call
		onPacket func(packet api.In)
		mu       sync.Mutex
		log      *logger.Logger
	}
	call struct {
		done     chan struct{}
		err      error
		Response api.In
	}
	Option = func(c *Connector)
)

var (
	errConnClosed = errors.New("connection closed")
	errTimeout    = errors.New("timeout")
)

func WithOrigin(origin string) Option { return func(c *Connector) { c.wu = ws.NewUpgrader(origin) } }
func WithTag(tag string) Option       { return func(c *Connector) { c.tag = tag } }

const callTimeout = 5 * time.Second

func NewConnector(opts ...Option) *Connector {
	c := &Connector{}
	for _, opt := range opts {
		opt(c)
	}
	if c.wu == nil {
		c.wu = &ws.DefaultUpgrader
	}
	return c
}

func (co *Connector) NewServer(w http.ResponseWriter, r *http.Request, log *logger.Logger) (*Client, error) {
	conn, err := co.wu.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	sock, err := ws.NewServerWithConn(conn)
	if err != nil {
		return nil, err
	}
	return connect(sock, NewUid(), co.tag, log)
}

func (co *Connector) NewClient(address url.URL, log *logger.Logger) (*Client, error) {
	sock, err := ws.NewClient(address)
	if err != nil {
		return nil, err
	}
	return connect(sock, NewUid(), co.tag, log)
}

func connect(conn *ws.WS, id Uid, tag string, log *logger.Logger) (*Client, error) {
	dir := "→"
	if conn.IsServer() {
		dir = "←"
	}
	clog := log.Extend(log.With().
		Str("cid", id.Short()).
		Str(logger.DirectionField, dir),
	)
	clog.Debug().Msg("Connect")
	client := &Client{id: id, conn: conn, queue: make(map[string]*call, 1), log: clog}
	client.conn.SetMessageHandler(client.handleMessage)
	return client, nil
}

func (c *Client) Id() Uid            { return c.id }
func (c *Client) String() string     { return c.id.String() }
func (c *Client) RemoteAddr() string { return c.conn.RemoteAddr() }

func (c *Client) OnPacket(fn func(packet api.In)) { c.mu.Lock(); c.onPacket = fn; c.mu.Unlock() }

func (c *Client) Listen() chan struct{} { return c.conn.Listen() }

func (c *Client) Disconnect() {
	c.conn.Close()
	c.drain(errConnClosed)
	c.log.Debug().Str(logger.DirectionField, "x").Msg("Close")
}

// Call makes a blocking request and waits for the response with the
// same packet id.
func (c *Client) Call(t api.PT, payload any) ([]byte, error) {
	id := NewUid().String()
	r, err := json.Marshal(api.Out{Id: id, T: uint8(t), Payload: payload})
	if err != nil {
		return nil, err
	}
	task := &call{done: make(chan struct{})}
	c.mu.Lock()
	c.queue[id] = task
	c.mu.Unlock()
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("ᵇ%v", t)
	c.conn.Write(r)
	select {
	case <-task.done:
	case <-time.After(callTimeout):
		task.err = errTimeout
	}
	return task.Response.Payload, task.err
}

// Notify just sends a message and goes further.
func (c *Client) Notify(t api.PT, payload any) {
	r, err := json.Marshal(api.Out{T: uint8(t), Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Msgf("notify %v", t)
		return
	}
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("%v", t)
	c.conn.Write(r)
}

// Route replies to the in packet preserving its id, so the other side
// can match the response to a pending call.
func (c *Client) Route(in api.In, payload any) {
	r, err := json.Marshal(api.Out{Id: in.Id, T: uint8(in.T), Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Msgf("route %v", in.T)
		return
	}
	c.conn.Write(r)
}

func (c *Client) handleMessage(message []byte, err error) {
	if err != nil {
		return
	}
	var res api.In
	if err = json.Unmarshal(message, &res); err != nil {
		c.log.Error().Err(err).Msg("malformed packet")
		return
	}
	// a non-empty id may be a response to a tracked call
	if res.Id != "" {
		if task := c.pop(res.Id); task != nil {
			task.Response = res
			close(task.done)
			return
		}
	}
	c.mu.Lock()
	fn := c.onPacket
	c.mu.Unlock()
	if fn != nil {
		c.log.Debug().Str(logger.DirectionField, "←").Msgf("%v", res.T)
		fn(res)
	}
}

// pop extracts and removes a task from the queue by its id.
func (c *Client) pop(id string) *call {
	c.mu.Lock()
	task := c.queue[id]
	delete(c.queue, id)
	c.mu.Unlock()
	return task
}

// drain cancels all what's left in the task queue.
func (c *Client) drain(err error) {
	c.mu.Lock()
	for id, task := range c.queue {
		if task.err == nil {
			task.err = err
		}
		close(task.done)
		delete(c.queue, id)
	}
	c.mu.Unlock()
}
