package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// a base64 thumbnail or a chunk-carrying control packet can get large
	maxMessageSize = 4 * 1024 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
)

type MessageHandler func(message []byte, err error)

// WS wraps one gorilla connection with serialized reader/writer pumps.
// Sends never block the caller: a message that cannot be buffered for a
// slow peer is dropped, which suits a latest-value frame pipeline.
type WS struct {
	conn    deadlinedConn
	send    chan []byte
	handler MessageHandler

	pingPong bool

	mu     sync.Mutex
	closed bool
	once   sync.Once
	done   chan struct{}
}

var DefaultUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	WriteBufferPool: &sync.Pool{},
}

// NewUpgrader makes an upgrader with a custom allowed origin,
// or any origin when origin is *.
func NewUpgrader(origin string) *websocket.Upgrader {
	u := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
	}
	if origin == "*" {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	} else if origin != "" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// NewServerWithConn wraps an already upgraded server-side connection.
func NewServerWithConn(conn *websocket.Conn) (*WS, error) {
	return newSocket(conn, true), nil
}

func NewClient(address url.URL) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false), nil
}

func newSocket(conn *websocket.Conn, pingPong bool) *WS {
	return &WS{
		conn:     deadlinedConn{sock: conn, wt: writeWait},
		send:     make(chan []byte, 64),
		pingPong: pingPong,
		done:     make(chan struct{}),
	}
}

func (ws *WS) SetMessageHandler(fn MessageHandler) { ws.handler = fn }

func (ws *WS) IsServer() bool { return ws.pingPong }

func (ws *WS) RemoteAddr() string { return ws.conn.sock.RemoteAddr().String() }

// Listen starts both pumps and returns a channel closed on disconnect.
func (ws *WS) Listen() chan struct{} {
	go ws.writer()
	go ws.reader()
	return ws.done
}

// reader pumps messages from the websocket connection to the handler.
// Serializes all websocket reads.
func (ws *WS) reader() {
	defer func() {
		ws.Close()
		ws.shut()
	}()
	ws.conn.sock.SetReadLimit(maxMessageSize)
	if ws.pingPong {
		_ = ws.conn.sock.SetReadDeadline(time.Now().Add(pongTime))
		ws.conn.sock.SetPongHandler(func(string) error {
			return ws.conn.sock.SetReadDeadline(time.Now().Add(pongTime))
		})
	}
	for {
		message, err := ws.conn.read()
		if err != nil {
			return
		}
		if ws.handler != nil {
			ws.handler(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket connection.
// Serializes all websocket writes.
func (ws *WS) writer() {
	var ticker *time.Ticker
	if ws.pingPong {
		ticker = time.NewTicker(pingTime)
		defer ticker.Stop()
	} else {
		ticker = time.NewTicker(time.Hour)
		ticker.Stop()
	}
	defer ws.shut()
	for {
		select {
		case message, ok := <-ws.send:
			if !ok {
				_ = ws.conn.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Write queues a message for the writer pump; drops when the peer
// cannot keep up or the connection is gone.
func (ws *WS) Write(data []byte) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return
	}
	select {
	case ws.send <- data:
	default:
	}
}

// Close stops the send side; the pumps wind down and release the
// underlying connection.
func (ws *WS) Close() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if !ws.closed {
		ws.closed = true
		close(ws.send)
	}
}

func (ws *WS) shut() {
	ws.once.Do(func() {
		_ = ws.conn.close()
		close(ws.done)
	})
}
