package inbound

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sttrelay/internal/core"
)

var ErrClosed = errors.New("connection closed")

type ConnOptions struct {
	ReadLimit  int64
	PingPeriod time.Duration
	WriteWait  time.Duration
}

// WsStreamConn is a core.InboundChannel over a gorilla websocket.
// Receive must be called from one goroutine; SendJSON and Close may be
// called from any.
type WsStreamConn struct {
	conn *websocket.Conn
	opts ConnOptions

	writeMu sync.Mutex
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

func NewWsStreamConn(conn *websocket.Conn, opts ConnOptions) *WsStreamConn {
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	c := &WsStreamConn{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	if opts.PingPeriod > 0 {
		pongWait := opts.PingPeriod * 10 / 9
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go c.pingLoop()
	}
	return c
}

func (c *WsStreamConn) Receive() (core.InboundMessage, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				return core.InboundMessage{}, core.ErrDisconnected
			}
			return core.InboundMessage{}, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return core.InboundMessage{Kind: core.MessageBinary, Data: data}, nil
		case websocket.TextMessage:
			return core.InboundMessage{Kind: core.MessageText, Data: data}, nil
		}
	}
}

func (c *WsStreamConn) SendJSON(v any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket. Only the first
// call has any effect.
func (c *WsStreamConn) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

func (c *WsStreamConn) pingLoop() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				log.Debug().Err(err).Str("module", "inbound").Msg("ping failed")
				return
			}
		}
	}
}
