// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package control

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
)

// ClientBuffer is the per-client backlog. A client that falls further
// behind loses events.
const ClientBuffer = 256

const writeWait = 5 * time.Second

var streamDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "stargate",
	Subsystem: "control",
	Name:      "stream_dropped_total",
	Help:      "Events not delivered to slow websocket clients",
})

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	send chan []byte
}

// Broadcaster fans validated bus events out to websocket clients. It is
// a protocol.Sink; Dispatch never blocks the frame loop.
//
// Thread Safety: safe for concurrent use.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	logger  *slog.Logger
}

var _ protocol.Sink = (*Broadcaster)(nil)

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[*client]struct{}),
		logger:  logger.With(slog.String("component", "stargate.control.stream")),
	}
}

// Dispatch implements protocol.Sink.
func (b *Broadcaster) Dispatch(_ protocol.Event, raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		select {
		case c.send <- raw:
		default:
			streamDropped.Inc()
		}
	}
}

// Clients returns the number of connected clients.
func (b *Broadcaster) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		close(c.send)
		delete(b.clients, c)
	}
}

func (b *Broadcaster) add() (*client, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	c := &client{send: make(chan []byte, ClientBuffer)}
	b.clients[c] = struct{}{}
	return c, true
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		close(c.send)
		delete(b.clients, c)
	}
}

// Handler upgrades the request and streams events until the client
// disconnects.
func (b *Broadcaster) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			b.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		defer ws.Close()

		cl, ok := b.add()
		if !ok {
			return
		}
		b.logger.Info("event stream client connected", slog.String("remote", c.Request.RemoteAddr))

		// Reader: only used to notice the client going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case raw, ok := <-cl.send:
				if !ok {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
						time.Now().Add(writeWait))
					return
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
					b.remove(cl)
					return
				}
			case <-gone:
				b.remove(cl)
				b.logger.Info("event stream client disconnected")
				return
			}
		}
	}
}
