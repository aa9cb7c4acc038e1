package ws

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deskwatch/agent/internal/controller"
	"github.com/deskwatch/agent/internal/event"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster pushes engine notifications to connected observers. Processed
// events are batched behind a flush throttle; alerts and status changes go
// out immediately; a periodic snapshot keeps late joiners consistent.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	snapshot func() SnapshotPayload
	throttle time.Duration

	snapshotTicker *time.Ticker

	flushMu       sync.Mutex
	pendingEvents []*event.Record
	flushTimer    *time.Timer
}

// NewBroadcaster starts the snapshot loop. snapshot is called per broadcast
// cycle and must be safe for concurrent use.
func NewBroadcaster(snapshot func() SnapshotPayload, throttle, snapshotInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		clients:  make(map[*client]bool),
		snapshot: snapshot,
		throttle: throttle,
	}

	b.snapshotTicker = time.NewTicker(snapshotInterval)
	go b.snapshotLoop()

	return b
}

func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()

	data, _ := json.Marshal(WSMessage{
		Type:    MsgSnapshot,
		Payload: b.snapshot(),
	})

	select {
	case c.send <- data:
	default:
		// Client too slow, drop the snapshot
	}

	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// QueueEvent batches a processed event into the next throttled flush.
func (b *Broadcaster) QueueEvent(rec *event.Record) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.pendingEvents = append(b.pendingEvents, rec)

	if b.flushTimer == nil {
		b.flushTimer = time.AfterFunc(b.throttle, b.flush)
	}
}

// BroadcastAlert pushes an alert immediately, bypassing the event throttle.
func (b *Broadcaster) BroadcastAlert(rec *event.Record) {
	b.broadcast(WSMessage{
		Type:    MsgAlert,
		Payload: AlertPayload{Event: rec},
	})
}

// BroadcastStatus pushes a monitoring-status change immediately.
func (b *Broadcaster) BroadcastStatus(st controller.Status) {
	b.broadcast(WSMessage{
		Type:    MsgStatus,
		Payload: StatusPayload{Status: st},
	})
}

func (b *Broadcaster) flush() {
	b.flushMu.Lock()
	events := b.pendingEvents
	b.pendingEvents = nil
	b.flushTimer = nil
	b.flushMu.Unlock()

	if len(events) == 0 {
		return
	}

	b.broadcast(WSMessage{
		Type:    MsgEvents,
		Payload: EventsPayload{Events: events},
	})
}

func (b *Broadcaster) snapshotLoop() {
	for range b.snapshotTicker.C {
		b.broadcast(WSMessage{
			Type:    MsgSnapshot,
			Payload: b.snapshot(),
		})
	}
}

func (b *Broadcaster) broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("broadcast marshal error: %v", err)
		return
	}

	b.mu.RLock()
	clients := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			// Client can't keep up, disconnect it
			log.Printf("ws client too slow, disconnecting")
			b.RemoveClient(c)
		}
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
