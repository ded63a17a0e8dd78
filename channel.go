/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// wsEvent mirrors the named-event shape of a server-sent event stream:
// "ready" carries the initial scoped snapshot, "state" each subsequent one,
// "redirect" and "error" are terminal.
type wsEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type eventNotice struct {
	Message string `json:"message"`
}

func readyEvent(data any) wsEvent {
	return wsEvent{Event: "ready", Data: data}
}

func stateEvent(data any) wsEvent {
	return wsEvent{Event: "state", Data: data}
}

func redirectEvent(message string) wsEvent {
	return wsEvent{Event: "redirect", Data: eventNotice{Message: message}}
}

func errorEvent(message string) wsEvent {
	return wsEvent{Event: "error", Data: eventNotice{Message: message}}
}

// client is one live update channel. The server only ever pushes; the read
// side exists to notice disconnects. closed is guarded by the owning room's
// mutex once the client is attached.
type client struct {
	conn   *websocket.Conn
	send   chan wsEvent
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn: conn,
		send: make(chan wsEvent, 8),
	}
}

// trySend queues an event without blocking. A full or closed channel
// reports failure; the caller decides whether that means detach.
func (c *client) trySend(ev wsEvent) bool {
	if c.closed {
		return false
	}

	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel, which ends the write pump and in turn
// closes the socket. Safe to call more than once under the same lock.
func (c *client) shutdown() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) writePump() {
	defer c.conn.Close()

	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// waitClosed blocks until the peer goes away. Inbound frames are discarded;
// this is a push-only stream.
func (c *client) waitClosed() {
	defer c.conn.Close()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// detachLocked removes a channel from wherever it is attached on the room
// and closes it. A detached player seat stays occupied; only its connected
// flag drops.
func (r *Room) detachLocked(c *client) {
	if r.host == c {
		r.host = nil
	}

	for _, slot := range r.slots {
		if slot.ch == c {
			slot.ch = nil
			if slot.occupied() {
				slot.Occupant.Connected = false
			}
		}
	}

	c.shutdown()
}

// broadcastLocked pushes a fresh scoped snapshot to every attached channel.
// A channel that can't accept the event is treated as disconnected and
// detached; delivery to the rest continues.
func (r *Room) broadcastLocked() {
	if r.host != nil && !r.host.trySend(stateEvent(r.hostStateLocked())) {
		r.detachLocked(r.host)
	}

	for _, slot := range r.slots {
		if slot.ch != nil && !slot.ch.trySend(stateEvent(r.playerStateLocked(slot))) {
			r.detachLocked(slot.ch)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serveLiveChannel handles GET /room/:code/ws?role=&token=. A valid
// (code, role, token) triple attaches the connection and immediately pushes
// a "ready" snapshot; anything else gets an "error" event and a close.
func serveLiveChannel(cfg *Config, reg *Registry) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := strings.ToUpper(ps.ByName("code"))
		role := r.URL.Query().Get("role")
		token := r.URL.Query().Get("token")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "LIVE: Upgrade error from %s: %v", realIP(r), err)
			return
		}

		c := newClient(conn)
		go c.writePump()

		switch role {
		case "host":
			room, ok := reg.Lookup(code)
			if !ok || !attachHost(room, token, c) {
				c.trySend(errorEvent("Invalid host token or room code."))
				c.shutdown()
				return
			}

			logf(cfg, "LIVE: Host channel attached to %s", code)
			c.waitClosed()
			detach(room, c, false)

		case "player":
			room, ok := reg.Lookup(code)
			if !ok || !attachPlayer(room, token, c) {
				c.trySend(errorEvent("Invalid player access."))
				c.shutdown()
				return
			}

			logf(cfg, "LIVE: Player channel attached to %s", code)
			c.waitClosed()
			detach(room, c, true)

		default:
			c.trySend(errorEvent("Unknown connection type."))
			c.shutdown()
		}
	}
}

// attachHost binds c as the room's host channel. An already-attached host
// channel is displaced, so a reopened host tab wins.
func attachHost(room *Room, token string, c *client) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed || room.hostToken != token {
		return false
	}

	if room.host != nil {
		room.detachLocked(room.host)
	}
	room.host = c
	room.touchLocked()

	c.trySend(readyEvent(room.hostStateLocked()))
	room.broadcastLocked()

	return true
}

func attachPlayer(room *Room, token string, c *client) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.closed {
		return false
	}

	slot := room.slotByTokenLocked(token)
	if slot == nil {
		return false
	}

	if slot.ch != nil {
		room.detachLocked(slot.ch)
	}
	slot.ch = c
	slot.Occupant.Connected = true
	room.touchLocked()

	c.trySend(readyEvent(room.playerStateLocked(slot)))
	room.broadcastLocked()

	return true
}

// detach runs after the peer disconnects. Player disconnects broadcast so
// the host view shows the seat going dark; the seat itself stays occupied.
func detach(room *Room, c *client, broadcast bool) {
	room.mu.Lock()
	defer room.mu.Unlock()

	stillAttached := room.host == c
	for _, slot := range room.slots {
		if slot.ch == c {
			stillAttached = true
		}
	}
	if !stillAttached {
		// Already displaced or torn down elsewhere.
		return
	}

	room.detachLocked(c)
	room.touchLocked()

	if broadcast {
		room.broadcastLocked()
	}
}
