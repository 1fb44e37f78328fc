// Package net is the native "net" module from SPEC_FULL.md §3.2: a
// thin websocket dial/listen/send/recv surface over
// github.com/gorilla/websocket, grounded on the teacher's
// internal/network websocket.go/websocket_server.go connection-table
// pattern but registered as native functions through the FFI rather
// than called from Go-side module code directly.
package net

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"noct/internal/errors"
	"noct/internal/value"
	"noct/internal/vm"
)

var dialer = websocket.Dialer{HandshakeTimeout: 10 * time.Second}
var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Manager owns every open websocket connection a script has dialed or
// accepted, keyed by an opaque id handed back to the script.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]*conn
	nextID  int64
	servers map[string]*http.Server
}

func NewManager() *Manager {
	return &Manager{conns: map[string]*conn{}, servers: map[string]*http.Server{}}
}

func (m *Manager) newID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, atomic.AddInt64(&m.nextID, 1))
}

// Register installs net.dial/net.send/net.recv/net.close/net.listen
// against v, all backed by m.
func Register(v *vm.VM, m *Manager) {
	v.RegisterNative("net.dial", m.dial)
	v.RegisterNative("net.send", m.send)
	v.RegisterNative("net.recv", m.recv)
	v.RegisterNative("net.close", m.close)
	v.RegisterNative("net.listen", m.listen)
}

func argString(args []value.Value, i int) (string, bool) {
	if i >= len(args) || args[i].Kind != value.String {
		return "", false
	}
	return args[i].Obj.Str, true
}

// dial(url) -> connection id
func (m *Manager) dial(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	url, ok := argString(args, 0)
	if !ok {
		return value.NullValue(), fail(vmi, "net.dial expects (url)")
	}
	ws, _, err := dialer.Dial(url, nil)
	if err != nil {
		return value.NullValue(), fail(vmi, "net.dial: %v", err)
	}
	id := m.newID("ws")
	m.mu.Lock()
	m.conns[id] = &conn{ws: ws}
	m.mu.Unlock()
	return value.StringValue(vmi.Heap.Intern(id)), true
}

// send(id, text) -> 1
func (m *Manager) send(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	id, ok1 := argString(args, 0)
	text, ok2 := argString(args, 1)
	if !ok1 || !ok2 {
		return value.NullValue(), fail(vmi, "net.send expects (id, text)")
	}
	c, ok := m.lookup(vmi, id)
	if !ok {
		return value.NullValue(), false
	}
	c.mu.Lock()
	err := c.ws.WriteMessage(websocket.TextMessage, []byte(text))
	c.mu.Unlock()
	if err != nil {
		return value.NullValue(), fail(vmi, "net.send: %v", err)
	}
	return value.IntValue(1), true
}

// recv(id) -> next text frame, blocking.
func (m *Manager) recv(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	id, ok := argString(args, 0)
	if !ok {
		return value.NullValue(), fail(vmi, "net.recv expects (id)")
	}
	c, ok := m.lookup(vmi, id)
	if !ok {
		return value.NullValue(), false
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return value.NullValue(), fail(vmi, "net.recv: %v", err)
	}
	return value.StringValue(vmi.Heap.Intern(string(data))), true
}

func (m *Manager) close(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	id, ok := argString(args, 0)
	if !ok {
		return value.NullValue(), fail(vmi, "net.close expects (id)")
	}
	m.mu.Lock()
	c, found := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if !found {
		return value.NullValue(), fail(vmi, "net.close: no connection %q", id)
	}
	c.ws.Close()
	return value.IntValue(1), true
}

// listen(addr, path) -> server id. Each accepted connection is
// registered under its own id in the same table as dialed ones, so
// net.send/net.recv work against it uniformly; no native function
// returns an accepted connection's id to the script.
func (m *Manager) listen(vmi *vm.VM, args []value.Value) (value.Value, bool) {
	addr, ok1 := argString(args, 0)
	path, ok2 := argString(args, 1)
	if !ok1 || !ok2 {
		return value.NullValue(), fail(vmi, "net.listen expects (addr, path)")
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errors.Warnf("net.listen: upgrade failed: %v", err)
			return
		}
		id := m.newID("ws")
		m.mu.Lock()
		m.conns[id] = &conn{ws: ws}
		m.mu.Unlock()
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	id := m.newID("srv")
	m.mu.Lock()
	m.servers[id] = srv
	m.mu.Unlock()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errors.Warnf("net.listen: %v", err)
		}
	}()
	return value.StringValue(vmi.Heap.Intern(id)), true
}

func (m *Manager) lookup(vmi *vm.VM, id string) (*conn, bool) {
	m.mu.Lock()
	c, found := m.conns[id]
	m.mu.Unlock()
	if !found {
		fail(vmi, "net: no connection %q", id)
		return nil, false
	}
	return c, true
}

func fail(vmi *vm.VM, format string, args ...interface{}) bool {
	vmi.Errs.Setf(errors.Runtime, vmi.File, 0, format, args...)
	return false
}
