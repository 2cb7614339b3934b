package nbdkit

import (
	"fmt"
	"sync"
)

// Handle is the opaque per-connection value handed to the host by open and
// passed back on every connection-scoped call.
type Handle uintptr

// handleTable maps live Handles to their Server. Ids start at 1 and are never
// reused, so a stale handle can never reach another connection's Server.
type handleTable struct {
	mu      sync.RWMutex
	next    Handle
	servers map[Handle]Server
}

func newHandleTable() *handleTable {
	return &handleTable{servers: make(map[Handle]Server)}
}

// insert stores s and returns its new Handle.
func (t *handleTable) insert(s Server) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := t.next
	t.servers[h] = s
	return h
}

// lookup returns the Server for h. An unknown handle is a host contract
// violation and panics.
func (t *handleTable) lookup(h Handle) Server {
	t.mu.RLock()
	s, ok := t.servers[h]
	t.mu.RUnlock()

	if !ok {
		panic(fmt.Sprintf("nbdkit: unknown connection handle %d", h))
	}
	return s
}

// remove deletes h and returns its Server. Removing twice panics.
func (t *handleTable) remove(h Handle) Server {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.servers[h]
	if !ok {
		panic(fmt.Sprintf("nbdkit: close of unknown connection handle %d", h))
	}
	delete(t.servers, h)
	return s
}

// len returns the number of open connections.
func (t *handleTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.servers)
}
