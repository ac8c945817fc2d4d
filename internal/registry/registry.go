// Package registry implements the process-wide client registry: the
// free-list of small client ids and the broadcast fan-out to connected
// clients. It is deliberately ignorant of game rules; the game state
// machine (internal/game) decides who is a player versus a spectator.
package registry

import (
	"container/heap"
	"sync"

	"github.com/kstaniek/battleship-server/internal/logging"
	"github.com/kstaniek/battleship-server/internal/metrics"
	"github.com/kstaniek/battleship-server/internal/protocol"
	"github.com/kstaniek/battleship-server/internal/reliability"
)

// MinClientID and MaxClientID bound the assignable id space; id 0 is
// reserved for frames originated by the server itself.
const (
	MinClientID = 1
	MaxClientID = 127
)

// Role distinguishes a spectator from an active player.
type Role int

const (
	RoleSpectator Role = iota
	RolePlayer
)

// Client is one connected peer. Role and Username are mutated by the game
// under clientMu as the session progresses through identify and
// promotion; Channel is used only by the client's own session (its reader,
// writer and retransmit loops).
type Client struct {
	ID uint8

	Out    chan protocol.Frame
	Closed chan struct{}

	Channel *reliability.PeerChannel

	clientMu sync.Mutex
	role     Role
	username string

	closeOnce sync.Once
}

// NewClient constructs a Client with role=SPECTATOR and a fresh PeerChannel.
func NewClient(id uint8, outBuf int) *Client {
	return &Client{
		ID:      id,
		Out:     make(chan protocol.Frame, outBuf),
		Closed:  make(chan struct{}),
		Channel: reliability.New(),
	}
}

// Role returns the client's current role.
func (c *Client) Role() Role {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	return c.role
}

// SetRole updates the client's role (called by the game driver on promotion
// or demotion).
func (c *Client) SetRole(r Role) {
	c.clientMu.Lock()
	c.role = r
	c.clientMu.Unlock()
}

// Username returns the identity captured from the first CONNECT frame.
func (c *Client) Username() string {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	return c.username
}

// SetUsername records the identity asserted by the peer's CONNECT frame.
func (c *Client) SetUsername(u string) {
	c.clientMu.Lock()
	c.username = u
	c.clientMu.Unlock()
}

// Close marks the client as closed, signalling its writer to exit.
// Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.Closed) })
}

// Send enqueues a frame for asynchronous delivery, honoring backpressure by
// dropping the frame (and counting it) rather than blocking the caller —
// broadcasts must never stall on one slow peer.
func (c *Client) Send(f protocol.Frame) {
	select {
	case c.Out <- f:
	default:
		metrics.IncError("client_send_drop")
	}
}

// idHeap is a min-heap of free client ids.
type idHeap []uint8

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(uint8)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Registry is the process-wide client set and free-id pool described by the
// session protocol core. Guarded by a single registry lock; never held
// across transport I/O (per the concurrency model's lock ordering
// registry -> game -> per-client).
type Registry struct {
	mu      sync.RWMutex
	clients map[uint8]*Client
	order   []uint8 // insertion order, for deterministic iteration
	freeIDs idHeap
}

// New constructs a Registry with free ids 1..127 pre-populated.
func New() *Registry {
	r := &Registry{clients: make(map[uint8]*Client)}
	for id := MinClientID; id <= MaxClientID; id++ {
		r.freeIDs = append(r.freeIDs, uint8(id))
	}
	heap.Init(&r.freeIDs)
	return r
}

// ErrFull is returned by Accept when no free id remains.
type ErrFull struct{}

func (ErrFull) Error() string { return "registry: no free client ids" }

// Accept pops the smallest free id, constructs a Client and registers it.
// Returns ErrFull if the pool is empty.
func (r *Registry) Accept(outBuf int) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.freeIDs) == 0 {
		metrics.IncSessionRejected()
		return nil, ErrFull{}
	}
	id := heap.Pop(&r.freeIDs).(uint8)
	cl := NewClient(id, outBuf)
	r.clients[id] = cl
	r.order = append(r.order, id)
	metrics.SetSessionsActive(len(r.clients))
	logging.L().Info("client_registered", "client_id", id, "active", len(r.clients))
	return cl, nil
}

// Remove releases the client's id back to the free pool and removes it from
// the registry. Idempotent.
func (r *Registry) Remove(cl *Client) {
	r.mu.Lock()
	_, existed := r.clients[cl.ID]
	if existed {
		delete(r.clients, cl.ID)
		for i, id := range r.order {
			if id == cl.ID {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		heap.Push(&r.freeIDs, cl.ID)
	}
	n := len(r.clients)
	r.mu.Unlock()
	cl.Close()
	if existed {
		metrics.SetSessionsActive(n)
		metrics.IncDisconnect()
		logging.L().Info("client_released", "client_id", cl.ID, "active", n)
	}
}

// Count returns the number of currently registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Snapshot returns the clients currently registered, in insertion order,
// without holding the registry lock across any caller I/O.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.clients[id])
	}
	return out
}

// ByUsername finds a registered client by its asserted username, or nil.
func (r *Registry) ByUsername(username string) *Client {
	for _, cl := range r.Snapshot() {
		if cl.Username() == username {
			return cl
		}
	}
	return nil
}

// Broadcast sends f to every registered client except those whose id is in
// skip.
func (r *Registry) Broadcast(f protocol.Frame, skip ...uint8) {
	skipSet := make(map[uint8]struct{}, len(skip))
	for _, id := range skip {
		skipSet[id] = struct{}{}
	}
	for _, cl := range r.Snapshot() {
		if _, ok := skipSet[cl.ID]; ok {
			continue
		}
		cl.Send(f)
	}
}
