// Package realtime manages the gateway's WebSocket connections: the
// per-process connection registry, per-connection read/write pumps with
// heartbeat tracking, and the broadcast-bus fan-out to local sockets.
package realtime

import (
	"errors"
	"hash/maphash"
	"sync"
	"sync/atomic"
)

const (
	// registryShardCount is the number of shards for the connection map.
	// Must be a power of 2 for the mask below.
	registryShardCount = 32

	minShardCapacity = 64
)

// ErrRegistryFull is returned when the instance is at its connection cap.
var ErrRegistryFull = errors.New("connection registry full")

// registryShard holds one slice of the connection map behind its own lock.
type registryShard struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

// Registry is the unit of truth for "who is attached to this process".
// Connection lookups are sharded (maphash, per-shard RWMutex) so delivery
// reads on different connections rarely contend; the room and user
// indexes sit behind a single RWMutex since subscribe/unsubscribe churn
// is an order of magnitude rarer than delivery.
//
// Connections are never shared across instances; cross-instance
// visibility goes through the presence store and broadcast bus only.
type Registry struct {
	shards   [registryShardCount]*registryShard
	hashSeed maphash.Seed
	size     atomic.Int64
	maxSize  int64

	mu    sync.RWMutex
	rooms map[string]map[string]*Client  // room id -> conn id -> client
	users map[string]map[string]struct{} // user id -> conn ids
}

// NewRegistry creates a sharded registry with the given connection cap.
func NewRegistry(maxSize int) *Registry {
	r := &Registry{
		hashSeed: maphash.MakeSeed(),
		maxSize:  int64(maxSize),
		rooms:    make(map[string]map[string]*Client),
		users:    make(map[string]map[string]struct{}),
	}

	shardCapacity := maxSize / registryShardCount
	if shardCapacity < minShardCapacity {
		shardCapacity = minShardCapacity
	}
	for i := range r.shards {
		r.shards[i] = &registryShard{conns: make(map[string]*Client, shardCapacity)}
	}
	return r
}

func (r *Registry) getShard(connID string) *registryShard {
	h := maphash.String(r.hashSeed, connID)
	return r.shards[h&(registryShardCount-1)]
}

// Add registers a connection. It reports whether this is the user's first
// connection on this instance, which is what decides an online publish.
func (r *Registry) Add(c *Client) (firstForUser bool, err error) {
	// Soft cap: the check and the insert are not atomic, so concurrent
	// Adds can overshoot maxSize by a few connections.
	if r.size.Load() >= r.maxSize {
		return false, ErrRegistryFull
	}

	shard := r.getShard(c.id)
	shard.mu.Lock()
	if _, exists := shard.conns[c.id]; !exists {
		shard.conns[c.id] = c
		r.size.Add(1)
	}
	shard.mu.Unlock()

	r.mu.Lock()
	conns, ok := r.users[c.userID]
	if !ok {
		conns = make(map[string]struct{})
		r.users[c.userID] = conns
	}
	firstForUser = len(conns) == 0
	conns[c.id] = struct{}{}
	r.mu.Unlock()

	return firstForUser, nil
}

// Remove deregisters a connection and drops all its room memberships in
// one critical section, so no fan-out can observe a half-removed
// connection. It reports whether this was the user's last connection on
// this instance.
func (r *Registry) Remove(c *Client) (lastForUser bool) {
	shard := r.getShard(c.id)
	shard.mu.Lock()
	if _, exists := shard.conns[c.id]; exists {
		delete(shard.conns, c.id)
		r.size.Add(-1)
	}
	shard.mu.Unlock()

	r.mu.Lock()
	for roomID := range c.rooms {
		if members, ok := r.rooms[roomID]; ok {
			delete(members, c.id)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
	}
	c.rooms = nil

	if conns, ok := r.users[c.userID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(r.users, c.userID)
			lastForUser = true
		}
	}
	r.mu.Unlock()

	return lastForUser
}

// Join subscribes a connection to a room. Re-joining is a no-op.
func (r *Registry) Join(c *Client, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.rooms == nil {
		// Already removed; a subscribe racing a disconnect loses.
		return
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]*Client)
		r.rooms[roomID] = members
	}
	members[c.id] = c
	c.rooms[roomID] = struct{}{}
}

// Leave unsubscribes a connection from a room. Leaving a room the
// connection never joined is a no-op, not an error.
func (r *Registry) Leave(c *Client, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.rooms[roomID]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if c.rooms != nil {
		delete(c.rooms, roomID)
	}
}

// RoomMembers snapshots a room's local subscribers. The snapshot lets
// delivery run without holding the index lock.
func (r *Registry) RoomMembers(roomID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	if len(members) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Rooms returns the rooms a connection is currently subscribed to.
func (r *Registry) Rooms(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		out = append(out, roomID)
	}
	return out
}

// ForEach snapshots all connections per shard, then calls fn without
// holding any lock.
func (r *Registry) ForEach(fn func(*Client)) {
	var all []*Client
	for _, shard := range r.shards {
		shard.mu.RLock()
		for _, c := range shard.conns {
			all = append(all, c)
		}
		shard.mu.RUnlock()
	}
	for _, c := range all {
		fn(c)
	}
}

// Len returns the current number of registered connections.
func (r *Registry) Len() int {
	return int(r.size.Load())
}

// UserConnections returns how many connections a user holds on this
// instance. A user may be connected from several devices or tabs.
func (r *Registry) UserConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID])
}
