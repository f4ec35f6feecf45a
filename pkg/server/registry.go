package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/relay-chat/pkg/types"
)

var (
	ErrUnknownPeer   = errors.New("unknown peer")
	ErrAlreadyJoined = errors.New("peer already joined")
	ErrNotJoined     = errors.New("peer has not joined")
)

// Registry maps connection addresses to nicknames. Only joined peers are visible through
// Nick, Snapshot and Joined; pending peers are tracked so Init can be validated.
// The chat server's update loop is the only writer; the lock serves metrics readers.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*types.ClientInfo
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*types.ClientInfo)}
}

// Connect records a pending peer. A stale entry at the same address is replaced,
// so nothing from a previous session carries over.
func (r *Registry) Connect(addr string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[addr] = &types.ClientInfo{Addr: addr, ConnectedAt: now}
}

// Init assigns a nickname to a pending peer.
func (r *Registry) Init(addr, nick string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	if info.Joined() {
		return fmt.Errorf("%w: %s as %q", ErrAlreadyJoined, addr, info.Nick)
	}
	info.Nick = nick
	info.JoinedAt = now
	return nil
}

// Unjoin returns a joined peer to pending, undoing Init.
func (r *Registry) Unjoin(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.clients[addr]; ok {
		info.Nick = ""
		info.JoinedAt = time.Time{}
	}
}

// Remove deletes addr and returns what was stored. Removing an absent address is a no-op.
func (r *Registry) Remove(addr string) (types.ClientInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[addr]
	if !ok {
		return types.ClientInfo{}, false
	}
	delete(r.clients, addr)
	return *info, true
}

// CountMessage records a Text accepted from a joined peer.
func (r *Registry) CountMessage(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.clients[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}
	if !info.Joined() {
		return fmt.Errorf("%w: %s", ErrNotJoined, addr)
	}
	info.Messages++
	return nil
}

// Nick returns the nickname of a joined peer.
func (r *Registry) Nick(addr string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.clients[addr]
	if !ok || !info.Joined() {
		return "", false
	}
	return info.Nick, true
}

// IsJoined reports whether addr completed Init.
func (r *Registry) IsJoined(addr string) bool {
	_, ok := r.Nick(addr)
	return ok
}

// IsKnown reports whether addr is connected, joined or not.
func (r *Registry) IsKnown(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[addr]
	return ok
}

// Info returns a copy of the entry for addr.
func (r *Registry) Info(addr string) (types.ClientInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.clients[addr]
	if !ok {
		return types.ClientInfo{}, false
	}
	return *info, true
}

// Snapshot returns address -> nickname for every joined peer.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.clients))
	for addr, info := range r.clients {
		if info.Joined() {
			out[addr] = info.Nick
		}
	}
	return out
}

// Joined returns the addresses of joined peers, sorted.
func (r *Registry) Joined() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clients))
	for addr, info := range r.clients {
		if info.Joined() {
			out = append(out, addr)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of joined peers.
func (r *Registry) Len() int {
	return len(r.Joined())
}

// Status returns every known address; the value reports whether it joined.
func (r *Registry) Status() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]bool, len(r.clients))
	for addr, info := range r.clients {
		out[addr] = info.Joined()
	}
	return out
}

// tableLine renders the joined peers as clients=[nick@addr,...] in address order.
func (r *Registry) tableLine() string {
	snapshot := r.Snapshot()
	addrs := make([]string, 0, len(snapshot))
	for addr := range snapshot {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	items := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		items = append(items, fmt.Sprintf("%s@%s", snapshot[addr], addr))
	}
	return fmt.Sprintf("clients=[%s]", strings.Join(items, ","))
}
