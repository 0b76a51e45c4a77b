package server

import (
	"net"
	"sync"
	"time"

	"github.com/RomaniukOleksii/SpeakV/pkg/model"
)

// Registry tracks connected peers keyed by their transport address.
// All state is in-memory; a restart forgets every session. The lock is
// held only for map access, never across sends or datastore calls.
type Registry struct {
	mu  sync.RWMutex
	now func() time.Time

	sessions map[string]*model.Session
	addrs    map[string]*net.UDPAddr
}

// NewRegistry creates a registry using time.Now().UTC().
func NewRegistry() *Registry {
	return NewRegistryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewRegistryWithClock creates a registry with a custom clock.
func NewRegistryWithClock(now func() time.Time) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		now:      now,
		sessions: make(map[string]*model.Session),
		addrs:    make(map[string]*net.UDPAddr),
	}
}

// Upsert inserts or refreshes the session for addr. A new session starts
// unauthenticated in the default channel. Reports whether it was created.
func (r *Registry) Upsert(addr *net.UDPAddr, username string) bool {
	key := addr.String()
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[key]; ok {
		sess.LastSeen = r.now()
		if username != "" {
			sess.Username = username
		}
		return false
	}
	r.sessions[key] = &model.Session{
		Addr:     key,
		Username: username,
		Channel:  model.ChannelDefaultName,
		LastSeen: r.now(),
	}
	r.addrs[key] = addr
	return true
}

// Touch refreshes the liveness timestamp. Returns false for unknown peers.
func (r *Registry) Touch(addr *net.UDPAddr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[addr.String()]
	if !ok {
		return false
	}
	sess.LastSeen = r.now()
	return true
}

// Get returns a copy of the session for addr.
func (r *Registry) Get(addr *net.UDPAddr) (model.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[addr.String()]
	if !ok {
		return model.Session{}, false
	}
	return *sess, true
}

// Authenticate marks the session for addr as authenticated and stamps it
// with the account's identity.
func (r *Registry) Authenticate(addr *net.UDPAddr, u *model.User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[addr.String()]
	if !ok {
		return false
	}
	sess.Username = u.Username
	sess.Role = u.Role
	sess.Status = u.Status
	sess.NickColor = u.NickColor
	sess.Authenticated = true
	sess.LastSeen = r.now()
	return true
}

// SetChannel moves the session for addr into channel.
func (r *Registry) SetChannel(addr *net.UDPAddr, channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[addr.String()]
	if !ok {
		return false
	}
	sess.Channel = channel
	sess.LastSeen = r.now()
	return true
}

// SetMuted flips the live mute flag on every session of username.
// Returns the number of sessions affected.
func (r *Registry) SetMuted(username string, muted bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sess := range r.sessions {
		if sess.Username == username {
			sess.Muted = muted
			n++
		}
	}
	return n
}

// Remove drops the session for addr.
func (r *Registry) Remove(addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := addr.String()
	delete(r.sessions, key)
	delete(r.addrs, key)
}

// RemoveByUsername drops every session of username and returns their
// transport addresses.
func (r *Registry) RemoveByUsername(username string) []*net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*net.UDPAddr
	for key, sess := range r.sessions {
		if sess.Username != username {
			continue
		}
		if addr, ok := r.addrs[key]; ok {
			removed = append(removed, addr)
		}
		delete(r.sessions, key)
		delete(r.addrs, key)
	}
	return removed
}

// Purge drops every session idle longer than timeout and returns how many
// were removed.
func (r *Registry) Purge(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-timeout)
	removed := 0
	for key, sess := range r.sessions {
		if sess.LastSeen.Before(cutoff) {
			delete(r.sessions, key)
			delete(r.addrs, key)
			removed++
		}
	}
	return removed
}

// Snapshot returns copies of all sessions.
func (r *Registry) Snapshot() []model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, *sess)
	}
	return out
}

// Count returns the number of connected peers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ChannelAddrs returns the addresses of authenticated members of channel,
// excluding the peer at except (may be nil).
func (r *Registry) ChannelAddrs(channel string, except *net.UDPAddr) []*net.UDPAddr {
	var skip string
	if except != nil {
		skip = except.String()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*net.UDPAddr
	for key, sess := range r.sessions {
		if key == skip || !sess.Authenticated || sess.Channel != channel {
			continue
		}
		if addr, ok := r.addrs[key]; ok {
			out = append(out, addr)
		}
	}
	return out
}

// AllAddrs returns the addresses of every connected peer.
func (r *Registry) AllAddrs() []*net.UDPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*net.UDPAddr, 0, len(r.addrs))
	for _, addr := range r.addrs {
		out = append(out, addr)
	}
	return out
}

// AuthedAddrs returns the addresses of every authenticated session,
// excluding the peer at except (may be nil).
func (r *Registry) AuthedAddrs(except *net.UDPAddr) []*net.UDPAddr {
	var skip string
	if except != nil {
		skip = except.String()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*net.UDPAddr
	for key, sess := range r.sessions {
		if key == skip || !sess.Authenticated {
			continue
		}
		if addr, ok := r.addrs[key]; ok {
			out = append(out, addr)
		}
	}
	return out
}

// UserAddrs returns the addresses of authenticated sessions of username.
func (r *Registry) UserAddrs(username string) []*net.UDPAddr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*net.UDPAddr
	for key, sess := range r.sessions {
		if sess.Authenticated && sess.Username == username {
			if addr, ok := r.addrs[key]; ok {
				out = append(out, addr)
			}
		}
	}
	return out
}
