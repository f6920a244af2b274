package broadcast

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-chat-server/internal/protocol"
)

// Registry tracks live sessions and routes frames to them. Fan-out never
// blocks on a slow peer longer than one serialized write; a session whose
// write fails is evicted and closed so one dead socket cannot wedge the
// broadcast path.
type Registry struct {
	mu      sync.RWMutex
	clients map[int64]*Client

	log zerolog.Logger
}

// NewRegistry returns an empty registry logging through the given logger.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		clients: make(map[int64]*Client),
		log:     log.With().Str("component", "registry").Logger(),
	}
}

// Add registers an accepted session.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	r.clients[c.ID] = c
	total := len(r.clients)
	r.mu.Unlock()

	r.log.Debug().Int64("session_id", c.ID).Int("sessions", total).Msg("session added")
}

// Remove unregisters the session and returns it, or nil when the id is
// unknown (already evicted). The caller owns closing the connection.
func (r *Registry) Remove(id int64) *Client {
	r.mu.Lock()
	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	total := len(r.clients)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.log.Debug().Int64("session_id", id).Int("sessions", total).Msg("session removed")
	return c
}

// Bind attaches a username to the session after successful authentication.
// Re-binding the same session (repeated AUTH_REQUEST) just replaces the name.
func (r *Registry) Bind(id int64, username string) {
	r.mu.RLock()
	c := r.clients[id]
	r.mu.RUnlock()
	if c != nil {
		c.setUsername(username)
	}
}

// OnlineCount returns the number of authenticated sessions.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, c := range r.clients {
		if c.Username() != "" {
			n++
		}
	}
	return n
}

// OnlineUsers returns the sorted, de-duplicated usernames of authenticated
// sessions.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	seen := make(map[string]struct{}, len(r.clients))
	for _, c := range r.clients {
		if name := c.Username(); name != "" {
			seen[name] = struct{}{}
		}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Broadcast sends the envelope to every current session, authenticated or
// not, the sender included. Sessions whose write fails are evicted.
func (r *Registry) Broadcast(env protocol.Envelope) {
	r.fanOut(env, func(*Client) bool { return true })
}

// BroadcastExcept is Broadcast skipping one session id.
func (r *Registry) BroadcastExcept(excludeID int64, env protocol.Envelope) {
	r.fanOut(env, func(c *Client) bool { return c.ID != excludeID })
}

// SendToClient delivers the envelope to the session with the given id. It
// reports false when the session is absent or the write failed; a failed
// write evicts the session.
func (r *Registry) SendToClient(id int64, env protocol.Envelope) bool {
	r.mu.RLock()
	c := r.clients[id]
	r.mu.RUnlock()
	if c == nil {
		return false
	}
	if err := c.Send(env); err != nil {
		r.log.Warn().Err(err).Int64("session_id", id).Str("type", env.Type).Msg("write failed, evicting session")
		if removed := r.Remove(id); removed != nil {
			_ = removed.Close()
		}
		return false
	}
	return true
}

// SendToUser delivers the envelope to the first session bound to the
// username, matched case-insensitively. "First" is the lowest session id,
// which makes repeated lookups deterministic when a user holds several
// sessions. Reports false when no session matches or the write failed.
func (r *Registry) SendToUser(username string, env protocol.Envelope) bool {
	want := strings.ToLower(strings.TrimSpace(username))
	if want == "" {
		return false
	}

	r.mu.RLock()
	var target int64 = -1
	for id, c := range r.clients {
		if strings.ToLower(c.Username()) != want {
			continue
		}
		if target < 0 || id < target {
			target = id
		}
	}
	r.mu.RUnlock()

	if target < 0 {
		return false
	}
	return r.SendToClient(target, env)
}

// fanOut writes the envelope to every session matching the predicate and
// reports whether any write succeeded. The frame is encoded once and the
// bytes shared across recipients; failed sessions are evicted after the
// read lock is released.
func (r *Registry) fanOut(env protocol.Envelope, match func(*Client) bool) bool {
	line, err := protocol.EncodeLine(env)
	if err != nil {
		r.log.Error().Err(err).Str("type", env.Type).Msg("frame encoding failed, dropped")
		return false
	}

	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if match(c) {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	delivered := false
	var failed []*Client
	for _, c := range targets {
		if err := c.SendRaw(line); err != nil {
			r.log.Warn().Err(err).Int64("session_id", c.ID).Str("type", env.Type).Msg("write failed, evicting session")
			failed = append(failed, c)
			continue
		}
		delivered = true
	}

	for _, c := range failed {
		if removed := r.Remove(c.ID); removed != nil {
			_ = removed.Close()
		}
	}
	return delivered
}
