package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/insurge/chatd/internal/slogging"
)

// FrameWriter is the transport surface the registry needs from a live
// connection. *websocket.Conn satisfies it; tests substitute fakes.
type FrameWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live client connection tracked by the registry. A user may
// hold any number of them, and any number per session.
type Conn struct {
	ws        FrameWriter
	userID    int64
	sessionID *int64

	// gorilla permits one concurrent writer per connection
	writeMu sync.Mutex
}

// NewConn wraps a transport connection with its authenticated (user,
// session) context. sessionID is nil for unbound connections.
func NewConn(ws FrameWriter, userID int64, sessionID *int64) *Conn {
	return &Conn{ws: ws, userID: userID, sessionID: sessionID}
}

// UserID returns the owning user id
func (c *Conn) UserID() int64 { return c.userID }

// SessionID returns the bound session id, or nil if unbound
func (c *Conn) SessionID() *int64 { return c.sessionID }

func (c *Conn) write(payload []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

// Ping sends a control ping, sharing the write lock with frame writes
func (c *Conn) Ping(timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteMessage(websocket.PingMessage, nil)
}

// sessionKey indexes connections by (user, session)
type sessionKey struct {
	UserID    int64
	SessionID int64
}

// ConnectionRegistry is the in-memory index of live connections. It is the
// only shared mutable state of the real-time layer; all access goes through
// its synchronized methods. One instance per process, owned by the
// composition root and handed to every connection handler.
type ConnectionRegistry struct {
	mu sync.Mutex
	// connections per user, across all sessions
	userConns map[int64]map[*Conn]struct{}
	// connections per (user, session) pair
	sessionConns map[sessionKey]map[*Conn]struct{}
	// connections per session, across all participants
	allSessionConns map[int64]map[*Conn]struct{}

	writeTimeout time.Duration
}

// NewConnectionRegistry creates an empty registry. writeTimeout bounds each
// delivery attempt; zero disables deadlines.
func NewConnectionRegistry(writeTimeout time.Duration) *ConnectionRegistry {
	return &ConnectionRegistry{
		userConns:       make(map[int64]map[*Conn]struct{}),
		sessionConns:    make(map[sessionKey]map[*Conn]struct{}),
		allSessionConns: make(map[int64]map[*Conn]struct{}),
		writeTimeout:    writeTimeout,
	}
}

// Register adds a connection under its user and, if session-bound, under the
// (user, session) and session-wide indices. Registering the same connection
// twice is a no-op.
func (r *ConnectionRegistry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.userConns[c.userID]; !ok {
		r.userConns[c.userID] = make(map[*Conn]struct{})
	}
	if _, ok := r.userConns[c.userID][c]; ok {
		return
	}
	r.userConns[c.userID][c] = struct{}{}
	metricLiveConnections.Inc()

	if c.sessionID != nil {
		key := sessionKey{UserID: c.userID, SessionID: *c.sessionID}
		if _, ok := r.sessionConns[key]; !ok {
			r.sessionConns[key] = make(map[*Conn]struct{})
		}
		r.sessionConns[key][c] = struct{}{}

		if _, ok := r.allSessionConns[*c.sessionID]; !ok {
			r.allSessionConns[*c.sessionID] = make(map[*Conn]struct{})
		}
		r.allSessionConns[*c.sessionID][c] = struct{}{}
	}
}

// Unregister removes a connection from every index, dropping entries whose
// sets become empty. Safe to call for connections that were never
// registered.
func (r *ConnectionRegistry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(c)
}

// removeLocked removes c from all indices. Caller holds r.mu.
func (r *ConnectionRegistry) removeLocked(c *Conn) {
	conns, ok := r.userConns[c.userID]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(r.userConns, c.userID)
	}
	metricLiveConnections.Dec()

	if c.sessionID != nil {
		key := sessionKey{UserID: c.userID, SessionID: *c.sessionID}
		if sc, ok := r.sessionConns[key]; ok {
			delete(sc, c)
			if len(sc) == 0 {
				delete(r.sessionConns, key)
			}
		}
		if sc, ok := r.allSessionConns[*c.sessionID]; ok {
			delete(sc, c)
			if len(sc) == 0 {
				delete(r.allSessionConns, *c.sessionID)
			}
		}
	}
}

// SendToConnection writes a payload to a single connection. On error the
// connection is dead and the caller is expected to unregister it;
// fire-and-forget callers may ignore the return.
func (r *ConnectionRegistry) SendToConnection(c *Conn, payload []byte) error {
	if err := c.write(payload, r.writeTimeout); err != nil {
		slogging.Get().Debug("Connection write failed user_id=%d error=%v", c.userID, err)
		return err
	}
	return nil
}

// SendToUser delivers a payload to every live connection of a user.
// Connections that fail mid-broadcast are pruned without blocking delivery
// to the rest.
func (r *ConnectionRegistry) SendToUser(userID int64, payload []byte) {
	r.mu.Lock()
	targets := snapshot(r.userConns[userID])
	r.mu.Unlock()

	r.deliver(targets, payload)
}

// SendToSession delivers a payload to every live connection registered
// under the exact (user, session) pair, with the same pruning behavior.
func (r *ConnectionRegistry) SendToSession(userID, sessionID int64, payload []byte) {
	r.mu.Lock()
	targets := snapshot(r.sessionConns[sessionKey{UserID: userID, SessionID: sessionID}])
	r.mu.Unlock()

	r.deliver(targets, payload)
}

// SendToSessionAll delivers a payload to every participant's live
// connections bound to the session, independent of which user triggered it.
func (r *ConnectionRegistry) SendToSessionAll(sessionID int64, payload []byte) {
	r.mu.Lock()
	targets := snapshot(r.allSessionConns[sessionID])
	r.mu.Unlock()

	r.deliver(targets, payload)
}

// deliver writes payload to each target and prunes the failures in one
// registry mutation.
func (r *ConnectionRegistry) deliver(targets []*Conn, payload []byte) {
	var failed []*Conn
	for _, c := range targets {
		if err := c.write(payload, r.writeTimeout); err != nil {
			slogging.Get().Debug("Pruning dead connection user_id=%d error=%v", c.userID, err)
			failed = append(failed, c)
		}
	}

	if len(failed) == 0 {
		return
	}

	r.mu.Lock()
	for _, c := range failed {
		r.removeLocked(c)
	}
	r.mu.Unlock()

	for _, c := range failed {
		metricBroadcastFailures.Inc()
		_ = c.ws.Close()
	}
}

// ConnectionCount returns the number of live connections for a user
func (r *ConnectionRegistry) ConnectionCount(userID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userConns[userID])
}

// SessionConnectionCount returns the number of live connections for a
// (user, session) pair
func (r *ConnectionRegistry) SessionConnectionCount(userID, sessionID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessionConns[sessionKey{UserID: userID, SessionID: sessionID}])
}

// CloseAll unregisters and closes every connection. Used on shutdown.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	var all []*Conn
	for _, conns := range r.userConns {
		for c := range conns {
			all = append(all, c)
		}
	}
	for _, c := range all {
		r.removeLocked(c)
	}
	r.mu.Unlock()

	for _, c := range all {
		_ = c.ws.Close()
	}
}

func snapshot(set map[*Conn]struct{}) []*Conn {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
