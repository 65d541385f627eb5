package realtime

// Presence reference-counts live connections per user. A user is online
// while at least one connection is registered.
//
// Presence is owned by the Engine loop and is not safe for concurrent use.
type Presence struct {
	users map[string]map[string]struct{}
	conns map[string]string
}

// NewPresence creates an empty registry
func NewPresence() *Presence {
	return &Presence{
		users: make(map[string]map[string]struct{}),
		conns: make(map[string]string),
	}
}

// Register adds a connection for a user and reports whether it is the
// user's first one
func (p *Presence) Register(userID, connID string) bool {
	if prev, ok := p.conns[connID]; ok {
		if prev == userID {
			return false
		}
		p.Unregister(connID)
	}

	set, ok := p.users[userID]
	if !ok {
		set = make(map[string]struct{})
		p.users[userID] = set
	}
	set[connID] = struct{}{}
	p.conns[connID] = userID
	return len(set) == 1
}

// Unregister removes a connection. It returns the owning user and whether
// that was the user's last connection; userID is empty for unknown ids.
func (p *Presence) Unregister(connID string) (userID string, last bool) {
	userID, ok := p.conns[connID]
	if !ok {
		return "", false
	}
	delete(p.conns, connID)

	set := p.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(p.users, userID)
		return userID, true
	}
	return userID, false
}

// IsOnline reports whether a user has any registered connection
func (p *Presence) IsOnline(userID string) bool {
	return len(p.users[userID]) > 0
}

// Connections returns the number of a user's registered connections
func (p *Presence) Connections(userID string) int {
	return len(p.users[userID])
}

// OnlineUsers returns the number of online users
func (p *Presence) OnlineUsers() int {
	return len(p.users)
}

// Reset empties the registry
func (p *Presence) Reset() {
	clear(p.users)
	clear(p.conns)
}
