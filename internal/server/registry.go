package server

// Registry binds identities to their live connection. Binding an identity
// that is already bound replaces the old connection without notifying it:
// the newest login takes over and the previous session is simply orphaned.
// Not safe for concurrent use; the Hub serializes access.
type Registry struct {
	conns map[string]*Client
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Client)}
}

// Bind associates id with c, replacing any previous binding.
func (r *Registry) Bind(id string, c *Client) {
	r.conns[id] = c
}

// Lookup returns the connection bound to id.
func (r *Registry) Lookup(id string) (*Client, bool) {
	c, ok := r.conns[id]
	return c, ok
}

// Unbind removes the binding for id unconditionally.
func (r *Registry) Unbind(id string) {
	delete(r.conns, id)
}

// ForEachOpen calls fn for every bound connection that is still open.
// Closed connections are skipped but left in place.
func (r *Registry) ForEachOpen(fn func(id string, c *Client)) {
	for id, c := range r.conns {
		if c.isClosed() {
			continue
		}
		fn(id, c)
	}
}

// Len returns the number of bound identities, open or not.
func (r *Registry) Len() int {
	return len(r.conns)
}
