package dispatcher

import "sync"

// Registration represents a handler installed in a Registry.
type Registration struct {
	channelID string
	handler   Handler
	registry  *Registry
	closeOnce sync.Once
}

// ChannelID returns the channel the handler was registered for.
func (r *Registration) ChannelID() string {
	return r.channelID
}

// Close tells the registry to stop routing fragments to this handler. Closing a registration that
// has since been replaced leaves the replacement untouched. Repeated calls are no-ops.
func (r *Registration) Close() {
	r.closeOnce.Do(func() {
		if r.registry != nil {
			r.registry.closeRegistration(r)
		}
	})
}
