// Package dispatcher routes inbound fragment notifications to the peer that owns the notifying
// channel.
package dispatcher

import (
	"sync"

	"github.com/xconnio/wampble/internal/log"
)

// Handler consumes one inbound fragment.
type Handler func(fragment []byte)

// Registry maps channel identifiers (characteristic UUIDs) to handlers. A Registry is owned by
// the link that delivers notifications; registrations are tied to the lifetime of the peer that
// created them.
type Registry struct {
	handlerLock sync.RWMutex
	handlers    map[string]*Registration
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]*Registration),
	}
}

// Register installs handler for channelID, replacing any previous handler. The returned
// Registration removes the handler when closed.
func (r *Registry) Register(channelID string, handler Handler) *Registration {
	reg := &Registration{
		channelID: channelID,
		handler:   handler,
		registry:  r,
	}

	r.handlerLock.Lock()
	if _, ok := r.handlers[channelID]; ok {
		log.Debug("Replacing fragment handler for %s", channelID)
	}
	r.handlers[channelID] = reg
	r.handlerLock.Unlock()
	return reg
}

// Unregister removes whatever handler is installed for channelID.
func (r *Registry) Unregister(channelID string) {
	r.handlerLock.Lock()
	delete(r.handlers, channelID)
	r.handlerLock.Unlock()
}

// Dispatch synchronously passes fragment to the handler registered for channelID. Fragments for
// unregistered channels are dropped; Dispatch reports whether a handler ran.
func (r *Registry) Dispatch(channelID string, fragment []byte) bool {
	r.handlerLock.RLock()
	reg, ok := r.handlers[channelID]
	r.handlerLock.RUnlock()
	if !ok {
		log.Debug("Dropping %d-byte fragment for unregistered channel %s", len(fragment), channelID)
		return false
	}
	// Handlers run outside the lock so they may register or unregister channels themselves.
	reg.handler(fragment)
	return true
}

// Len returns the number of registered channels.
func (r *Registry) Len() int {
	r.handlerLock.RLock()
	defer r.handlerLock.RUnlock()
	return len(r.handlers)
}

func (r *Registry) closeRegistration(reg *Registration) {
	r.handlerLock.Lock()
	defer r.handlerLock.Unlock()
	// A newer registration for the same channel is left in place.
	if current, ok := r.handlers[reg.channelID]; ok && current == reg {
		delete(r.handlers, reg.channelID)
	}
}
