package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

var sessionsGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Help:      "Number of attached streaming sessions",
		Name:      "streaming_sessions",
		Namespace: "nexasim",
	},
)

func init() {
	prometheus.MustRegister(sessionsGauge)
}

// Registry keeps track of attached streaming sessions. It's only used for
// reporting, events are delivered without it.
type Registry struct {
	lock     sync.RWMutex
	sessions map[uuid.UUID]struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]struct{})}
}

// Attach registers the session.
func (r *Registry) Attach(id uuid.UUID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sessions[id] = struct{}{}
	sessionsGauge.Set(float64(len(r.sessions)))
}

// Detach removes the session, detaching an unknown session is a no-op.
func (r *Registry) Detach(id uuid.UUID) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.sessions, id)
	sessionsGauge.Set(float64(len(r.sessions)))
}

// Count returns the number of attached sessions.
func (r *Registry) Count() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}
