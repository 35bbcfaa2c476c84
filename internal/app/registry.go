package app

import (
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/duocast/internal/domain"
	"github.com/rs/zerolog/log"
)

// Registry holds the membership of the single room.
// A connection is in at most one of the two lists.
type Registry struct {
	mu           sync.RWMutex
	maxStreamers int
	streamers    []domain.ConnID
	watchers     []domain.ConnID
	roles        map[domain.ConnID]domain.Role
}

func NewRegistry(maxStreamers int) *Registry {
	if maxStreamers <= 0 {
		maxStreamers = domain.MaxStreamers
	}
	return &Registry{
		maxStreamers: maxStreamers,
		roles:        make(map[domain.ConnID]domain.Role),
	}
}

// Join adds id under role. On error nothing changes.
func (r *Registry) Join(id domain.ConnID, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; ok {
		return domain.ErrAlreadyJoined
	}
	switch role {
	case domain.RoleStreamer:
		if len(r.streamers) >= r.maxStreamers {
			log.Warn().Str("module", "app.registry").Str("conn", string(id)).Int("streamers", len(r.streamers)).Msg("streamer rejected")
			return fmt.Errorf("%w (max %d)", domain.ErrCapacityExceeded, r.maxStreamers)
		}
		r.streamers = append(r.streamers, id)
	case domain.RoleWatcher:
		r.watchers = append(r.watchers, id)
	default:
		return domain.ErrBadRequest
	}
	r.roles[id] = role
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("role", string(role)).Msg("member joined")
	return nil
}

// Leave removes id and reports the role it held. Safe to repeat.
func (r *Registry) Leave(id domain.ConnID) (domain.Role, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return "", false
	}
	delete(r.roles, id)
	if i := slices.Index(r.streamers, id); i >= 0 {
		r.streamers = slices.Delete(r.streamers, i, i+1)
	} else if i := slices.Index(r.watchers, id); i >= 0 {
		r.watchers = slices.Delete(r.watchers, i, i+1)
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Str("role", string(role)).Msg("member left")
	return role, true
}

func (r *Registry) Snapshot() domain.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.RoomSnapshot{
		Streamers: append([]domain.ConnID{}, r.streamers...),
		Watchers:  append([]domain.ConnID{}, r.watchers...),
	}
}

func (r *Registry) RoleOf(id domain.ConnID) (domain.Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	return role, ok
}

func (r *Registry) StreamerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streamers)
}

// Members returns streamers then watchers.
func (r *Registry) Members() []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(r.streamers)+len(r.watchers))
	out = append(out, r.streamers...)
	return append(out, r.watchers...)
}
