package catalog

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// snapshot is an immutable view of one catalog generation.
type snapshot struct {
	byID  map[string]ModelConfiguration
	order []ModelConfiguration
}

// Repository serves model lookups from the latest catalog. Readers never see a
// partially applied update: SetModels swaps a whole snapshot.
type Repository struct {
	snap atomic.Pointer[snapshot]
	log  zerolog.Logger
}

// NewRepository returns an empty repository.
func NewRepository(log zerolog.Logger) *Repository {
	r := &Repository{log: log}
	r.snap.Store(&snapshot{byID: map[string]ModelConfiguration{}})
	return r
}

// SetModels replaces the entire model set. Later duplicates of an id win.
func (r *Repository) SetModels(models []ModelConfiguration) {
	s := &snapshot{
		byID:  make(map[string]ModelConfiguration, len(models)),
		order: make([]ModelConfiguration, 0, len(models)),
	}
	pos := make(map[string]int, len(models))
	for _, m := range models {
		if i, dup := pos[m.ModelID]; dup {
			r.log.Warn().Str("model", m.ModelID).Msg("catalog event=duplicate_model_id")
			s.order[i] = m
		} else {
			pos[m.ModelID] = len(s.order)
			s.order = append(s.order, m)
		}
		s.byID[m.ModelID] = m
	}
	r.snap.Store(s)
	r.log.Debug().Int("models", len(s.order)).Msg("catalog event=replaced")
}

// FindByID returns the configuration for id.
func (r *Repository) FindByID(id string) (ModelConfiguration, bool) {
	m, ok := r.snap.Load().byID[id]
	return m, ok
}

// All returns every model in catalog order.
func (r *Repository) All() []ModelConfiguration {
	s := r.snap.Load()
	out := make([]ModelConfiguration, len(s.order))
	copy(out, s.order)
	return out
}

// ByFamily returns models whose family matches case-insensitively.
func (r *Repository) ByFamily(family string) []ModelConfiguration {
	var out []ModelConfiguration
	for _, m := range r.snap.Load().order {
		if strings.EqualFold(m.ModelFamily, family) {
			out = append(out, m)
		}
	}
	return out
}

// Len returns the number of models in the current catalog.
func (r *Repository) Len() int { return len(r.snap.Load().order) }

// Sync replaces the model set every time p emits, until ctx is done or the
// provider stops.
func (r *Repository) Sync(ctx context.Context, p Provider) error {
	ch, err := p.Watch(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case models, ok := <-ch:
			if !ok {
				return nil
			}
			r.SetModels(models)
		}
	}
}
