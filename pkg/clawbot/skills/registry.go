package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Factory constructs a skill from its descriptor.
type Factory func(d Descriptor) (Skill, error)

// Registry is the ordered, immutable skill set built at startup.
type Registry struct {
	ordered []Skill
	bySlug  map[string]Skill
	logger  *slog.Logger
}

// Load builds the registry from descriptors ordered by priority; equal
// priorities keep their given order. Disabled descriptors are skipped. Any descriptor with missing keys, an unknown
// module/class, a duplicate slug, or a failing constructor aborts the load
// with an error wrapping ErrConfig.
func Load(descriptors []Descriptor, factories map[string]Factory, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		bySlug: make(map[string]Skill, len(descriptors)),
		logger: logger.With("component", "skills"),
	}

	ordered := append([]Descriptor(nil), descriptors...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EffectivePriority() < ordered[j].EffectivePriority()
	})

	for _, d := range ordered {
		if !d.IsEnabled() {
			r.logger.Debug("skill disabled", "slug", d.Slug)
			continue
		}
		if err := d.Validate(); err != nil {
			r.Close()
			return nil, err
		}
		if _, dup := r.bySlug[d.Slug]; dup {
			r.Close()
			return nil, fmt.Errorf("%w: duplicate skill slug %q", ErrConfig, d.Slug)
		}
		factory, ok := factories[d.Key()]
		if !ok {
			r.Close()
			return nil, fmt.Errorf("%w: skill %q references unknown %s", ErrConfig, d.Slug, d.Key())
		}
		s, err := factory(d)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("%w: instantiate skill %q: %v", ErrConfig, d.Slug, err)
		}
		if s == nil {
			r.Close()
			return nil, fmt.Errorf("%w: constructor for %q returned no skill", ErrConfig, d.Slug)
		}

		r.ordered = append(r.ordered, s)
		r.bySlug[d.Slug] = s
		r.logger.Debug("skill loaded", "slug", d.Slug, "class", d.Key())
	}

	r.logger.Info("skills loaded", "count", len(r.ordered))
	return r, nil
}

// Skills returns the skills in priority order.
func (r *Registry) Skills() []Skill {
	return append([]Skill(nil), r.ordered...)
}

// Get returns the skill with the given slug.
func (r *Registry) Get(slug string) (Skill, bool) {
	s, ok := r.bySlug[slug]
	return s, ok
}

// Slugs returns the slugs in priority order.
func (r *Registry) Slugs() []string {
	out := make([]string, len(r.ordered))
	for i, s := range r.ordered {
		out[i] = s.Slug()
	}
	return out
}

// Close releases skills that hold resources.
func (r *Registry) Close() error {
	var errs []error
	for _, s := range r.ordered {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				r.logger.Error("error closing skill", "slug", s.Slug(), "error", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
