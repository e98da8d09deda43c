package registry

import (
	"context"
	"fmt"
	"strings"

	"autotool/internal/apperr"
	"autotool/internal/capability"
	"autotool/internal/events"
	"autotool/internal/logging"
)

// AddRequest describes a new unit.
type AddRequest struct {
	Name          string
	Source        string
	Schema        capability.Schema
	Tags          []string
	OriginalQuery string
	Dependencies  []string
}

// Add creates a unit at version 1.0.0. An existing name fails with
// AlreadyExists and leaves the registry unchanged. When standardization is
// enabled the source is first rewritten by the model; a failed rewrite falls
// back to the original source. A test harness is generated afterwards on a
// best-effort basis.
func (r *Registry) Add(ctx context.Context, req AddRequest) (*capability.Unit, error) {
	timer := logging.StartTimer(logging.CategoryRegistry, "Add")
	defer timer.Stop()

	candidate := &capability.Unit{Name: req.Name, Source: req.Source}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.Get(ctx, req.Name); err == nil {
		return nil, apperr.Errorf(apperr.KindAlreadyExists, "registry.add", "capability %s already exists", req.Name)
	}

	source := req.Source
	if r.opts.Standardize && r.client != nil {
		std, err := r.Standardize(ctx, req.Name, source, req.Schema)
		if err != nil {
			logging.RegistryWarn("Standardization of %s failed, keeping original source: %v", req.Name, err)
		} else {
			source = std
		}
	}

	v, err := r.do(ctx, func(st *state) (any, error) {
		if _, ok := st.get(req.Name); ok {
			return nil, apperr.Errorf(apperr.KindAlreadyExists, "registry.add", "capability %s already exists", req.Name)
		}
		now := r.now()
		u := &capability.Unit{
			Name:    req.Name,
			Version: capability.InitialVersion,
			Source:  source,
			Schema:  req.Schema.Clone(),
			Tags:    capability.NormalizeTags(req.Tags),
			Active:  true,
			Metadata: capability.Metadata{
				OriginalQuery:    req.OriginalQuery,
				CreationDate:     now,
				LastModifiedDate: now,
				Author:           r.opts.Author,
				Dependencies:     append([]string(nil), req.Dependencies...),
			},
		}
		u.RecordSnapshot(now)
		u.Metrics = capability.NewMetrics(u.Version, now)
		st.units = append(st.units, u)
		st.metrics[u.Name] = u.Metrics
		st.reindex()
		if err := r.saveAll(st); err != nil {
			return nil, err
		}
		return u.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	unit := v.(*capability.Unit)
	logging.Registry("Added capability %s@%s", unit.Name, unit.Version)
	r.emitter.Emit(events.Info, fmt.Sprintf("capability %s added", unit.Name))

	if r.client != nil {
		if _, err := r.GenerateTestHarness(ctx, unit.Name); err != nil {
			logging.RegistryWarn("Test harness generation for %s failed: %v", unit.Name, err)
		}
	}
	return unit, nil
}

// UpdateRequest changes a unit. Nil fields are left alone.
type UpdateRequest struct {
	Source *string
	Schema *capability.Schema
	Tags   []string
	Active *bool
}

// Update applies req. A changed source or schema bumps the patch version by
// exactly one, records a snapshot and regenerates the test harness; tags and
// the active flag are persisted regardless.
func (r *Registry) Update(ctx context.Context, name string, req UpdateRequest) (*capability.Unit, error) {
	type result struct {
		unit    *capability.Unit
		changed bool
	}
	v, err := r.do(ctx, func(st *state) (any, error) {
		u, ok := st.get(name)
		if !ok {
			return nil, notFound("registry.update", name)
		}
		now := r.now()
		changed := false
		if req.Source != nil && *req.Source != u.Source {
			if strings.TrimSpace(*req.Source) == "" {
				return nil, apperr.Errorf(apperr.KindValidation, "registry.update", "%s: source is empty", name)
			}
			u.Source = *req.Source
			changed = true
		}
		if req.Schema != nil && !req.Schema.Equal(u.Schema) {
			u.Schema = req.Schema.Clone()
			changed = true
		}
		if changed {
			u.Version = nextVersion(u)
			u.LastTestResult = nil
			u.RecordSnapshot(now)
			u.Metrics.Apply(capability.MetricsEvent{Kind: capability.MetricVersion, Version: u.Version, At: now})
		}
		if req.Tags != nil {
			u.Tags = capability.NormalizeTags(req.Tags)
		}
		if req.Active != nil {
			u.Active = *req.Active
		}
		u.Metadata.LastModifiedDate = now
		if err := r.saveAll(st); err != nil {
			return nil, err
		}
		return result{unit: u.Clone(), changed: changed}, nil
	})
	if err != nil {
		return nil, err
	}
	res := v.(result)
	if res.changed {
		logging.Registry("Updated capability %s to %s", name, res.unit.Version)
		r.emitter.Emit(events.Info, fmt.Sprintf("capability %s updated to %s", name, res.unit.Version))
		if r.client != nil {
			if _, err := r.GenerateTestHarness(ctx, name); err != nil {
				logging.RegistryWarn("Test harness regeneration for %s failed: %v", name, err)
			}
		}
	}
	return res.unit, nil
}

// nextVersion bumps the highest version the unit has ever had, so an update
// after a rollback never reuses a label.
func nextVersion(u *capability.Unit) capability.Version {
	latest := u.Version
	for _, s := range u.Snapshots {
		if s.Version.Compare(latest) > 0 {
			latest = s.Version
		}
	}
	return latest.BumpPatch()
}

// Rollback restores the snapshot recorded for version and reactivates the
// unit at that label.
func (r *Registry) Rollback(ctx context.Context, name, version string) (*capability.Unit, error) {
	target, err := capability.ParseVersion(version)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "registry.rollback", err)
	}
	v, err := r.do(ctx, func(st *state) (any, error) {
		u, ok := st.get(name)
		if !ok {
			return nil, notFound("registry.rollback", name)
		}
		snap, ok := u.Snapshot(target)
		if !ok {
			return nil, apperr.Errorf(apperr.KindNotFound, "registry.rollback",
				"capability %s has no version %s", name, target)
		}
		now := r.now()
		u.Source = snap.Source
		u.Schema = snap.Schema.Clone()
		u.Version = snap.Version
		u.Active = true
		u.LastTestResult = nil
		u.Metadata.LastModifiedDate = now
		u.Metrics.Apply(capability.MetricsEvent{Kind: capability.MetricVersion, Version: u.Version, At: now})
		if err := r.saveAll(st); err != nil {
			return nil, err
		}
		return u.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	logging.Registry("Rolled back capability %s to %s", name, target)
	r.emitter.Emit(events.Info, fmt.Sprintf("capability %s rolled back to %s", name, target))
	return v.(*capability.Unit), nil
}

// Remove deletes a unit and its metrics. It reports whether anything was
// removed; removing an absent name is not an error.
func (r *Registry) Remove(ctx context.Context, name string) (bool, error) {
	v, err := r.do(ctx, func(st *state) (any, error) {
		i, ok := st.index[name]
		if !ok {
			return false, nil
		}
		st.units = append(st.units[:i], st.units[i+1:]...)
		delete(st.metrics, name)
		st.reindex()
		return true, r.saveAll(st)
	})
	if err != nil {
		return false, err
	}
	removed := v.(bool)
	if removed {
		logging.Registry("Removed capability %s", name)
		r.emitter.Emit(events.Info, fmt.Sprintf("capability %s removed", name))
	}
	return removed, nil
}

// Get returns a copy of a unit.
func (r *Registry) Get(ctx context.Context, name string) (*capability.Unit, error) {
	v, err := r.do(ctx, func(st *state) (any, error) {
		u, ok := st.get(name)
		if !ok {
			return nil, notFound("registry.get", name)
		}
		return u.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*capability.Unit), nil
}

// List returns copies of every unit in registry order.
func (r *Registry) List(ctx context.Context) ([]*capability.Unit, error) {
	v, err := r.do(ctx, func(st *state) (any, error) {
		out := make([]*capability.Unit, len(st.units))
		for i, u := range st.units {
			out[i] = u.Clone()
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*capability.Unit), nil
}

// Names returns the names of active units in registry order.
func (r *Registry) Names(ctx context.Context) ([]string, error) {
	v, err := r.do(ctx, func(st *state) (any, error) {
		var names []string
		for _, u := range st.units {
			if u.Active {
				names = append(names, u.Name)
			}
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Len returns the number of units.
func (r *Registry) Len(ctx context.Context) (int, error) {
	v, err := r.do(ctx, func(st *state) (any, error) { return len(st.units), nil })
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// UpdateMetrics folds ev into the unit's metrics and saves the metrics
// document.
func (r *Registry) UpdateMetrics(ctx context.Context, name string, ev capability.MetricsEvent) error {
	_, err := r.do(ctx, func(st *state) (any, error) {
		m, ok := st.metrics[name]
		if !ok {
			return nil, notFound("registry.update_metrics", name)
		}
		if ev.At.IsZero() {
			ev.At = r.now()
		}
		m.Apply(ev)
		return nil, r.saveMetrics(st)
	})
	return err
}

// Metrics returns a copy of a unit's metrics.
func (r *Registry) Metrics(ctx context.Context, name string) (*capability.Metrics, error) {
	v, err := r.do(ctx, func(st *state) (any, error) {
		m, ok := st.metrics[name]
		if !ok {
			return nil, notFound("registry.metrics", name)
		}
		return m.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*capability.Metrics), nil
}

// CompactListing renders one line per active unit, "name(signature):
// description", for the given names or for every unit when names is empty.
func (r *Registry) CompactListing(ctx context.Context, names []string) (string, error) {
	v, err := r.do(ctx, func(st *state) (any, error) {
		want := make(map[string]bool, len(names))
		for _, n := range names {
			want[n] = true
		}
		var b strings.Builder
		for _, u := range st.units {
			if !u.Active || (len(names) > 0 && !want[u.Name]) {
				continue
			}
			fmt.Fprintf(&b, "%s(%s): %s\n", u.Name, u.Schema.Signature, u.Schema.Description)
		}
		return b.String(), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// FindBySource returns the active unit whose normalized source equals the
// normalized script.
func (r *Registry) FindBySource(script string) (string, bool) {
	want := capability.NormalizeSource(script)
	if want == "" {
		return "", false
	}
	v, err := r.do(context.Background(), func(st *state) (any, error) {
		for _, u := range st.units {
			if u.Active && capability.NormalizeSource(u.Source) == want {
				return u.Name, nil
			}
		}
		return "", nil
	})
	if err != nil {
		return "", false
	}
	name := v.(string)
	return name, name != ""
}

func notFound(op, name string) error {
	return apperr.Errorf(apperr.KindNotFound, op, "capability %s not found", name)
}
