package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"autotool/internal/capability"
	"autotool/internal/logging"
)

func (r *Registry) load() (*state, error) {
	st := &state{metrics: map[string]*capability.Metrics{}}

	data, err := os.ReadFile(r.registryPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read registry: %w", err)
	default:
		if err := json.Unmarshal(data, &st.units); err != nil {
			return nil, fmt.Errorf("failed to parse registry %s: %w", r.registryPath, err)
		}
	}

	data, err = os.ReadFile(r.metricsPath)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	default:
		if err := json.Unmarshal(data, &st.metrics); err != nil {
			// Metrics are advisory; start over rather than refuse to load.
			logging.RegistryWarn("Ignoring unreadable metrics %s: %v", r.metricsPath, err)
			st.metrics = map[string]*capability.Metrics{}
		}
	}

	for _, u := range st.units {
		m, ok := st.metrics[u.Name]
		if !ok || m == nil {
			m = capability.NewMetrics(u.Version, u.Metadata.LastModifiedDate)
			st.metrics[u.Name] = m
		}
		u.Metrics = m
	}
	st.reindex()
	return st, nil
}

// saveAll writes both documents.
func (r *Registry) saveAll(st *state) error {
	if err := writeJSON(r.registryPath, st.units); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return r.saveMetrics(st)
}

// saveMetrics writes only the metrics document.
func (r *Registry) saveMetrics(st *state) error {
	if err := writeJSON(r.metricsPath, st.metrics); err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}
	return nil
}

// writeJSON replaces path with v's JSON via a temp file and rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
