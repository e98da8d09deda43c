package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"autotool/internal/apperr"
	"autotool/internal/capability"
	"autotool/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// headerLine matches "// Key: value" lines at the top of a drop-in file.
var headerLine = regexp.MustCompile(`^//\s*(Signature|Description|Tags|Required):\s*(.*)$`)

// ImportFile adds or updates the unit defined by a drop-in Go file. The unit
// is named after the file; optional header comments set the schema:
//
//	// Signature: add(a: number, b: number)
//	// Description: Adds two numbers
//	// Required: a, b
//	// Tags: math
func (r *Registry) ImportFile(ctx context.Context, path string) (*capability.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	source := string(data)
	schema, tags := parseHeader(source)

	if _, err := r.Get(ctx, name); err == nil {
		return r.Update(ctx, name, UpdateRequest{Source: &source, Schema: &schema, Tags: tags})
	}
	return r.Add(ctx, AddRequest{Name: name, Source: source, Schema: schema, Tags: append(tags, "drop-in")})
}

func parseHeader(source string) (capability.Schema, []string) {
	var schema capability.Schema
	var tags []string
	for _, line := range strings.Split(source, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := headerLine.FindStringSubmatch(line)
		if m == nil {
			if strings.HasPrefix(line, "//") {
				continue
			}
			break
		}
		value := strings.TrimSpace(m[2])
		switch m[1] {
		case "Signature":
			schema.Signature = value
		case "Description":
			schema.Description = value
		case "Tags":
			tags = splitList(value)
		case "Required":
			schema.Parameters.Required = splitList(value)
		}
	}
	return schema, tags
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Watch imports every *.go file in dir, then keeps importing files that are
// created or written until ctx is cancelled. It blocks.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create drop-in directory: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, "*.go"))
	for _, path := range matches {
		r.importLogged(ctx, path)
	}
	logging.Registry("Watching drop-in directory %s (%d imported)", dir, len(matches))

	// Editors emit several events per save; import once things settle.
	const settle = 150 * time.Millisecond
	pending := map[string]bool{}
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".go" || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			pending[ev.Name] = true
			flush = time.After(settle)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.RegistryWarn("Drop-in watcher error: %v", err)
		case <-flush:
			flush = nil
			for path := range pending {
				r.importLogged(ctx, path)
			}
			pending = map[string]bool{}
		}
	}
}

func (r *Registry) importLogged(ctx context.Context, path string) {
	u, err := r.ImportFile(ctx, path)
	switch {
	case err == nil:
		logging.Registry("Imported %s as %s@%s", filepath.Base(path), u.Name, u.Version)
	case errors.Is(err, ErrClosed), ctx.Err() != nil:
	case errors.Is(err, apperr.ErrValidation):
		logging.RegistryWarn("Skipping drop-in %s: %v", path, err)
	default:
		logging.RegistryError("Failed to import %s: %v", path, err)
	}
}
