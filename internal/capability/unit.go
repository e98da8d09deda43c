// Package capability defines the Capability Unit: a named, versioned,
// self-describing and independently testable piece of Go source that the
// registry owns and the sandbox executes.
package capability

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"autotool/internal/apperr"
)

// TestResult is the outcome of the last harness run.
type TestResult struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Metadata records provenance.
type Metadata struct {
	OriginalQuery    string    `json:"originalQuery,omitempty"`
	CreationDate     time.Time `json:"creationDate"`
	LastModifiedDate time.Time `json:"lastModifiedDate"`
	Author           string    `json:"author,omitempty"`
	Dependencies     []string  `json:"dependencies,omitempty"`
}

// Snapshot keeps the content of one version so rollback restores it.
type Snapshot struct {
	Version   Version   `json:"version"`
	Source    string    `json:"source"`
	Schema    Schema    `json:"schema"`
	CreatedAt time.Time `json:"createdAt"`
}

// Unit is one capability.
type Unit struct {
	Name           string      `json:"name"`
	Version        Version     `json:"version"`
	Source         string      `json:"source"`
	Schema         Schema      `json:"schema"`
	Tags           []string    `json:"tags"`
	Active         bool        `json:"active"`
	TestHarness    string      `json:"testHarness,omitempty"`
	LastTestResult *TestResult `json:"lastTestResult,omitempty"`
	Metadata       Metadata    `json:"metadata"`
	Snapshots      []Snapshot  `json:"snapshots,omitempty"`

	// Metrics are persisted separately and attached on load.
	Metrics *Metrics `json:"-"`
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]{0,63}$`)

// Validate checks the identity and body of a unit.
func (u *Unit) Validate() error {
	if u.Name == "" {
		return apperr.New(apperr.KindValidation, "capability.validate", "name is required")
	}
	if !namePattern.MatchString(u.Name) {
		return apperr.Errorf(apperr.KindValidation, "capability.validate",
			"invalid name %q: letters, digits, '_' and '-' only", u.Name)
	}
	if strings.TrimSpace(u.Source) == "" {
		return apperr.Errorf(apperr.KindValidation, "capability.validate", "%s: source is empty", u.Name)
	}
	return nil
}

// PassingTests reports whether the last harness run passed.
func (u *Unit) PassingTests() bool {
	return u.LastTestResult != nil && u.LastTestResult.Success
}

// FailingTests reports whether the last harness run failed.
func (u *Unit) FailingTests() bool {
	return u.LastTestResult != nil && !u.LastTestResult.Success
}

// RecordSnapshot stores the current content under the current version,
// replacing an existing snapshot with the same label.
func (u *Unit) RecordSnapshot(at time.Time) {
	snap := Snapshot{Version: u.Version, Source: u.Source, Schema: u.Schema.Clone(), CreatedAt: at}
	for i := range u.Snapshots {
		if u.Snapshots[i].Version == u.Version {
			u.Snapshots[i] = snap
			return
		}
	}
	u.Snapshots = append(u.Snapshots, snap)
}

// Snapshot returns the stored content for v.
func (u *Unit) Snapshot(v Version) (Snapshot, bool) {
	for _, s := range u.Snapshots {
		if s.Version == v {
			return s, true
		}
	}
	return Snapshot{}, false
}

// Clone deep-copies the unit, including attached metrics.
func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	out := *u
	out.Schema = u.Schema.Clone()
	out.Tags = append([]string(nil), u.Tags...)
	out.Metadata.Dependencies = append([]string(nil), u.Metadata.Dependencies...)
	if u.LastTestResult != nil {
		tr := *u.LastTestResult
		out.LastTestResult = &tr
	}
	out.Snapshots = make([]Snapshot, len(u.Snapshots))
	for i, s := range u.Snapshots {
		s.Schema = s.Schema.Clone()
		out.Snapshots[i] = s
	}
	out.Metrics = u.Metrics.Clone()
	return &out
}

// NormalizeTags lowercases, trims, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

var (
	lineComment = regexp.MustCompile(`(?m)//.*$`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// NormalizeSource reduces source to a comparable form: comments dropped and
// whitespace collapsed. Two scripts that differ only in layout compare equal.
func NormalizeSource(src string) string {
	src = lineComment.ReplaceAllString(src, "")
	return strings.TrimSpace(whitespace.ReplaceAllString(src, " "))
}
