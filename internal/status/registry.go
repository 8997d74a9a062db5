package status

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrRegistryEmpty is returned when the backing status table has no rows.
var ErrRegistryEmpty = errors.New("status registry: no status codes configured")

// Querier is the subset of *sql.DB the registry reads from.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Entry is one row of the persisted status configuration.
type Entry struct {
	Name  Status
	Code  int
	Phase Phase
}

// Registry maps statuses to persisted numeric codes. It is populated once by
// Load and read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	loaded bool
	codes  map[Status]int
	names  map[int]Status
}

// NewRegistry returns an empty registry; call Load before use.
func NewRegistry() *Registry {
	return &Registry{}
}

// Load reads the status_codes table into memory. It fails when the table is
// empty, when a row names an unknown status or a mismatched phase, and when a
// known status has no code.
func (r *Registry) Load(ctx context.Context, q Querier) error {
	rows, err := q.QueryContext(ctx, `SELECT name, code, phase FROM status_codes ORDER BY code`)
	if err != nil {
		return fmt.Errorf("status registry: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			name  string
			code  int
			phase string
		)
		if err := rows.Scan(&name, &code, &phase); err != nil {
			return fmt.Errorf("status registry: scan: %w", err)
		}
		s, ok := Parse(name)
		if !ok {
			return fmt.Errorf("status registry: unknown status %q (code %d)", name, code)
		}
		if got := ParsePhase(phase); got != s.Phase() {
			return fmt.Errorf("status registry: %s configured as phase %q, expected %s", s, phase, s.Phase())
		}
		entries = append(entries, Entry{Name: s, Code: code, Phase: s.Phase()})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("status registry: iterate: %w", err)
	}
	return r.populate(entries)
}

// LoadEntries populates the registry from an in-memory table.
func (r *Registry) LoadEntries(entries []Entry) error {
	return r.populate(entries)
}

func (r *Registry) populate(entries []Entry) error {
	if len(entries) == 0 {
		return ErrRegistryEmpty
	}
	codes := make(map[Status]int, len(entries))
	names := make(map[int]Status, len(entries))
	for _, e := range entries {
		if _, dup := names[e.Code]; dup {
			return fmt.Errorf("status registry: code %d assigned twice", e.Code)
		}
		codes[e.Name] = e.Code
		names[e.Code] = e.Name
	}
	var missing []string
	for _, s := range allStatuses {
		if _, ok := codes[s]; !ok {
			missing = append(missing, string(s))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("status registry: missing codes for %s", strings.Join(missing, ", "))
	}

	r.mu.Lock()
	r.codes = codes
	r.names = names
	r.loaded = true
	r.mu.Unlock()
	return nil
}

// Loaded reports whether Load succeeded.
func (r *Registry) Loaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// CodeOf returns the persisted code for s. Calling it before Load or with an
// unknown status is a programming error and panics.
func (r *Registry) CodeOf(s Status) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		panic("status registry: CodeOf called before Load")
	}
	code, ok := r.codes[s]
	if !ok {
		panic(fmt.Sprintf("status registry: unknown status %q", s))
	}
	return code
}

// CodesOf maps several statuses at once.
func (r *Registry) CodesOf(statuses ...Status) []int {
	out := make([]int, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, r.CodeOf(s))
	}
	return out
}

// StatusOf maps a persisted code back to its status.
func (r *Registry) StatusOf(code int) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		return "", errors.New("status registry: not loaded")
	}
	s, ok := r.names[code]
	if !ok {
		return "", fmt.Errorf("status registry: unknown code %d", code)
	}
	return s, nil
}

// Entries returns the loaded table ordered by code.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.codes))
	for s, code := range r.codes {
		out = append(out, Entry{Name: s, Code: code, Phase: s.Phase()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
