// Package manifest accumulates wb spec file entries as a run produces files.
//
// Each Add issues exactly one wb_command -add-to-spec-file invocation and
// records the entry in call order. Workbench reads spec files top to bottom,
// so entries are append-only and never reordered.
package manifest

import (
	"context"
	"sync"

	"github.com/Iron-Ham/ciftiprep/internal/wb"
)

// Runner issues external invocations.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// Entry is one (structure, file) line of a spec file.
type Entry struct {
	Structure string `yaml:"structure"`
	Path      string `yaml:"path"`
}

// Manifest is the recorded content of one spec file.
type Manifest struct {
	Spec    string  `yaml:"spec"`
	Entries []Entry `yaml:"entries"`
}

// Accumulator records spec file entries in the order they are added.
type Accumulator struct {
	runner    Runner
	wbCommand string

	mu      sync.Mutex
	order   []string
	entries map[string][]Entry
}

// NewAccumulator creates an Accumulator that appends through runner using
// the given wb_command binary.
func NewAccumulator(runner Runner, wbCommand string) *Accumulator {
	return &Accumulator{
		runner:    runner,
		wbCommand: wbCommand,
		entries:   make(map[string][]Entry),
	}
}

// Add appends path under structure to spec. The entry is recorded whenever
// the runner returns nil, which under ContinueOnError includes a failed
// invocation; the failure is then visible in the runner's step records.
func (a *Accumulator) Add(ctx context.Context, spec, structure, path string) error {
	if err := a.runner.Run(ctx, a.wbCommand, wb.AddToSpecFile(spec, structure, path)...); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.entries[spec]; !ok {
		a.order = append(a.order, spec)
	}
	a.entries[spec] = append(a.entries[spec], Entry{Structure: structure, Path: path})
	return nil
}

// Specs returns the spec files in first-use order.
func (a *Accumulator) Specs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.order...)
}

// Entries returns a copy of the entries of spec in the order they were added.
func (a *Accumulator) Entries(spec string) []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Entry(nil), a.entries[spec]...)
}

// Manifests returns every spec file with its entries, in first-use order.
func (a *Accumulator) Manifests() []Manifest {
	specs := a.Specs()
	out := make([]Manifest, 0, len(specs))
	for _, spec := range specs {
		out = append(out, Manifest{Spec: spec, Entries: a.Entries(spec)})
	}
	return out
}

// Len returns the total number of recorded entries.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, entries := range a.entries {
		n += len(entries)
	}
	return n
}
