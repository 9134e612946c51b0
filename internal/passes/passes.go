// Package passes runs compiler passes over a design and keeps the registry
// that maps public pass names to their constructors.
package passes

import (
	"sort"

	"github.com/pkg/errors"

	"elastic/internal/diag"
	"elastic/internal/firrtl"
	"elastic/internal/handshake"
)

// Design is the unit of work passes operate on. The frontend fills Func;
// lowering passes fill Circuit.
type Design struct {
	Func    *handshake.Func
	Circuit *firrtl.Circuit
}

// Pass is one transformation or analysis over a design.
type Pass interface {
	Name() string
	Run(design *Design) error
}

// Manager runs an ordered list of passes.
type Manager struct {
	passes []Pass
}

// NewManager returns an empty pass manager.
func NewManager() *Manager {
	return &Manager{}
}

// Add appends a pass to the pipeline.
func (m *Manager) Add(p Pass) {
	m.passes = append(m.passes, p)
}

// Run executes every pass in order, stopping at the first failure.
func (m *Manager) Run(design *Design) error {
	if design == nil {
		return errors.New("no design to run passes on")
	}
	for _, p := range m.passes {
		if err := p.Run(design); err != nil {
			return errors.Wrapf(err, "pass %s", p.Name())
		}
	}
	return nil
}

// Constructor builds a registered pass with the given reporter.
type Constructor func(reporter *diag.Reporter) Pass

var registry = make(map[string]Constructor)

// Register makes a pass available under its public name. Later
// registrations of the same name win.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Lookup returns the constructor registered under name.
func Lookup(name string) (Constructor, bool) {
	ctor, ok := registry[name]
	return ctor, ok
}

// Names lists the registered pass names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
