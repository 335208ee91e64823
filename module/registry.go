// Package module tracks the images loaded into a debuggee's address space
// and translates between module-relative and absolute addresses. A
// Registry is owned exclusively by a single session's debug-event loop
// worker; it is never accessed concurrently, so it carries no internal
// locking of its own.
package module

import (
	"github.com/jetsetilly/watdbg/watdwarf"
)

// Export is a single entry from a module's PE export directory: a function
// name and its address relative to the module's base.
type Export struct {
	Name string
	RVA  uint32
}

// Module represents one loaded image: the executable, or a DLL it (directly
// or indirectly) loads.
type Module struct {
	ID   string
	Path string

	// Base and Size describe the module's placement in the debuggee's
	// address space. Base is non-zero once the module-load event has been
	// processed.
	Base uint64
	Size uint64

	// Index is the module's line index, built by watdwarf once its debug
	// container has been located and parsed. It is nil when the module
	// carries no usable debug information (NoDebugInfo is recovered
	// locally, per the error handling policy -- the module simply has no
	// index).
	Index *watdwarf.LineIndex

	// Exports is the module's PE export directory, when present. It lets a
	// pending breakpoint's diagnostics name a specific missing export
	// instead of a bare unresolved location.
	Exports []Export
}

// Contains reports whether abs falls within the module's address range.
func (m *Module) Contains(abs uint64) bool {
	return m.Base != 0 && abs >= m.Base && abs < m.Base+m.Size
}

// Registry tracks every module currently loaded in a session's debuggee.
// Modules are kept in registration order: the executable is always added
// first, then DLLs in the order the OS reports loading them. That order is
// also the deterministic scan order for resolve_line_to_address.
type Registry struct {
	order []*Module
	byID  map[string]*Module
}

// NewRegistry creates an empty module registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Module)}
}

// Add registers a module. If a module with the same ID is already
// registered it is replaced in place, preserving its position in the scan
// order.
func (r *Registry) Add(m *Module) {
	if _, ok := r.byID[m.ID]; ok {
		for i, existing := range r.order {
			if existing.ID == m.ID {
				r.order[i] = m
				break
			}
		}
		r.byID[m.ID] = m
		return
	}

	r.order = append(r.order, m)
	r.byID[m.ID] = m
}

// Remove unregisters a module by id. It is a no-op if the id is unknown.
func (r *Registry) Remove(id string) {
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, m := range r.order {
		if m.ID == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns the module registered under id, if any.
func (r *Registry) Get(id string) (*Module, bool) {
	m, ok := r.byID[id]
	return m, ok
}

// LookupByAddress finds the module whose address range contains abs.
func (r *Registry) LookupByAddress(abs uint64) (*Module, bool) {
	for _, m := range r.order {
		if m.Contains(abs) {
			return m, true
		}
	}
	return nil, false
}

// Iterate returns every registered module in scan order (executable first,
// then DLLs in load order). Callers must not mutate the returned slice.
func (r *Registry) Iterate() []*Module {
	return r.order
}

// ResolveLineToAddress tries every module's line index, in scan order, and
// returns the first hit. The order is deterministic so repeated calls with
// the same registry state always pick the same module when more than one
// claims the same normalized path.
func (r *Registry) ResolveLineToAddress(path string, line int) (abs uint64, mod *Module, ok bool) {
	for _, m := range r.order {
		if m.Index == nil {
			continue
		}
		if relAddr, found := m.Index.LineToAddress(path, line); found {
			return m.Base + relAddr, m, true
		}
	}
	return 0, nil, false
}

// ResolveAddressToLine finds the module owning abs and delegates to its line
// index, translating the result back from module-relative terms.
func (r *Registry) ResolveAddressToLine(abs uint64) (row watdwarf.LineRow, mod *Module, ok bool) {
	m, found := r.LookupByAddress(abs)
	if !found || m.Index == nil {
		return watdwarf.LineRow{}, nil, false
	}

	row, found = m.Index.AddressToLine(abs - m.Base)
	if !found {
		return watdwarf.LineRow{}, nil, false
	}

	return row, m, true
}
