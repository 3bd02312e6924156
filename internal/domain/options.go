package domain

import (
	"fmt"
	"strings"
)

// AllocationOptions is a set of independent policy flags for allocating and freeing
type AllocationOptions uint

const (
	// Create permits creating a new simulator when allocating
	Create AllocationOptions = 1 << iota
	// Reuse permits handing out an existing unallocated simulator
	Reuse
	// ShutdownOnAllocate makes a shut down simulator a precondition of allocation
	ShutdownOnAllocate
	// EraseOnAllocate makes erasing a reused simulator a precondition of allocation
	EraseOnAllocate
	// DeleteOnFree deletes the simulator when it is freed
	DeleteOnFree
	// EraseOnFree erases the simulator when it is freed
	EraseOnFree
	// PersistHistory writes the simulator's history to disk
	PersistHistory
)

var optionNames = []struct {
	flag AllocationOptions
	name string
}{
	{Create, "create"},
	{Reuse, "reuse"},
	{ShutdownOnAllocate, "shutdown_on_allocate"},
	{EraseOnAllocate, "erase_on_allocate"},
	{DeleteOnFree, "delete_on_free"},
	{EraseOnFree, "erase_on_free"},
	{PersistHistory, "persist_history"},
}

// Has reports whether every flag in f is set
func (o AllocationOptions) Has(f AllocationOptions) bool {
	return o&f == f
}

// With returns o with f added
func (o AllocationOptions) With(f AllocationOptions) AllocationOptions {
	return o | f
}

// Names returns the set flags in declaration order
func (o AllocationOptions) Names() []string {
	var names []string
	for _, n := range optionNames {
		if o.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return names
}

func (o AllocationOptions) String() string {
	names := o.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ParseAllocationOptions parses a comma or pipe separated list of option names.
// Dashes and underscores are interchangeable.
func ParseAllocationOptions(s string) (AllocationOptions, error) {
	var opts AllocationOptions
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '|' || r == ' '
	})
	for _, f := range fields {
		key := strings.ReplaceAll(strings.ToLower(f), "-", "_")
		if key == "none" {
			continue
		}
		found := false
		for _, n := range optionNames {
			if n.name == key {
				opts |= n.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown allocation option %q", f)
		}
	}
	return opts, nil
}
