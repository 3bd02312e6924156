package filter

import (
	"strings"

	"github.com/vburojevic/simpool/internal/domain"
)

// Simulator is the view of a pooled simulator that filters match against
type Simulator struct {
	Device    domain.Device
	Allocated bool
}

// Filter determines if a simulator should be included
type Filter interface {
	// Match returns true if the simulator passes the filter
	Match(sim *Simulator) bool
}

// Chain combines multiple filters (all must pass)
type Chain struct {
	filters []Filter
}

// NewChain creates a filter chain from multiple filters
func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Match returns true only if all filters pass
func (c *Chain) Match(sim *Simulator) bool {
	for _, f := range c.filters {
		if !f.Match(sim) {
			return false
		}
	}
	return true
}

// Add appends a filter to the chain
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Len is the number of filters in the chain
func (c *Chain) Len() int {
	return len(c.filters)
}

// RuntimeFilter keeps simulators whose runtime contains a substring, ignoring case
type RuntimeFilter struct {
	needle string
}

// NewRuntimeFilter creates a runtime filter; "17" matches "iOS 17.0"
func NewRuntimeFilter(runtime string) *RuntimeFilter {
	return &RuntimeFilter{needle: strings.ToLower(runtime)}
}

// Match returns true if the simulator's runtime contains the needle
func (f *RuntimeFilter) Match(sim *Simulator) bool {
	return strings.Contains(strings.ToLower(sim.Device.Runtime), f.needle)
}
