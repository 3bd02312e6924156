package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vburojevic/simpool/internal/domain"
)

// Fields are the simulator attributes a where expression can compare
var Fields = []string{"name", "udid", "state", "device_type", "runtime", "allocated", "launched", "available"}

var fieldAliases = map[string]string{
	"devicetype": "device_type",
	"type":       "device_type",
}

// Text fields take every operator
var textFields = map[string]func(*Simulator) string{
	"name":        func(s *Simulator) string { return s.Device.Name },
	"udid":        func(s *Simulator) string { return s.Device.UDID },
	"device_type": func(s *Simulator) string { return s.Device.DeviceType },
	"runtime":     func(s *Simulator) string { return s.Device.Runtime },
}

// Flag fields only compare with = and != against true or false
var flagFields = map[string]func(*Simulator) bool{
	"allocated": func(s *Simulator) bool { return s.Allocated },
	"launched":  func(s *Simulator) bool { return s.Device.State.IsLaunched() },
	"available": func(s *Simulator) bool { return s.Device.IsAvailable },
}

// comparison is the parsed form of field OP value before it is bound to a field
type comparison struct {
	field   string
	op      string
	value   string
	pattern bool // value came from a /regex/ literal
}

// bind checks the comparison against its field and builds the matcher for it
func (c comparison) bind() (expr, error) {
	field := strings.ToLower(c.field)
	if alias, ok := fieldAliases[field]; ok {
		field = alias
	}
	getText, isText := textFields[field]
	getFlag, isFlag := flagFields[field]
	if !isText && !isFlag && field != "state" {
		return nil, fmt.Errorf("unknown field %q (use %s)", c.field, strings.Join(Fields, ", "))
	}
	if c.pattern && c.op != "~" && c.op != "!~" {
		return nil, fmt.Errorf("regex literal for %s needs ~ or !~, not %s", field, c.op)
	}

	if isText {
		return newTextMatch(getText, c.op, c.value)
	}
	if c.op != "=" && c.op != "!=" {
		return nil, fmt.Errorf("operator %s does not apply to %s (use = or !=)", c.op, field)
	}
	if isFlag {
		want, err := parseFlag(c.value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", field, err)
		}
		return flagMatch{get: getFlag, want: want == (c.op == "=")}, nil
	}

	state := domain.ParseState(c.value)
	if state == domain.StateUnknown && !strings.EqualFold(c.value, string(domain.StateUnknown)) {
		return nil, fmt.Errorf("unknown state %q", c.value)
	}
	return stateMatch{state: state, negate: c.op == "!="}, nil
}

func parseFlag(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("expects true or false, got %q", v)
	}
	return b, nil
}

// textMatch compares a string field. Equality and the prefix and suffix
// operators ignore case; regexes do not unless they ask to.
type textMatch struct {
	get   func(*Simulator) string
	op    string
	value string
	re    *regexp.Regexp
}

func newTextMatch(get func(*Simulator) string, op, value string) (*textMatch, error) {
	m := &textMatch{get: get, op: op, value: strings.ToLower(value)}
	if op == "~" || op == "!~" {
		re, err := regexp.Compile(value)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", value, err)
		}
		m.re = re
	}
	return m, nil
}

func (m *textMatch) Match(sim *Simulator) bool {
	v := m.get(sim)
	switch m.op {
	case "~":
		return m.re.MatchString(v)
	case "!~":
		return !m.re.MatchString(v)
	}

	v = strings.ToLower(v)
	switch m.op {
	case "=":
		return v == m.value
	case "!=":
		return v != m.value
	case "^":
		return strings.HasPrefix(v, m.value)
	case "$":
		return strings.HasSuffix(v, m.value)
	}
	return false
}

type stateMatch struct {
	state  domain.State
	negate bool
}

func (m stateMatch) Match(sim *Simulator) bool {
	return (sim.Device.State == m.state) != m.negate
}

type flagMatch struct {
	get  func(*Simulator) bool
	want bool
}

func (m flagMatch) Match(sim *Simulator) bool {
	return m.get(sim) == m.want
}

// WhereFilter keeps simulators matching every one of its expressions
type WhereFilter struct {
	expr expr
}

// NewWhereFilter parses where expressions; several are combined with AND.
// It returns nil when there is nothing to filter on.
func NewWhereFilter(expressions []string) (*WhereFilter, error) {
	if len(expressions) == 0 {
		return nil, nil
	}

	all := make(allOf, 0, len(expressions))
	for _, src := range expressions {
		e, err := parseWhere(src)
		if err != nil {
			return nil, fmt.Errorf("where %q: %w", src, err)
		}
		all = append(all, e)
	}
	return &WhereFilter{expr: all}, nil
}

// Match returns true if the simulator matches ALL where expressions
func (f *WhereFilter) Match(sim *Simulator) bool {
	if f == nil || f.expr == nil {
		return true
	}
	return f.expr.Match(sim)
}
