package filter

import (
	"sort"
	"strings"

	"cdc-rowstream/internal/record"
)

const (
	// SourceChannelPrefix is stripped from the front of image schema names
	SourceChannelPrefix = "mysql_binlog_source."
	// ValueSchemaSuffix is stripped from the end of image schema names
	ValueSchemaSuffix = ".Value"
)

// Mode selects how a Policy picks the fields an update is compared on
type Mode int

const (
	NoFilter Mode = iota
	Include
	Exclude
)

func (m Mode) String() string {
	switch m {
	case NoFilter:
		return "none"
	case Include:
		return "include"
	case Exclude:
		return "exclude"
	}
	return "unknown"
}

// Policy is the field policy of one table
type Policy struct {
	mode   Mode
	fields map[string]struct{}
}

// IncludeFields builds a policy comparing exactly the given fields. An empty
// list yields NoFilter.
func IncludeFields(fields ...string) Policy {
	return newPolicy(Include, fields)
}

// ExcludeFields builds a policy comparing every field except the given ones.
// An empty list yields NoFilter.
func ExcludeFields(fields ...string) Policy {
	return newPolicy(Exclude, fields)
}

func newPolicy(mode Mode, fields []string) Policy {
	if len(fields) == 0 {
		return Policy{}
	}
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return Policy{mode: mode, fields: set}
}

// Mode returns the policy mode
func (p Policy) Mode() Mode {
	return p.mode
}

// Fields returns the configured field names, sorted
func (p Policy) Fields() []string {
	out := make([]string, 0, len(p.fields))
	for f := range p.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (p Policy) has(name string) bool {
	_, ok := p.fields[name]
	return ok
}

// Policies maps logical table keys ("database.table") to their policy. A nil
// Policies has no table configured.
type Policies map[string]Policy

// NewPolicies folds separate include and exclude maps into Policies. When a
// table appears in both with a non-empty list, include wins; such keys are
// returned in conflicts so the caller can report them.
func NewPolicies(include, exclude map[string][]string) (policies Policies, conflicts []string) {
	policies = make(Policies)
	for table, fields := range exclude {
		if p := ExcludeFields(fields...); p.mode != NoFilter {
			policies[table] = p
		}
	}
	for table, fields := range include {
		p := IncludeFields(fields...)
		if p.mode == NoFilter {
			continue
		}
		if _, ok := policies[table]; ok {
			conflicts = append(conflicts, table)
		}
		policies[table] = p
	}
	sort.Strings(conflicts)
	return policies, conflicts
}

// Lookup returns the policy of a table key, NoFilter when none is configured
func (ps Policies) Lookup(tableKey string) Policy {
	if ps == nil {
		return Policy{}
	}
	return ps[tableKey]
}

// NormalizeTableKey turns an image schema name such as
// "mysql_binlog_source.inventory.customers.Value" into the logical table key
// "inventory.customers". Names without the prefix or suffix are kept as is on
// that side.
func NormalizeTableKey(schemaName string) string {
	key := strings.TrimPrefix(schemaName, SourceChannelPrefix)
	return strings.TrimSuffix(key, ValueSchemaSuffix)
}

// ComparisonFields returns the fields of before that the policy compares, in
// image order. It is empty for NoFilter.
func (p Policy) ComparisonFields(before *record.Image) []string {
	if p.mode == NoFilter || before == nil {
		return nil
	}
	var out []string
	for _, f := range before.Fields {
		switch p.mode {
		case Include:
			if p.has(f.Name) {
				out = append(out, f.Name)
			}
		case Exclude:
			if !p.has(f.Name) {
				out = append(out, f.Name)
			}
		}
	}
	return out
}

// HasObservableChange reports whether an update from before to after changes
// at least one field the table's policy cares about. It reports true without
// comparing anything when the policy selects no field.
func HasObservableChange(tableKey string, before, after *record.Image, policies Policies) bool {
	fields := policies.Lookup(tableKey).ComparisonFields(before)
	if len(fields) == 0 {
		return true
	}
	for _, name := range fields {
		b, _ := before.Get(name)
		a, _ := after.Get(name)
		if !record.ValuesEqual(b, a) {
			return true
		}
	}
	return false
}
