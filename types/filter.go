package types

import (
	"fmt"
	"strings"
)

// TagFilter selects instances carrying a tag key with one of the given values.
// A candidate matches a filter set when every filter matches (AND across
// filters) and a filter matches when the instance's value for the key is any
// of the filter's values (OR within a filter).
type TagFilter struct {
	Key    string   `yaml:"key" json:"key"`
	Values []string `yaml:"values" json:"values"`
}

// Validate ensures the filter is usable
func (f TagFilter) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("tag filter key cannot be empty")
	}
	if len(f.Values) == 0 {
		return fmt.Errorf("tag filter %q has no values", f.Key)
	}
	for _, v := range f.Values {
		if v == "" {
			return fmt.Errorf("tag filter %q has an empty value", f.Key)
		}
	}
	return nil
}

// Matches reports whether the tag map satisfies this single filter
func (f TagFilter) Matches(tags map[string]string) bool {
	got, ok := tags[f.Key]
	if !ok {
		return false
	}
	for _, want := range f.Values {
		if got == want {
			return true
		}
	}
	return false
}

// MatchesAll reports whether tags satisfy every filter in the set
func MatchesAll(filters []TagFilter, tags map[string]string) bool {
	for _, f := range filters {
		if !f.Matches(tags) {
			return false
		}
	}
	return true
}

// ParseTagFilter parses a single "Key=V1,V2" expression
func ParseTagFilter(expr string) (TagFilter, error) {
	key, values, ok := strings.Cut(expr, "=")
	if !ok {
		return TagFilter{}, fmt.Errorf("invalid tag filter %q: expected Key=Value[,Value]", expr)
	}

	filter := TagFilter{Key: strings.TrimSpace(key)}
	for _, v := range strings.Split(values, ",") {
		if v = strings.TrimSpace(v); v != "" {
			filter.Values = append(filter.Values, v)
		}
	}

	if err := filter.Validate(); err != nil {
		return TagFilter{}, err
	}
	return filter, nil
}

// ParseTagFilters parses repeated "Key=V1,V2" expressions
func ParseTagFilters(exprs []string) ([]TagFilter, error) {
	filters := make([]TagFilter, 0, len(exprs))
	for _, expr := range exprs {
		f, err := ParseTagFilter(expr)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// String renders the filter back to Key=V1,V2 form
func (f TagFilter) String() string {
	return f.Key + "=" + strings.Join(f.Values, ",")
}
