package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// Filter is a document-style query over record fields.
//
// A field maps either to a literal (equality) or to an operator object:
//
//	{"city": "Paris"}
//	{"population": {"$gte": 100000, "$lt": 500000}}
//	{"$or": [{"country": "FR"}, {"country": "BE"}]}
//
// Supported operators: $eq $ne $gt $gte $lt $lte $in $nin $regex (with
// $options "i") $exists, and the logical $and $or $nor.
type Filter map[string]any

// ParseFilter decodes a JSON filter. Blank input yields an empty filter
// that matches every record.
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return Filter{}, nil
	}
	var f Filter
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, fmt.Errorf("%w: must be a JSON object: %v", ErrInvalidFilter, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks operator names and operand shapes without evaluating.
func (f Filter) Validate() error {
	_, err := f.Matches(Record{})
	return err
}

// Matches reports whether the record satisfies every clause of the filter.
// All clauses are evaluated so a malformed operator is reported regardless
// of map order.
func (f Filter) Matches(r Record) (bool, error) {
	matched := true
	for key, cond := range f {
		ok, err := matchClause(key, cond, r)
		if err != nil {
			return false, err
		}
		matched = matched && ok
	}
	return matched, nil
}

func matchClause(key string, cond any, r Record) (bool, error) {
	switch key {
	case "$and", "$or", "$nor":
		subs, err := subFilters(key, cond)
		if err != nil {
			return false, err
		}
		return matchLogical(key, subs, r)
	}
	if strings.HasPrefix(key, "$") {
		return false, fmt.Errorf("%w: unknown top-level operator %s", ErrInvalidFilter, key)
	}

	value, present := r[key]
	if ops, ok := operatorDoc(cond); ok {
		matched := true
		for op, operand := range ops {
			ok, err := matchOperator(op, operand, value, present, ops)
			if err != nil {
				return false, err
			}
			matched = matched && ok
		}
		return matched, nil
	}
	return equals(value, cond), nil
}

func subFilters(op string, cond any) ([]Filter, error) {
	list, ok := cond.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: %s needs a non-empty array", ErrInvalidFilter, op)
	}
	subs := make([]Filter, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s entries must be objects", ErrInvalidFilter, op)
		}
		subs = append(subs, Filter(m))
	}
	return subs, nil
}

func matchLogical(op string, subs []Filter, r Record) (bool, error) {
	some, all := false, true
	for _, sub := range subs {
		ok, err := sub.Matches(r)
		if err != nil {
			return false, err
		}
		some = some || ok
		all = all && ok
	}
	switch op {
	case "$and":
		return all, nil
	case "$or":
		return some, nil
	default:
		return !some, nil
	}
}

// operatorDoc returns cond as an operator object when every key starts with $.
func operatorDoc(cond any) (map[string]any, bool) {
	m, ok := cond.(map[string]any)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func matchOperator(op string, operand, value any, present bool, ops map[string]any) (bool, error) {
	switch op {
	case "$eq":
		return equals(value, operand), nil
	case "$ne":
		return !equals(value, operand), nil
	case "$gt", "$gte", "$lt", "$lte":
		if !present || value == nil || operand == nil {
			return false, nil
		}
		c, ok := compare(value, operand)
		if !ok {
			return false, nil
		}
		switch op {
		case "$gt":
			return c > 0, nil
		case "$gte":
			return c >= 0, nil
		case "$lt":
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case "$in", "$nin":
		list, ok := operand.([]any)
		if !ok {
			return false, fmt.Errorf("%w: %s needs an array", ErrInvalidFilter, op)
		}
		found := false
		for _, candidate := range list {
			if equals(value, candidate) {
				found = true
				break
			}
		}
		if op == "$in" {
			return found, nil
		}
		return !found, nil
	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return false, fmt.Errorf("%w: $regex needs a string", ErrInvalidFilter)
		}
		if opts, ok := ops["$options"].(string); ok && strings.Contains(opts, "i") {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		return re.MatchString(s), nil
	case "$options":
		return true, nil
	case "$exists":
		want, ok := operand.(bool)
		if !ok {
			return false, fmt.Errorf("%w: $exists needs a boolean", ErrInvalidFilter)
		}
		return present == want, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %s", ErrInvalidFilter, op)
	}
}

// equals treats a missing field as null and matches scalars against array
// elements, so {"tags": "x"} matches a record whose tags contain "x".
func equals(value, want any) bool {
	if value == nil || want == nil {
		return value == nil && want == nil
	}
	if list, ok := value.([]any); ok {
		if _, wantList := want.([]any); !wantList {
			for _, item := range list {
				if equals(item, want) {
					return true
				}
			}
			return false
		}
	}
	if a, ok := toFloat(value); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
	}
	return reflect.DeepEqual(value, want)
}

// compare orders two numbers or two strings; ok is false for mixed kinds.
func compare(a, b any) (int, bool) {
	if x, ok := toFloat(a); ok {
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	x, ok := a.(string)
	if !ok {
		return 0, false
	}
	y, ok := b.(string)
	if !ok {
		return 0, false
	}
	return strings.Compare(x, y), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
