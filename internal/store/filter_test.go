package store

import (
	"errors"
	"testing"
)

func TestFilterMatches(t *testing.T) {
	rec := Record{
		"name":       "Paris",
		"country":    "FR",
		"population": 2100000.0,
		"tags":       []any{"capital", "river"},
		"mayor":      nil,
	}

	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{"empty", ``, true},
		{"equality", `{"name": "Paris"}`, true},
		{"equality miss", `{"name": "Lyon"}`, false},
		{"null matches null", `{"mayor": null}`, true},
		{"null matches missing", `{"area": null}`, true},
		{"array element", `{"tags": "river"}`, true},
		{"whole array", `{"tags": ["capital", "river"]}`, true},
		{"eq", `{"country": {"$eq": "FR"}}`, true},
		{"ne", `{"country": {"$ne": "FR"}}`, false},
		{"ne null", `{"mayor": {"$ne": null}}`, false},
		{"gt", `{"population": {"$gt": 2000000}}`, true},
		{"gte lt range", `{"population": {"$gte": 1000000, "$lt": 2000000}}`, false},
		{"lte", `{"population": {"$lte": 2100000}}`, true},
		{"string order", `{"name": {"$gt": "Lyon"}}`, true},
		{"mixed kinds never order", `{"name": {"$gt": 5}}`, false},
		{"in", `{"country": {"$in": ["BE", "FR"]}}`, true},
		{"nin", `{"country": {"$nin": ["BE", "FR"]}}`, false},
		{"regex", `{"name": {"$regex": "^Par"}}`, true},
		{"regex case", `{"name": {"$regex": "^par", "$options": "i"}}`, true},
		{"regex case sensitive", `{"name": {"$regex": "^par"}}`, false},
		{"exists", `{"mayor": {"$exists": true}}`, true},
		{"not exists", `{"area": {"$exists": false}}`, true},
		{"and", `{"$and": [{"country": "FR"}, {"name": "Paris"}]}`, true},
		{"or", `{"$or": [{"country": "BE"}, {"name": "Paris"}]}`, true},
		{"nor", `{"$nor": [{"country": "BE"}, {"name": "Lyon"}]}`, true},
		{"nested logic", `{"$or": [{"$and": [{"country": "FR"}, {"population": {"$lt": 10}}]}, {"tags": "capital"}]}`, true},
		{"literal object equality", `{"meta": {"a": 1}}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := ParseFilter(tt.filter)
			if err != nil {
				t.Fatalf("ParseFilter(%s): %v", tt.filter, err)
			}
			got, err := f.Matches(rec)
			if err != nil {
				t.Fatalf("Matches: %v", err)
			}
			if got != tt.want {
				t.Errorf("%s: got %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestParseFilterErrors(t *testing.T) {
	bad := []string{
		`not json`,
		`[1, 2]`,
		`{"a": {"$bogus": 1}}`,
		`{"$where": "1"}`,
		`{"$or": []}`,
		`{"$and": [1]}`,
		`{"a": {"$in": "x"}}`,
		`{"a": {"$regex": "("}}`,
		`{"a": {"$exists": "yes"}}`,
		`{"ok": 1, "b": {"$bogus": 1}}`,
	}
	for _, s := range bad {
		if _, err := ParseFilter(s); !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("ParseFilter(%s) = %v, want ErrInvalidFilter", s, err)
		}
	}
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f Filter
	ok, err := f.Matches(Record{"a": 1.0})
	if err != nil || !ok {
		t.Fatalf("nil filter: ok=%v err=%v", ok, err)
	}
}
