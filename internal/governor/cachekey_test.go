package governor

import (
	"strconv"
	"testing"
)

func TestCanonicalFilters_OrderIndependent(t *testing.T) {
	t.Parallel()

	first := CanonicalFilters(FilterSet{"category": "books", "max_price": "25", "min_rank": "1000"})
	second := CanonicalFilters(FilterSet{"min_rank": "1000", "category": "books", "max_price": "25"})
	if first != second {
		t.Fatalf("expected identical canonical form, got %q and %q", first, second)
	}
}

func TestCanonicalFilters_NormalizesValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a    FilterSet
		b    FilterSet
	}{
		{"numeric", FilterSet{"max_price": "5.00"}, FilterSet{"max_price": "5"}},
		{"whitespace", FilterSet{"category": " books "}, FilterSet{"category": "books"}},
		{"case", FilterSet{"condition": "NEW"}, FilterSet{"condition": "new"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got, want := CanonicalFilters(tc.a), CanonicalFilters(tc.b); got != want {
				t.Fatalf("expected equivalent filters to canonicalize identically, got %q and %q", got, want)
			}
		})
	}
}

func TestCanonicalFilters_NormalizesKeys(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		a    FilterSet
		b    FilterSet
	}{
		{"whitespace", FilterSet{" b": "1", "a": "2"}, FilterSet{"b": "1", "a": "2"}},
		{"case", FilterSet{"Category": "books"}, FilterSet{"category": "books"}},
		{"sort_after_trim", FilterSet{" z": "1", "a": "2"}, FilterSet{"z": "1", " a ": "2"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got, want := CanonicalFilters(tc.a), CanonicalFilters(tc.b); got != want {
				t.Fatalf("expected equivalent keys to canonicalize identically, got %q and %q", got, want)
			}
		})
	}

	if CanonicalFilters(FilterSet{"a": "1"}) == CanonicalFilters(FilterSet{"b": "1"}) {
		t.Fatalf("distinct keys must not canonicalize identically")
	}

	// Keys that collide after normalization collapse deterministically.
	first := CanonicalFilters(FilterSet{"A": "2", "a ": "1"})
	second := CanonicalFilters(FilterSet{"a": "1", " A": "2"})
	if first != second {
		t.Fatalf("colliding keys must collapse deterministically, got %q and %q", first, second)
	}
}

func TestCanonicalFilters_Empty(t *testing.T) {
	t.Parallel()

	if got := CanonicalFilters(nil); got != "" {
		t.Fatalf("expected empty canonical form, got %q", got)
	}
	if got := CanonicalFilters(FilterSet{}); got != "" {
		t.Fatalf("expected empty canonical form, got %q", got)
	}
}

func TestDiscoveryKey_StableAndDistinct(t *testing.T) {
	t.Parallel()

	base := FilterSet{"category": "books", "max_price": "25"}
	permuted := FilterSet{"max_price": "25.0", "category": "Books"}
	if DiscoveryKey(base) != DiscoveryKey(permuted) {
		t.Fatalf("equivalent filters must share a key")
	}

	other := FilterSet{"category": "books", "max_price": "30"}
	if DiscoveryKey(base) == DiscoveryKey(other) {
		t.Fatalf("different filters must not share a key")
	}

	key := DiscoveryKey(base)
	if _, err := strconv.ParseUint(key, 16, 64); err != nil {
		t.Fatalf("expected a hex key, got %q: %v", key, err)
	}
}
