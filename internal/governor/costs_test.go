package governor

import "testing"

func TestCostTable_KnownAndDefaultCosts(t *testing.T) {
	t.Parallel()

	table, err := NewCostTable(map[string]int64{OpProduct: 1, OpFinder: 50}, 10)
	if err != nil {
		t.Fatalf("failed to create cost table: %v", err)
	}

	if got := table.Cost(OpProduct); got != 1 {
		t.Fatalf("unexpected product cost: %d", got)
	}
	if got := table.Cost(OpFinder); got != 50 {
		t.Fatalf("unexpected finder cost: %d", got)
	}
	if got := table.Cost("mystery"); got != 10 {
		t.Fatalf("unknown operation must fall back to the default, got %d", got)
	}
	if !table.Known(OpFinder) {
		t.Fatalf("expected finder to be a known operation")
	}
	if table.Known("mystery") {
		t.Fatalf("expected mystery to be unknown")
	}
}

func TestCostTable_CopiesInput(t *testing.T) {
	t.Parallel()

	costs := map[string]int64{OpProduct: 1}
	table, err := NewCostTable(costs, 10)
	if err != nil {
		t.Fatalf("failed to create cost table: %v", err)
	}
	costs[OpProduct] = 999
	if got := table.Cost(OpProduct); got != 1 {
		t.Fatalf("cost table must not alias the input map, got %d", got)
	}
}

func TestNewCostTable_RejectsInvalidEntries(t *testing.T) {
	t.Parallel()

	if _, err := NewCostTable(nil, 0); err == nil {
		t.Fatalf("expected error for non-positive default cost")
	}
	if _, err := NewCostTable(map[string]int64{OpProduct: -1}, 10); err == nil {
		t.Fatalf("expected error for negative cost")
	}
	if _, err := NewCostTable(map[string]int64{"": 5}, 10); err == nil {
		t.Fatalf("expected error for empty operation name")
	}
}
