// Package governor provides the operation cost table.
package governor

import "fmt"

// Upstream operation names.
const (
	OpProduct = "product"
	OpFinder  = "finder"
	OpToken   = "token"
)

// CostTable maps upstream operations to their credit cost. Unknown
// operations resolve to a conservative non-zero default so that no
// call is ever treated as free.
type CostTable struct {
	costs       map[string]int64
	defaultCost int64
}

// NewCostTable constructs a cost table. Every configured cost and the
// default must be positive.
func NewCostTable(costs map[string]int64, defaultCost int64) (*CostTable, error) {
	if defaultCost <= 0 {
		return nil, fmt.Errorf("default operation cost must be positive, got %d", defaultCost)
	}
	copied := make(map[string]int64, len(costs))
	for operation, cost := range costs {
		if operation == "" {
			return nil, fmt.Errorf("cost table contains an empty operation name")
		}
		if cost <= 0 {
			return nil, fmt.Errorf("cost for operation %q must be positive, got %d", operation, cost)
		}
		copied[operation] = cost
	}
	return &CostTable{costs: copied, defaultCost: defaultCost}, nil
}

// Cost returns the credit cost for an operation.
func (t *CostTable) Cost(operation string) int64 {
	if t == nil {
		return 1
	}
	if cost, ok := t.costs[operation]; ok {
		return cost
	}
	return t.defaultCost
}

// Known reports whether the operation has an explicit cost entry.
func (t *CostTable) Known(operation string) bool {
	if t == nil {
		return false
	}
	_, ok := t.costs[operation]
	return ok
}
