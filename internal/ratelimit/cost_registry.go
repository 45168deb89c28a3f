package ratelimit

import (
	"sync"
)

// DefaultCost is charged for routes without an explicit cost.
const DefaultCost = 1

// Route names with non-default costs.
const (
	RouteDashboard = "dashboard"
	RouteRegister  = "register"
	RouteResolve   = "resolve-referrer"
)

// Known route costs. A dashboard load fans out into dozens of contract reads.
const (
	CostDashboard = 5
	CostRegister  = 3
	CostResolve   = 2
)

// CostRegistry maps route names to their costs.
// It is safe for concurrent use.
type CostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// NewCostRegistry creates a registry with the built-in costs plus overrides.
// Non-positive overrides are ignored.
func NewCostRegistry(overrides map[string]int) *CostRegistry {
	costs := map[string]int{
		RouteDashboard: CostDashboard,
		RouteRegister:  CostRegister,
		RouteResolve:   CostResolve,
	}
	for route, cost := range overrides {
		if cost > 0 {
			costs[route] = cost
		}
	}
	return &CostRegistry{costs: costs, defaultCost: DefaultCost}
}

// GetCost returns the cost for route.
func (r *CostRegistry) GetCost(route string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[route]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost updates the cost for route. Non-positive costs are ignored.
func (r *CostRegistry) SetCost(route string, cost int) {
	if cost <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[route] = cost
}
