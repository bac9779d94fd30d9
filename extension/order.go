package extension

import "strings"

// Order keywords.
const (
	orderFirst  = "first"
	orderLast   = "last"
	orderBefore = "before"
	orderAfter  = "after"
)

// LoadingOrder is the position constraint attached to an extension declaration.
//
// The zero value is the "any" order. An order may combine an anchor (first or last) with any number of before
// and after constraints; ids that no other extension of the batch carries are simply not constraints.
type LoadingOrder struct {
	first  bool
	last   bool
	before []string
	after  []string
}

// AnyOrder places no constraint.
var AnyOrder = LoadingOrder{}

// FirstOrder anchors an extension ahead of all unanchored ones.
var FirstOrder = LoadingOrder{first: true}

// LastOrder anchors an extension behind all unanchored ones.
var LastOrder = LoadingOrder{last: true}

// Before returns an order placing an extension ahead of the extension with the given id.
func Before(id string) LoadingOrder {
	return LoadingOrder{before: []string{id}}
}

// After returns an order placing an extension behind the extension with the given id.
func After(id string) LoadingOrder {
	return LoadingOrder{after: []string{id}}
}

// ParseLoadingOrder parses an order declaration such as "first", "before:other" or "last, after:x".
// It never fails: unrecognized parts are dropped and an empty result is AnyOrder.
func ParseLoadingOrder(s string) LoadingOrder {
	var o LoadingOrder
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		switch strings.ToLower(part) {
		case orderFirst:
			if !o.last {
				o.first = true
			}
			continue
		case orderLast:
			if !o.first {
				o.last = true
			}
			continue
		}

		keyword, id, ok := splitConstraint(part)
		if !ok {
			continue
		}
		switch keyword {
		case orderBefore:
			o.before = append(o.before, id)
		case orderAfter:
			o.after = append(o.after, id)
		}
	}
	return o
}

// splitConstraint splits "before:id" or "before id" into its keyword and id.
func splitConstraint(part string) (string, string, bool) {
	idx := strings.IndexAny(part, ": ")
	if idx <= 0 {
		return "", "", false
	}
	keyword := strings.ToLower(part[:idx])
	if keyword != orderBefore && keyword != orderAfter {
		return "", "", false
	}
	id := strings.TrimSpace(part[idx+1:])
	if id == "" {
		return "", "", false
	}
	return keyword, id, true
}

// IsFirst reports whether the order is anchored first.
func (o LoadingOrder) IsFirst() bool { return o.first }

// IsLast reports whether the order is anchored last.
func (o LoadingOrder) IsLast() bool { return o.last }

// IsAny reports whether the order places no constraint at all.
func (o LoadingOrder) IsAny() bool {
	return !o.first && !o.last && len(o.before) == 0 && len(o.after) == 0
}

// BeforeIDs returns the ids this order must precede.
func (o LoadingOrder) BeforeIDs() []string { return o.before }

// AfterIDs returns the ids this order must follow.
func (o LoadingOrder) AfterIDs() []string { return o.after }

// String renders the order in the declaration syntax.
func (o LoadingOrder) String() string {
	if o.IsAny() {
		return "any"
	}
	var parts []string
	if o.first {
		parts = append(parts, orderFirst)
	}
	if o.last {
		parts = append(parts, orderLast)
	}
	for _, id := range o.before {
		parts = append(parts, orderBefore+":"+id)
	}
	for _, id := range o.after {
		parts = append(parts, orderAfter+":"+id)
	}
	return strings.Join(parts, ", ")
}

// Orderable is anything that can be sorted by loading order.
type Orderable interface {
	OrderID() string
	LoadingOrder() LoadingOrder
}

// SortByLoadingOrder returns items sorted by their loading orders. The input is not modified.
//
// First-anchored items come before unanchored ones, which come before last-anchored ones. Inside each group
// before/after constraints referring to an id of the same group are honored; whenever several items are free to
// go next, the one registered earliest goes. A constraint cycle is broken by emitting the earliest registered
// item still pending, so the result is deterministic for a given input.
func SortByLoadingOrder[T Orderable](items []T) []T {
	var groups [3][]int
	for i, item := range items {
		o := item.LoadingOrder()
		switch {
		case o.first:
			groups[0] = append(groups[0], i)
		case o.last:
			groups[2] = append(groups[2], i)
		default:
			groups[1] = append(groups[1], i)
		}
	}

	sorted := make([]T, 0, len(items))
	for _, group := range groups {
		for _, i := range sortGroup(items, group) {
			sorted = append(sorted, items[i])
		}
	}
	return sorted
}

// sortGroup orders the item indexes of one anchor group. Positions are local to the group.
func sortGroup[T Orderable](items []T, group []int) []int {
	n := len(group)
	if n < 2 {
		return group
	}

	byID := make(map[string][]int)
	for pos, i := range group {
		if id := items[i].OrderID(); id != "" {
			byID[id] = append(byID[id], pos)
		}
	}

	succ := make([][]int, n)
	indegree := make([]int, n)
	edges := make(map[[2]int]bool)
	addEdge := func(from, to int) {
		if from == to || edges[[2]int{from, to}] {
			return
		}
		edges[[2]int{from, to}] = true
		succ[from] = append(succ[from], to)
		indegree[to]++
	}

	for pos, i := range group {
		o := items[i].LoadingOrder()
		for _, id := range o.before {
			for _, other := range byID[id] {
				addEdge(pos, other)
			}
		}
		for _, id := range o.after {
			for _, other := range byID[id] {
				addEdge(other, pos)
			}
		}
	}

	result := make([]int, 0, n)
	emitted := make([]bool, n)
	for len(result) < n {
		next := -1
		for pos := 0; pos < n; pos++ {
			if !emitted[pos] && indegree[pos] == 0 {
				next = pos
				break
			}
		}
		if next < 0 {
			// cycle: take the earliest pending item
			for pos := 0; pos < n; pos++ {
				if !emitted[pos] {
					next = pos
					break
				}
			}
		}

		emitted[next] = true
		result = append(result, group[next])
		for _, to := range succ[next] {
			indegree[to]--
		}
	}
	return result
}
