package graph

// =============================================================================
// Ordering
// =============================================================================

// Order returns the nodes in edge order using Kahn's algorithm: every node
// appears after all of its predecessors. Ties are broken by name so the
// result is stable. Nodes left over by a cycle are appended in name order
// and reported through the returned error.
//
// Example:
//
//	// Edges: db -> api -> web
//	order, _ := g.Order()
//	// Result: [db, api, web]
func (g *Graph) Order() ([]string, error) {
	inDegree := make(map[string]int, len(g.out))
	var ready []string
	for _, n := range g.Nodes() {
		inDegree[n] = len(g.in[n])
		if inDegree[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]string, 0, len(g.out))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)

		for _, succ := range g.Successors(n) {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				ready = insertSorted(ready, succ)
			}
		}
	}

	if len(order) == len(g.out) {
		return order, nil
	}
	for _, n := range g.Nodes() {
		if inDegree[n] > 0 {
			order = append(order, n)
		}
	}
	return order, g.Validate()
}

func insertSorted(list []string, s string) []string {
	i := 0
	for i < len(list) && list[i] < s {
		i++
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = s
	return list
}
