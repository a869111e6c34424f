package nodeselector

import "sort"

// PairType classifies how two NodeSelectorResults relate, per spec §4.5's
// Colocation rule. Order matters: it is the primary sort key for
// ColocatedCandidateList.
type PairType int

const (
	// Colocated means both candidates' CanonicalNodeNames are equal - they
	// are the same physical node.
	Colocated PairType = iota
	// TopologicalDistance means both hostnames are topon-style and share a
	// common ancestor closer than the root; ranked by shared-label count,
	// most specific first.
	TopologicalDistance
	// DNSPriority means neither of the above held (including the case
	// where only one side is topon-style, per Open Question #3), so the
	// pair falls back to plain DNS order/preference.
	DNSPriority
)

func (p PairType) String() string {
	switch p {
	case Colocated:
		return "colocated"
	case TopologicalDistance:
		return "topological-distance"
	default:
		return "dns-priority"
	}
}

// ColocatedCandidate pairs one result from each of two NodeSelector
// result lists (e.g. SGW and PGW candidates for the same APN).
type ColocatedCandidate struct {
	Type       PairType
	Candidate1 *NodeSelectorResult
	Candidate2 *NodeSelectorResult
	// Distance is the shared-label count for TopologicalDistance pairs;
	// meaningless for other pair types.
	Distance int
}

// classify determines the PairType (and, for TopologicalDistance,
// the distance score) for one candidate pair.
func classify(c1, c2 *NodeSelectorResult) (PairType, int) {
	n1, n2 := c1.CanonicalName(), c2.CanonicalName()
	if n1.Equal(n2) {
		return Colocated, 0
	}
	if n1.Topon && n2.Topon {
		return TopologicalDistance, n1.TopologicalCompare(n2)
	}
	return DNSPriority, 0
}

// Colocate pairs every candidate in list1 with every candidate in list2,
// classifies each pair, and returns them sorted ascending by
// (pair_type, candidate1.order, candidate1.preference) per spec §4.5, except
// that within TopologicalDistance pairs a larger Distance (more shared
// labels) sorts first, ahead of order and preference.
func Colocate(list1, list2 []*NodeSelectorResult) []ColocatedCandidate {
	pairs := make([]ColocatedCandidate, 0, len(list1)*len(list2))
	for _, c1 := range list1 {
		for _, c2 := range list2 {
			pairType, distance := classify(c1, c2)
			pairs = append(pairs, ColocatedCandidate{
				Type:       pairType,
				Candidate1: c1,
				Candidate2: c2,
				Distance:   distance,
			})
		}
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.Type != b.Type {
			// TopologicalDistance pairs rank by distance (most shared
			// labels first) before falling back to order/preference.
			return a.Type < b.Type
		}
		if a.Type == TopologicalDistance && a.Distance != b.Distance {
			return a.Distance > b.Distance
		}
		if a.Candidate1.Order != b.Candidate1.Order {
			return a.Candidate1.Order < b.Candidate1.Order
		}
		return a.Candidate1.Preference < b.Candidate1.Preference
	})
	return pairs
}
