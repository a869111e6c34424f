package nodeselector

import "strings"

// CanonicalNodeName is a parsed node hostname used for colocation
// comparison, grounded on original_source/include/epc/epcdns.h's
// CanonicalNodeName (a std::list<std::string> of reversed labels plus a
// topon flag).
//
// A topon-style hostname looks like "topon.s5.node1.epc.mnc120.mcc310";
// Labels holds every label in reverse order (root to leaf) so that
// TopologicalCompare can count shared ancestry by comparing prefixes.
type CanonicalNodeName struct {
	Topon  bool
	Labels []string // reversed: Labels[0] is the rightmost (most significant) label
}

// NewCanonicalNodeName parses hostname into a CanonicalNodeName. A
// hostname of the form "topon.<interface>.<rest...>" has Topon set and
// the "topon.<interface>." prefix stripped before reversal, matching the
// original's handling of the topon pseudo-label.
func NewCanonicalNodeName(hostname string) CanonicalNodeName {
	hostname = strings.TrimSuffix(hostname, ".")
	labels := strings.Split(hostname, ".")

	topon := false
	if len(labels) >= 2 && strings.EqualFold(labels[0], "topon") {
		topon = true
		labels = labels[2:] // drop "topon" and the interface label
	}

	reversed := make([]string, len(labels))
	for i, l := range labels {
		reversed[len(labels)-1-i] = l
	}
	return CanonicalNodeName{Topon: topon, Labels: reversed}
}

// Equal reports whether two canonical names denote the same node.
func (n CanonicalNodeName) Equal(other CanonicalNodeName) bool {
	if n.Topon != other.Topon || len(n.Labels) != len(other.Labels) {
		return false
	}
	for i := range n.Labels {
		if !strings.EqualFold(n.Labels[i], other.Labels[i]) {
			return false
		}
	}
	return true
}

// TopologicalCompare counts the number of leading labels (root toward
// leaves) that n and other share, used to score topological distance
// between two topon-style names (spec §4.5's Colocation rule).
func (n CanonicalNodeName) TopologicalCompare(other CanonicalNodeName) int {
	shared := 0
	for i := 0; i < len(n.Labels) && i < len(other.Labels); i++ {
		if !strings.EqualFold(n.Labels[i], other.Labels[i]) {
			break
		}
		shared++
	}
	return shared
}
