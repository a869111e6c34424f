// Package nodeselector implements spec §4.5's S-NAPTR node selector: it
// turns a domain's NAPTR records into an ordered, topology-aware list of
// candidate targets, and can pair two such lists (e.g. SGW and PGW
// candidates for the same APN) by colocation.
//
// Grounded on original_source/include/epc/epcdns.h (NodeSelector,
// NodeSelectorResult, CanonicalNodeName, ColocatedCandidate). Select works on
// NAPTR records and A/AAAA glue the caller has already resolved (cmd/epctoolsd
// gets them from pkg/dnscache); this package performs no lookups itself.
package nodeselector
