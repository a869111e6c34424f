package nodeselector

import (
	"math/rand"
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"
)

// AppProtocol is one decoded app-protocol entry from a NAPTR service
// field, e.g. "x-s5-gtp" optionally carrying usage-type and
// network-capability qualifiers ("x-s5-gtp+ue-x+nc-lbo").
type AppProtocol struct {
	Protocol          string
	UsageTypes        []string
	NetworkCapabilities []string
}

// parseService splits a NAPTR service field ("service_tag:proto1+proto2")
// into its service tag and app-protocol list, per spec §4.5.
func parseService(service string) (serviceTag string, protocols []AppProtocol) {
	parts := strings.SplitN(service, ":", 2)
	serviceTag = parts[0]
	if len(parts) < 2 {
		return serviceTag, nil
	}
	for _, raw := range strings.Split(parts[1], "+") {
		if raw == "" {
			continue
		}
		switch {
		case strings.HasPrefix(raw, "ue-"):
			if len(protocols) > 0 {
				p := &protocols[len(protocols)-1]
				p.UsageTypes = append(p.UsageTypes, strings.TrimPrefix(raw, "ue-"))
			}
		case strings.HasPrefix(raw, "nc-"):
			if len(protocols) > 0 {
				p := &protocols[len(protocols)-1]
				p.NetworkCapabilities = append(p.NetworkCapabilities, strings.TrimPrefix(raw, "nc-"))
			}
		default:
			protocols = append(protocols, AppProtocol{Protocol: raw})
		}
	}
	return serviceTag, protocols
}

// NodeSelectorResult is one surviving, filtered NAPTR answer hydrated with
// its A/AAAA glue records.
type NodeSelectorResult struct {
	Hostname            string
	Order               uint16
	Preference           uint16
	Port                int
	SupportedProtocols   []AppProtocol
	IPv4Hosts            []net.IP
	IPv6Hosts            []net.IP
}

// CanonicalName returns the parsed CanonicalNodeName for this result's
// hostname, used for colocation comparison.
func (r *NodeSelectorResult) CanonicalName() CanonicalNodeName {
	return NewCanonicalNodeName(r.Hostname)
}

// Criteria is the input to a node-selection pass: the desired service and
// the protocol/usage-type/network-capability filters applied to each
// NAPTR answer's app-protocol list.
type Criteria struct {
	DesiredService             string // "any" matches every service tag
	DesiredProtocols           []string
	DesiredUsageTypes          []string
	DesiredNetworkCapabilities []string
}

// Select filters and orders answers per spec §4.5's Filtering and
// Ordering rules. glue supplies the A/AAAA records keyed by hostname, as
// would be found in a DNS response's additional section.
func Select(answers []*dns.NAPTR, criteria Criteria, glue map[string][]net.IP, port int) []*NodeSelectorResult {
	var results []*NodeSelectorResult
	for _, a := range answers {
		serviceTag, protocols := parseService(a.Service)
		if criteria.DesiredService != "any" && !strings.EqualFold(serviceTag, criteria.DesiredService) {
			continue
		}

		supported := intersectProtocols(protocols, criteria)
		if len(supported) == 0 {
			continue
		}

		result := &NodeSelectorResult{
			Hostname:           strings.TrimSuffix(a.Replacement, "."),
			Order:              a.Order,
			Preference:         a.Preference,
			Port:               port,
			SupportedProtocols: supported,
		}
		hydrate(result, glue)
		results = append(results, result)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Order != results[j].Order {
			return results[i].Order < results[j].Order
		}
		return results[i].Preference < results[j].Preference
	})
	return results
}

func intersectProtocols(protocols []AppProtocol, criteria Criteria) []AppProtocol {
	var out []AppProtocol
	for _, p := range protocols {
		if !containsFold(criteria.DesiredProtocols, p.Protocol) {
			continue
		}
		if len(p.UsageTypes) > 0 && !overlapsFold(p.UsageTypes, criteria.DesiredUsageTypes) {
			continue
		}
		if !containsAllFold(criteria.DesiredNetworkCapabilities, p.NetworkCapabilities) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func hydrate(result *NodeSelectorResult, glue map[string][]net.IP) {
	ips := glue[result.Hostname]
	v4 := make([]net.IP, 0, len(ips))
	v6 := make([]net.IP, 0, len(ips))
	for _, ip := range ips {
		if ip.To4() != nil {
			v4 = append(v4, ip)
		} else {
			v6 = append(v6, ip)
		}
	}
	shuffle(v4)
	shuffle(v6)
	result.IPv4Hosts = v4
	result.IPv6Hosts = v6
}

func shuffle(ips []net.IP) {
	rand.Shuffle(len(ips), func(i, j int) { ips[i], ips[j] = ips[j], ips[i] })
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func overlapsFold(a, b []string) bool {
	for _, x := range a {
		if containsFold(b, x) {
			return true
		}
	}
	return false
}

func containsAllFold(required, have []string) bool {
	for _, r := range required {
		if !containsFold(have, r) {
			return false
		}
	}
	return true
}
