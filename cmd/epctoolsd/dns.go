package main

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"

	"github.com/cuemby/epctools/pkg/dnscache"
	"github.com/cuemby/epctools/pkg/nodeselector"
)

var (
	dnsServer             string
	dnsPort               int
	dnsQType              string
	dnsDesiredService     string
	dnsDesiredProtocols   []string
	dnsDesiredUsageTypes  []string
	dnsDesiredNetworkCaps []string
	dnsSelectPort         int
)

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "DNS cache query and S-NAPTR node-selection commands",
}

var dnsQueryCmd = &cobra.Command{
	Use:   "query <domain>",
	Short: "Query a domain through a throwaway cache and print the raw answers",
	Args:  cobra.ExactArgs(1),
	RunE:  runDNSQuery,
}

var dnsSelectCmd = &cobra.Command{
	Use:   "select <domain>",
	Short: "Resolve a domain's NAPTR records and run the S-NAPTR node selector over the results",
	Args:  cobra.ExactArgs(1),
	RunE:  runDNSSelect,
}

func init() {
	dnsCmd.PersistentFlags().StringVar(&dnsServer, "server", "8.8.8.8", "upstream DNS server address")
	dnsCmd.PersistentFlags().IntVar(&dnsPort, "port", 53, "upstream DNS server port")

	dnsQueryCmd.Flags().StringVar(&dnsQType, "type", "NAPTR", "record type to query (A, AAAA, NAPTR, ...)")

	dnsSelectCmd.Flags().StringVar(&dnsDesiredService, "service", "any", "desired NAPTR service tag, or \"any\"")
	dnsSelectCmd.Flags().StringSliceVar(&dnsDesiredProtocols, "protocol", nil, "desired app-protocol(s), e.g. x-s5-gtp")
	dnsSelectCmd.Flags().StringSliceVar(&dnsDesiredUsageTypes, "usage-type", nil, "desired usage type(s)")
	dnsSelectCmd.Flags().StringSliceVar(&dnsDesiredNetworkCaps, "network-capability", nil, "desired network capability(s), all must be present")
	dnsSelectCmd.Flags().IntVar(&dnsSelectPort, "target-port", 0, "port to attach to selected results")

	dnsCmd.AddCommand(dnsQueryCmd)
	dnsCmd.AddCommand(dnsSelectCmd)
}

func runDNSQuery(cmd *cobra.Command, args []string) error {
	domain := args[0]
	qtype, ok := dns.StringToType[strings.ToUpper(dnsQType)]
	if !ok {
		return fmt.Errorf("unknown record type %q", dnsQType)
	}

	cache := dnscache.New(dnscache.DefaultNamedServerID, nil)
	cache.AddNamedServer(dnscache.NamedServer{Address: dnsServer, Port: dnsPort})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	answers, cacheHit, err := cache.Query(ctx, qtype, domain, false)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}
	fmt.Printf("cache hit: %v\n", cacheHit)
	for _, rr := range answers {
		fmt.Println(rr.String())
	}
	return nil
}

// runDNSSelect resolves domain's NAPTR records, hydrates their targets'
// A/AAAA glue with a second round of live queries, and runs the S-NAPTR
// selector (pkg/nodeselector) over the result, per spec §4.5.
func runDNSSelect(cmd *cobra.Command, args []string) error {
	domain := args[0]

	cache := dnscache.New(dnscache.DefaultNamedServerID, nil)
	cache.AddNamedServer(dnscache.NamedServer{Address: dnsServer, Port: dnsPort})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rrs, _, err := cache.Query(ctx, dns.TypeNAPTR, domain, false)
	if err != nil {
		return fmt.Errorf("NAPTR query failed: %w", err)
	}

	var naptrs []*dns.NAPTR
	for _, rr := range rrs {
		if n, ok := rr.(*dns.NAPTR); ok {
			naptrs = append(naptrs, n)
		}
	}
	if len(naptrs) == 0 {
		fmt.Println("no NAPTR records found")
		return nil
	}

	glue := make(map[string][]net.IP, len(naptrs))
	for _, n := range naptrs {
		host := strings.TrimSuffix(n.Replacement, ".")
		if _, ok := glue[host]; ok {
			continue
		}
		glue[host] = resolveGlue(ctx, cache, host)
	}

	criteria := nodeselector.Criteria{
		DesiredService:             dnsDesiredService,
		DesiredProtocols:           dnsDesiredProtocols,
		DesiredUsageTypes:          dnsDesiredUsageTypes,
		DesiredNetworkCapabilities: dnsDesiredNetworkCaps,
	}
	results := nodeselector.Select(naptrs, criteria, glue, dnsSelectPort)

	for _, r := range results {
		fmt.Printf("%s order=%d preference=%d ipv4=%v ipv6=%v\n", r.Hostname, r.Order, r.Preference, r.IPv4Hosts, r.IPv6Hosts)
	}
	return nil
}

func resolveGlue(ctx context.Context, cache *dnscache.Cache, host string) []net.IP {
	var ips []net.IP
	if a, _, err := cache.Query(ctx, dns.TypeA, host, false); err == nil {
		for _, rr := range a {
			if rec, ok := rr.(*dns.A); ok {
				ips = append(ips, rec.A)
			}
		}
	}
	if aaaa, _, err := cache.Query(ctx, dns.TypeAAAA, host, false); err == nil {
		for _, rr := range aaaa {
			if rec, ok := rr.(*dns.AAAA); ok {
				ips = append(ips, rec.AAAA)
			}
		}
	}
	return ips
}
