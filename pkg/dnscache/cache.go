// Package dnscache implements spec §4.4/§4.5's DNS query cache: queries are
// issued synchronously (Query blocks until an answer or error) against a set
// of named servers, results are cached
// keyed by (query type, domain) with TTL-aware expiry, and a background
// refresher re-queries entries nearing expiry before callers ever observe
// a miss.
//
// Grounded on original_source/include/epc/dnscache.h (Cache, QueryProcessor,
// CacheRefresher) and the teacher's DNS resolver shape; uses
// github.com/miekg/dns for wire queries in place of c-ares, and
// github.com/google/uuid for query correlation ids.
package dnscache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	"github.com/cuemby/epctools/pkg/epcerr"
	"github.com/cuemby/epctools/pkg/log"
)

// NamedServerID identifies one Cache instance among several a process may
// run (e.g. one per PLMN), mirroring DNS::namedserverid_t.
type NamedServerID int

// DefaultNamedServerID is the ID used when a caller does not care to run
// multiple named caches.
const DefaultNamedServerID NamedServerID = 0

// MinTTLSeconds floors every cached answer's TTL, so a misconfigured
// authoritative server returning TTL=0 cannot force this cache into
// querying on every lookup (SPEC_FULL §12).
const MinTTLSeconds = 5

// NamedServer is one upstream resolver this cache queries.
type NamedServer struct {
	Address string
	Port    int
}

// QueryKey identifies a cached answer.
type QueryKey struct {
	Type   uint16 // dns.Type*, e.g. dns.TypeNAPTR
	Domain string
}

func (k QueryKey) String() string { return fmt.Sprintf("%s/%s", dns.TypeToString[k.Type], k.Domain) }

// Entry is one cached answer set.
type Entry struct {
	Key        QueryKey
	Answers    []dns.RR
	ExpiresAt  time.Time
	QueriedAt  time.Time
	LastErr    error
	hitCount   int64
	queryCount int64
}

// Expired reports whether the entry's TTL has elapsed as of now.
func (e *Entry) Expired(now time.Time) bool { return now.After(e.ExpiresAt) }

// PercentConsumed reports how much of the entry's TTL window has elapsed,
// 0 at query time and 100 at expiry, used by the refresher to decide
// whether an entry is "nearing expiry" (spec §4.5).
func (e *Entry) PercentConsumed(now time.Time) int {
	total := e.ExpiresAt.Sub(e.QueriedAt)
	if total <= 0 {
		return 100
	}
	elapsed := now.Sub(e.QueriedAt)
	pct := int(elapsed * 100 / total)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Resolver issues the actual wire query; production code uses
// *dns.Client against NamedServers, tests substitute a fake.
type Resolver interface {
	Query(ctx context.Context, server NamedServer, qtype uint16, domain string) ([]dns.RR, time.Duration, error)
}

// ClientResolver is the production Resolver, backed by miekg/dns.
type ClientResolver struct {
	Client  *dns.Client
	Timeout time.Duration
}

// NewClientResolver creates a ClientResolver with sane defaults.
func NewClientResolver() *ClientResolver {
	return &ClientResolver{Client: new(dns.Client), Timeout: 2 * time.Second}
}

func (r *ClientResolver) Query(ctx context.Context, server NamedServer, qtype uint16, domain string) ([]dns.RR, time.Duration, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), qtype)
	msg.RecursionDesired = true

	client := r.Client
	if client == nil {
		client = new(dns.Client)
	}
	client.Timeout = r.Timeout

	addr := fmt.Sprintf("%s:%d", server.Address, server.Port)
	in, _, err := client.ExchangeContext(ctx, msg, addr)
	if err != nil {
		return nil, 0, epcerr.New(epcerr.KindExternalDependency, "dnscache.Query", err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, 0, epcerr.New(epcerr.KindExternalDependency, "dnscache.Query", fmt.Errorf("rcode %s", dns.RcodeToString[in.Rcode]))
	}

	minTTL := uint32(0)
	for i, rr := range in.Answer {
		if i == 0 || rr.Header().Ttl < minTTL {
			minTTL = rr.Header().Ttl
		}
	}
	if minTTL < MinTTLSeconds {
		minTTL = MinTTLSeconds
	}
	return in.Answer, time.Duration(minTTL) * time.Second, nil
}

// Cache is a named-server-scoped DNS query cache.
type Cache struct {
	NamedServerID NamedServerID

	mu      sync.RWMutex
	entries map[QueryKey]*Entry
	servers []NamedServer

	resolver Resolver

	newQueryCount int64
	hits          int64 // atomic
	misses        int64 // atomic
}

// New creates an empty Cache for the given named server id, querying
// through resolver (pass nil to use NewClientResolver()).
func New(nsid NamedServerID, resolver Resolver) *Cache {
	if resolver == nil {
		resolver = NewClientResolver()
	}
	return &Cache{
		NamedServerID: nsid,
		entries:       make(map[QueryKey]*Entry),
		resolver:      resolver,
	}
}

// AddNamedServer registers an upstream resolver to query against.
func (c *Cache) AddNamedServer(s NamedServer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers = append(c.servers, s)
}

// NamedServers returns the currently configured upstream resolvers.
func (c *Cache) NamedServers() []NamedServer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NamedServer, len(c.servers))
	copy(out, c.servers)
	return out
}

// lookupLocked returns a live (non-expired) cached entry, if any.
func (c *Cache) lookupLocked(key QueryKey, now time.Time) *Entry {
	e, ok := c.entries[key]
	if !ok || e.Expired(now) {
		return nil
	}
	return e
}

// Query performs a cached DNS lookup, querying upstream on a miss or when
// ignoreCache is set. cacheHit reports whether the result came from the
// local cache.
func (c *Cache) Query(ctx context.Context, qtype uint16, domain string, ignoreCache bool) (answers []dns.RR, cacheHit bool, err error) {
	key := QueryKey{Type: qtype, Domain: dns.Fqdn(domain)}
	now := time.Now()

	if !ignoreCache {
		c.mu.RLock()
		e := c.lookupLocked(key, now)
		c.mu.RUnlock()
		if e != nil {
			e.hitCount++
			atomic.AddInt64(&c.hits, 1)
			return e.Answers, true, e.LastErr
		}
	}

	atomic.AddInt64(&c.misses, 1)
	answers, err = c.queryUpstream(ctx, key)
	return answers, false, err
}

// Hits returns the number of lookups served from the local cache.
func (c *Cache) Hits() int64 { return atomic.LoadInt64(&c.hits) }

// Misses returns the number of lookups that required a fresh upstream
// query.
func (c *Cache) Misses() int64 { return atomic.LoadInt64(&c.misses) }

func (c *Cache) queryUpstream(ctx context.Context, key QueryKey) ([]dns.RR, error) {
	c.mu.RLock()
	servers := append([]NamedServer(nil), c.servers...)
	c.mu.RUnlock()

	if len(servers) == 0 {
		return nil, epcerr.New(epcerr.KindExternalDependency, "dnscache.queryUpstream", fmt.Errorf("no named servers configured"))
	}

	var lastErr error
	for _, server := range servers {
		answers, ttl, err := c.resolver.Query(ctx, server, key.Type, key.Domain)
		if err != nil {
			lastErr = err
			continue
		}
		c.updateCache(key, answers, ttl, nil)
		return answers, nil
	}

	c.recordFailure(key, lastErr)
	return nil, lastErr
}

// recordFailure handles a failed upstream query per spec §4.4: a failed
// query is never inserted into the cache, and an existing valid entry is
// never evicted by one. If key already has a cached entry, only its
// LastErr is updated so callers can observe the failure; the entry's
// Answers/ExpiresAt (and thus its ability to keep serving stale-but-valid
// data until a successful refresh or expiry) are left untouched.
func (c *Cache) recordFailure(key QueryKey, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.LastErr = err
	}
	log.WithNamedServerID(int(c.NamedServerID)).Warn().Str("query", key.String()).Err(err).Msg("upstream query failed, not caching")
}

func (c *Cache) updateCache(key QueryKey, answers []dns.RR, ttl time.Duration, queryErr error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &Entry{
		Key:       key,
		Answers:   answers,
		QueriedAt: now,
		ExpiresAt: now.Add(ttl),
		LastErr:   queryErr,
	}
	e.queryCount++
	c.entries[key] = e
	c.newQueryCount++
	log.WithNamedServerID(int(c.NamedServerID)).Debug().Msgf("cached %s (ttl=%s)", key, ttl)
}

// ResetNewQueryCount returns the number of queries cached since the last
// call and resets the counter, mirroring resetNewQueryCount's save-cadence
// bookkeeping.
func (c *Cache) ResetNewQueryCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.newQueryCount
	c.newQueryCount = 0
	return n
}

// Keys returns every cache key currently held, live or expired.
func (c *Cache) Keys() []QueryKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]QueryKey, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}

// Size returns the number of entries currently cached.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// IdentifyNearingExpiry returns the keys of entries whose TTL window is at
// least percent consumed, the refresher's trigger condition (spec §4.5).
func (c *Cache) IdentifyNearingExpiry(percent int) []QueryKey {
	now := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	var keys []QueryKey
	for k, e := range c.entries {
		if e.PercentConsumed(now) >= percent {
			keys = append(keys, k)
		}
	}
	return keys
}

// newCorrelationID tags an in-flight query for logging, mirroring the
// original's QueryPtr identity without needing one.
func newCorrelationID() string { return uuid.NewString() }
