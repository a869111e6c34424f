package dnscache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/cuemby/epctools/pkg/epcerr"
	"github.com/cuemby/epctools/pkg/log"
)

// RefresherConfig configures a Refresher's cadence and persistence.
type RefresherConfig struct {
	// Interval is how often the refresher checks for entries nearing
	// expiry.
	Interval time.Duration
	// Percent is the TTL-window-consumed threshold at which an entry is
	// proactively re-queried (spec §4.5).
	Percent int
	// MaxConcurrentRefresh bounds how many upstream queries the refresher
	// issues at once.
	MaxConcurrentRefresh int
	// PersistPath, if non-empty, is the file the refresher writes the
	// cache's query keys to via SaveQueries; the refresher does not load it
	// (LoadQueries is called on the Cache by hand).
	PersistPath string
	// SaveInterval is how often the refresher saves to PersistPath; zero
	// disables automatic saving (SaveQueries can still be called by hand).
	SaveInterval time.Duration
	// LeaderCheck, if set, gates refreshPass: when it returns false this
	// refresher sits out the pass entirely, leaving background re-queries
	// to whichever redundant instance currently holds leadership
	// (pkg/refreshcoord). Nil means always refresh, the single-instance
	// case.
	LeaderCheck func() bool
}

// Refresher periodically re-queries cache entries nearing expiry, in the
// background, so callers see a miss only the very first time a domain is
// queried. Grounded on original_source/dnscache.h's CacheRefresher, an
// EThreadPrivate with its own timer and a forceRefresh/saveQueries message
// pair; here it is a single goroutine with a ticker and an explicit
// force/save channel, the Go idiom the teacher's pkg/scheduler.Scheduler also
// uses for ticker-driven background work.
type Refresher struct {
	cache  *Cache
	cfg    RefresherConfig
	stopCh chan struct{}
	force  chan struct{}
	save   chan struct{}
	wg     sync.WaitGroup

	lastSavedAt time.Time
	refreshed   int64 // atomic
}

// NewRefresher creates a Refresher for cache. Call Start to begin its
// background loop.
func NewRefresher(cache *Cache, cfg RefresherConfig) *Refresher {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Percent <= 0 {
		cfg.Percent = 80
	}
	if cfg.MaxConcurrentRefresh <= 0 {
		cfg.MaxConcurrentRefresh = 4
	}
	return &Refresher{
		cache:  cache,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		force:  make(chan struct{}, 1),
		save:   make(chan struct{}, 1),
	}
}

// Start launches the refresher's background loop.
func (r *Refresher) Start() {
	r.wg.Add(1)
	go r.run()
}

// Stop terminates the refresher's background loop and waits for it to
// exit.
func (r *Refresher) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// ForceRefresh requests an out-of-band refresh pass on the next loop
// iteration, regardless of how much of each entry's TTL has been
// consumed.
func (r *Refresher) ForceRefresh() {
	select {
	case r.force <- struct{}{}:
	default:
	}
}

// RequestSave requests the cache's query keys be persisted on the next
// loop iteration.
func (r *Refresher) RequestSave() {
	select {
	case r.save <- struct{}{}:
	default:
	}
}

func (r *Refresher) run() {
	defer r.wg.Done()
	logger := log.WithNamedServerID(int(r.cache.NamedServerID))

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	var saveTicker *time.Ticker
	var saveC <-chan time.Time
	if r.cfg.SaveInterval > 0 && r.cfg.PersistPath != "" {
		saveTicker = time.NewTicker(r.cfg.SaveInterval)
		defer saveTicker.Stop()
		saveC = saveTicker.C
	}

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshPass(logger, r.cfg.Percent)
		case <-r.force:
			r.refreshPass(logger, 0)
		case <-saveC:
			r.saveQueries(logger)
		case <-r.save:
			r.saveQueries(logger)
		}
	}
}

func (r *Refresher) refreshPass(logger zerolog.Logger, percent int) {
	if r.cfg.LeaderCheck != nil && !r.cfg.LeaderCheck() {
		return
	}

	keys := r.cache.IdentifyNearingExpiry(percent)
	if len(keys) == 0 {
		return
	}

	sem := make(chan struct{}, r.cfg.MaxConcurrentRefresh)
	var wg sync.WaitGroup
	for _, key := range keys {
		sem <- struct{}{}
		wg.Add(1)
		go func(key QueryKey) {
			defer wg.Done()
			defer func() { <-sem }()

			correlationID := newCorrelationID()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			atomic.AddInt64(&r.refreshed, 1)
			if _, err := r.cache.queryUpstream(ctx, key); err != nil {
				logger.Warn().Str("correlation_id", correlationID).Str("query", key.String()).Err(err).Msg("refresh query failed")
			}
		}(key)
	}
	wg.Wait()
}

// RefreshCount returns the number of background refresh queries issued so
// far, surfaced as metrics.DNSRefreshesTotal.
func (r *Refresher) RefreshCount() int64 { return atomic.LoadInt64(&r.refreshed) }

func (r *Refresher) saveQueries(logger zerolog.Logger) {
	if r.cfg.PersistPath == "" {
		return
	}
	if err := r.cache.SaveQueries(r.cfg.PersistPath); err != nil {
		logger.Error().Err(err).Msg("failed to persist dns cache queries")
		return
	}
	r.lastSavedAt = time.Now()
}

// savedQuery is the on-disk shape of one query key (spec §6's saved-query
// file format).
type savedQuery struct {
	Type   string `json:"type"`
	Domain string `json:"domain"`
}

// SaveQueries writes every cache key to path as JSON, so a restarting
// process can prime its cache instead of starting cold.
func (c *Cache) SaveQueries(path string) error {
	keys := c.Keys()
	out := make([]savedQuery, 0, len(keys))
	for _, k := range keys {
		out = append(out, savedQuery{Type: dns.TypeToString[k.Type], Domain: k.Domain})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return epcerr.New(epcerr.KindProtocolMisuse, "dnscache.SaveQueries", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return epcerr.New(epcerr.KindExternalDependency, "dnscache.SaveQueries", err)
	}
	return nil
}

// LoadQueries reads a file written by SaveQueries and issues each query
// against upstream servers to prime the cache (spec §6).
func (c *Cache) LoadQueries(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return epcerr.New(epcerr.KindExternalDependency, "dnscache.LoadQueries", err)
	}

	var saved []savedQuery
	if err := json.Unmarshal(data, &saved); err != nil {
		return epcerr.New(epcerr.KindProtocolMisuse, "dnscache.LoadQueries", err)
	}

	for _, sq := range saved {
		qtype, ok := dns.StringToType[sq.Type]
		if !ok {
			return epcerr.New(epcerr.KindProtocolMisuse, "dnscache.LoadQueries", fmt.Errorf("unknown query type %q", sq.Type))
		}
		if _, _, err := c.Query(ctx, qtype, sq.Domain, false); err != nil {
			log.WithNamedServerID(int(c.NamedServerID)).Warn().Str("query", sq.Domain).Err(err).Msg("failed to prime cache entry on load")
		}
	}
	return nil
}
