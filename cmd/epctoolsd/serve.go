package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/epctools/pkg/config"
	"github.com/cuemby/epctools/pkg/dnscache"
	"github.com/cuemby/epctools/pkg/evthread"
	"github.com/cuemby/epctools/pkg/log"
	"github.com/cuemby/epctools/pkg/metrics"
	"github.com/cuemby/epctools/pkg/mqueue"
	"github.com/cuemby/epctools/pkg/refreshcoord"
	"github.com/cuemby/epctools/pkg/shmem"
	"github.com/cuemby/epctools/pkg/timerpool"
)

var (
	serveConfigPath  string
	serveMetricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load an options file and serve Prometheus metrics for the configured subsystems",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to the EpcTools options YAML file (required)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "127.0.0.1:9090", "address to serve /metrics on")
	serveCmd.MarkFlagRequired("config")
}

// MsgSyntheticLoad is the demo work group's own message id, driving a
// trickle of synthetic work through its handler so dispatch/worker-count
// metrics have something to report even against an idle host.
const MsgSyntheticLoad = mqueue.SystemMessageThreshold + 1

// syntheticLoadInterval is how often runServe's ticker feeds the demo work
// group a message.
const syntheticLoadInterval = 2 * time.Second

// runServe is grounded on cmd/warren/main.go's manager-start command: load
// config, stand up every subsystem §10 describes, serve /metrics in the
// background, and wait for an interrupt before shutting everything down.
func runServe(cmd *cobra.Command, args []string) error {
	logger := log.WithComponent("serve")

	cfg, err := config.Load(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	collector := metrics.NewCollector(15 * time.Second)

	var pool *shmem.PrimitivePool
	if cfg.EpcTools.EnablePublicObjects {
		so := cfg.EpcTools.SynchronizationObjects
		pool, err = shmem.NewPrimitivePool(so.NumberSemaphores, so.NumberMutexes, serveConfigPath+".ledger")
		if err != nil {
			return fmt.Errorf("failed to create shmem primitive pool: %w", err)
		}
		defer pool.Close()
		collector.RegisterShmemPool(pool)
		logger.Info().Int("semaphores", so.NumberSemaphores).Int("mutexes", so.NumberMutexes).Msg("shared-memory primitive pool ready")
	}

	var queues []*mqueue.PublicQueue
	for i, qc := range cfg.EpcTools.PublicQueue {
		q, created, err := mqueue.NewPublicQueue(qc.QueueID, i+1, qc.QueueSize, qc.AllowMultipleReaders, qc.AllowMultipleWriters)
		if err != nil {
			return fmt.Errorf("failed to create public queue %q: %w", qc.QueueID, err)
		}
		queues = append(queues, q)
		collector.RegisterQueue(q)
		logger.Info().Str("queue_id", qc.QueueID).Bool("created", created).Msg("public queue registered")
	}
	defer func() {
		for _, q := range queues {
			q.Close()
		}
	}()

	work, stopLoad := startWorkGroup(logger)
	defer work.Stop()
	defer stopLoad()
	logger.Info().Str("work_group", work.ID()).Msg("synthetic work group running")

	timers := startTimerPool(cfg.EpcTools.Timers)
	defer timers.Close()
	collector.RegisterTimerPool(timers)
	metrics.RegisterComponent("timerpool", true, "")
	logger.Info().Int64("resolution_ms", cfg.EpcTools.Timers.ResolutionMS).Msg("timer pool ready")

	cache, refresher, coord, err := startDNSCache(cfg.EpcTools.DNS, logger)
	if err != nil {
		return fmt.Errorf("failed to start dns cache: %w", err)
	}
	defer refresher.Stop()
	if coord != nil {
		defer coord.Shutdown()
		collector.RegisterCoordinator(coord)
		logger.Info().Str("node_id", cfg.EpcTools.DNS.Coordinator.NodeID).Msg("refresh coordinator elected a leader (or is campaigning)")
	}
	collector.RegisterDNSCache("default", cache, refresher)
	metrics.RegisterComponent("dnscache", true, "")
	logger.Info().Int("named_servers", len(cache.NamedServers())).Msg("dns cache ready")

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents([]string{"timerpool", "dnscache"})

	collector.Start()
	defer collector.Stop()

	srv := &http.Server{Addr: serveMetricsAddr, Handler: metricsMux()}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	logger.Info().Str("addr", serveMetricsAddr).Msg("metrics endpoint listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("metrics server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// startWorkGroup stands up a small work group and feeds it a steady
// trickle of synthetic messages on a ticker, giving the demo node a live
// dispatch surface to report through metrics even with no real PFCP/GTP
// traffic configured. The returned stop func halts the feeder ticker; the
// caller is still responsible for work.Stop() to drain and join workers.
func startWorkGroup(logger zerolog.Logger) (*evthread.WorkGroup, func()) {
	work := evthread.NewWorkGroup("serve-demo", 64, 2, 4, func(msg mqueue.Message) error {
		logger.Debug().Int32("msg_id", msg.ID).Msg("synthetic load dispatched")
		return nil
	})
	if err := work.Start(); err != nil {
		logger.Error().Err(err).Msg("failed to start demo work group")
	}

	ticker := time.NewTicker(syntheticLoadInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if _, err := work.Send(mqueue.Message{ID: MsgSyntheticLoad}, false); err != nil {
					logger.Warn().Err(err).Msg("failed to enqueue synthetic load")
				}
			case <-done:
				return
			}
		}
	}()

	return work, func() {
		ticker.Stop()
		close(done)
	}
}

// startTimerPool constructs the demo node's shared timer pool from cfg.
func startTimerPool(cfg config.Timers) *timerpool.Pool {
	rounding := timerpool.RoundUp
	if cfg.Rounding == "down" {
		rounding = timerpool.RoundDown
	}
	return timerpool.New(timerpool.Config{ResolutionMS: cfg.ResolutionMS, Rounding: rounding})
}

// startDNSCache constructs the demo node's DNS cache, refresher, and
// (when configured) its Raft-based refresh-leadership coordinator.
func startDNSCache(cfg config.DNS, logger zerolog.Logger) (*dnscache.Cache, *dnscache.Refresher, *refreshcoord.Coordinator, error) {
	cache := dnscache.New(dnscache.DefaultNamedServerID, dnscache.NewClientResolver())
	for _, ns := range cfg.NamedServers {
		cache.AddNamedServer(dnscache.NamedServer{Address: ns.Address, Port: ns.Port})
	}

	refresherCfg := dnscache.RefresherConfig{
		Interval:             time.Duration(cfg.RefreshIntervalMS) * time.Millisecond,
		Percent:              cfg.RefreshPercent,
		MaxConcurrentRefresh: cfg.MaxConcurrentRefresh,
		PersistPath:          cfg.PersistPath,
		SaveInterval:         time.Duration(cfg.SaveIntervalMS) * time.Millisecond,
	}

	var coord *refreshcoord.Coordinator
	if cfg.Coordinator.Enabled {
		c, err := refreshcoord.New(refreshcoord.Config{
			NodeID:   cfg.Coordinator.NodeID,
			BindAddr: cfg.Coordinator.BindAddr,
			DataDir:  cfg.Coordinator.DataDir,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("start refresh coordinator: %w", err)
		}
		coord = c
		refresherCfg.LeaderCheck = coord.IsLeader
		logger.Info().Str("node_id", cfg.Coordinator.NodeID).Str("addr", cfg.Coordinator.BindAddr).Msg("refresh coordinator started")
	}

	refresher := dnscache.NewRefresher(cache, refresherCfg)
	refresher.Start()
	return cache, refresher, coord, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	return mux
}
