/*
Package log provides structured logging for the toolkit using zerolog.

It wraps zerolog to give every subsystem (queues, event threads, the timer
pool, the DNS cache, the node selector) a JSON- or console-formatted logger
carrying its own identifying fields, without having to pass a logger through
every constructor by hand.

# Usage

Initializing the logger once, at process start:

	import "github.com/cuemby/epctools/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("timer pool started")
	log.Debug("registering timer")
	log.Warn("refresh queue saturated")
	log.Error("resolver channel closed unexpectedly")
	log.Fatal("failed to bind timer signal") // exits the process

Component loggers carry an identifying field on every line they emit:

	qlog := log.WithQueueID("q-7")
	qlog.Debug().Int("filled", 3).Msg("push")

	tlog := log.WithThread("refresher-1")
	tlog.Info().Msg("dispatching TIMER")

	dlog := log.WithNamedServerID(1)
	dlog.Info().Str("domain", "apn1.apn.epc.mnc120.mcc310.3gppnetwork.org").Msg("cache miss")

# Log levels

Debug is for per-message/per-timer tracing, too verbose for production.
Info is the default production level: lifecycle transitions, cache
refreshes, leadership changes. Warn covers recoverable anomalies (dropped
messages, saturated refresh queues). Error covers failed operations that
don't terminate the process (a single DNS query's parse failure). Fatal is
reserved for construction-time failures that leave the process unable to
make progress (timer signal registration, shared-memory mapping) — it logs
and calls os.Exit(1), matching spec.md §7's "fatal" error kind.

# Output

JSON (production): {"level":"info","queue_id":"q-7","time":"...","message":"push"}
Console (development): 2024-05-01T10:30:00Z INF push queue_id=q-7
*/
package log
