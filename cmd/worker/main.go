package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicktill/tinyagg/pkg/bounds"
	boundsbadger "github.com/nicktill/tinyagg/pkg/bounds/badger"
	boundsmemory "github.com/nicktill/tinyagg/pkg/bounds/memory"
	"github.com/nicktill/tinyagg/pkg/broker"
	"github.com/nicktill/tinyagg/pkg/config"
	"github.com/nicktill/tinyagg/pkg/logging"
	"github.com/nicktill/tinyagg/pkg/publish"
	"github.com/nicktill/tinyagg/pkg/stats"
	"github.com/nicktill/tinyagg/pkg/status"
	"github.com/nicktill/tinyagg/pkg/tsdb"
	"github.com/nicktill/tinyagg/pkg/worker"
)

func main() {
	var (
		brokerURL     = flag.String("broker-url", getEnv("BROKER_URL", config.DefaultBrokerURL), "AMQP broker URL")
		inboundQueue  = flag.String("in-queue", getEnv("INBOUND_QUEUE", config.DefaultInboundQueue), "inbound job queue")
		outboundQueue = flag.String("out-queue", getEnv("OUTBOUND_QUEUE", config.DefaultOutboundQueue), "outbound aggregate queue")
		queryEndpoint = flag.String("query-endpoint", getEnv("QUERY_ENDPOINT", config.DefaultQueryEndpoint), "query service endpoint")
		workers       = flag.Int("workers", getEnvInt("WORKERS", 1), "number of worker loops")
		statusAddr    = flag.String("status-addr", getEnv("STATUS_ADDR", config.DefaultStatusAddr), "status server address (empty = disabled)")
		boundsPath    = flag.String("bounds-path", getEnv("BOUNDS_PATH", config.DefaultBoundsPath), "histogram bounds store path (empty = in-memory)")
		logLevel      = flag.String("log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
		logPretty     = flag.Bool("log-pretty", false, "human-readable log output")
	)
	flag.Parse()

	logCfg := logging.Config{Level: *logLevel, Pretty: *logPretty}
	log := logging.NewWithComponent(logCfg, "main")

	// Credentials come from the environment only, never from flags.
	queryToken := os.Getenv("QUERY_TOKEN")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openBoundsStore(ctx, *boundsPath, logging.NewWithComponent(logCfg, "bounds"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open bounds store")
	}
	defer store.Close()

	hub := status.NewTailHub(logging.NewWithComponent(logCfg, "livetail"))
	go hub.Run(ctx)

	if *workers < 1 {
		*workers = 1
	}
	log.Info().
		Str("broker", *brokerURL).
		Str("in_queue", *inboundQueue).
		Str("out_queue", *outboundQueue).
		Int("workers", *workers).
		Msg("starting aggregation workers")

	var wg sync.WaitGroup
	sources := make([]status.Source, 0, *workers)
	for i := 0; i < *workers; i++ {
		w := buildWorker(workerDeps{
			id:            i,
			brokerURL:     *brokerURL,
			inboundQueue:  *inboundQueue,
			outboundQueue: *outboundQueue,
			queryEndpoint: *queryEndpoint,
			queryToken:    queryToken,
			store:         store,
			hub:           hub,
			logCfg:        logCfg,
		})
		sources = append(sources, w)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				log.Error().Err(err).Msg("worker exited with error")
			}
		}()
	}

	if *statusAddr != "" {
		srv := status.New(*statusAddr, sources, hub, logging.NewWithComponent(logCfg, "status"))
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
	}

	wg.Wait()
	log.Info().Msg("all workers stopped")
}

type workerDeps struct {
	id            int
	brokerURL     string
	inboundQueue  string
	outboundQueue string
	queryEndpoint string
	queryToken    string
	store         bounds.Store
	hub           *status.TailHub
	logCfg        logging.Config
}

func buildWorker(deps workerDeps) *worker.Worker {
	log := logging.NewWithComponent(deps.logCfg, "worker").With().Int("worker", deps.id).Logger()

	conn := broker.New(broker.Config{
		URL:            deps.brokerURL,
		InboundQueue:   deps.inboundQueue,
		OutboundQueue:  deps.outboundQueue,
		Prefetch:       config.BrokerPrefetch,
		ReconnectDelay: config.ReconnectDelay,
	}, log.With().Str("component", "broker").Logger())

	querier := tsdb.New(deps.queryEndpoint, deps.queryToken, log.With().Str("component", "tsdb").Logger())
	aggregator := stats.NewAggregator(deps.store, log.With().Str("component", "stats").Logger())

	publisher := publish.New(conn, deps.outboundQueue, config.PublishChunkSize, log.With().Str("component", "publish").Logger())
	publisher.Notify = deps.hub.Broadcast

	return worker.New(conn, querier, aggregator, publisher, worker.Config{
		ReceiveTimeout: config.ReceiveTimeout,
	}, log)
}

// openBoundsStore picks the backend: badger when a path is configured,
// in-memory otherwise. The badger store gets a background GC loop.
func openBoundsStore(ctx context.Context, path string, log zerolog.Logger) (bounds.Store, error) {
	if path == "" {
		log.Info().Msg("using in-memory bounds store")
		return boundsmemory.New(), nil
	}

	store, err := boundsbadger.New(boundsbadger.Config{Path: path})
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Msg("using badger bounds store")

	go func() {
		ticker := time.NewTicker(config.BadgerGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.RunGC(0.5); err != nil {
					log.Warn().Err(err).Msg("bounds store GC failed")
				}
			}
		}
	}()
	return store, nil
}

func getEnv(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return n
}
