// Package worker drives the consume -> decode -> query -> bucket ->
// aggregate -> publish -> ack/reject loop of one worker.
package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/nicktill/tinyagg/pkg/broker"
	"github.com/nicktill/tinyagg/pkg/bucket"
	"github.com/nicktill/tinyagg/pkg/publish"
	"github.com/nicktill/tinyagg/pkg/query"
	"github.com/nicktill/tinyagg/pkg/request"
	"github.com/nicktill/tinyagg/pkg/stats"
	"github.com/nicktill/tinyagg/pkg/tsdb"
)

// Broker is the connection-manager surface the loop drives.
type Broker interface {
	Connect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Receive(timeout time.Duration) (*broker.Delivery, error)
	Ack(tag uint64) error
	Reject(tag uint64, requeue bool) error
	Publish(ctx context.Context, queue string, body []byte) error
	State() broker.State
}

// Querier is the opaque query-service operation.
type Querier interface {
	Query(ctx context.Context, query string) ([]tsdb.Row, error)
}

// Config holds per-worker loop parameters.
type Config struct {
	ReceiveTimeout time.Duration
}

// Snapshot is a point-in-time view of the worker's counters, served by the
// status endpoint.
type Snapshot struct {
	BrokerState string `json:"broker_state"`
	Received    uint64 `json:"received"`
	Acked       uint64 `json:"acked"`
	Rejected    uint64 `json:"rejected"`
	Requeued    uint64 `json:"requeued"`
	Aggregates  uint64 `json:"aggregates"`
	Chunks      uint64 `json:"chunks_published"`
	Reconnects  uint64 `json:"reconnects"`
}

// Worker is one single-threaded aggregation worker. All broker and query
// calls block it for their duration; cancellation is cooperative and only
// takes effect at the top of the loop.
type Worker struct {
	broker     Broker
	querier    Querier
	aggregator *stats.Aggregator
	publisher  *publish.Publisher
	cfg        Config
	log        zerolog.Logger

	received   atomic.Uint64
	acked      atomic.Uint64
	rejected   atomic.Uint64
	requeued   atomic.Uint64
	aggregates atomic.Uint64
	chunks     atomic.Uint64
	reconnects atomic.Uint64
}

// New wires one worker.
func New(b Broker, q Querier, agg *stats.Aggregator, pub *publish.Publisher, cfg Config, log zerolog.Logger) *Worker {
	return &Worker{
		broker:     b,
		querier:    q,
		aggregator: agg,
		publisher:  pub,
		cfg:        cfg,
		log:        log,
	}
}

// Snapshot returns the current counters.
func (w *Worker) Snapshot() Snapshot {
	return Snapshot{
		BrokerState: w.broker.State().String(),
		Received:    w.received.Load(),
		Acked:       w.acked.Load(),
		Rejected:    w.rejected.Load(),
		Requeued:    w.requeued.Load(),
		Aggregates:  w.aggregates.Load(),
		Chunks:      w.chunks.Load(),
		Reconnects:  w.reconnects.Load(),
	}
}

// Run connects and processes messages until ctx is canceled. The stop
// request is checked once per iteration, never during in-flight processing.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.broker.Connect(ctx); err != nil {
		return ignoreCanceled(err)
	}

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("worker stopping")
			return nil
		default:
		}

		delivery, err := w.broker.Receive(w.cfg.ReceiveTimeout)
		if err != nil {
			w.log.Error().Err(err).Msg("receive failed, reconnecting")
			w.reconnect(ctx)
			continue
		}
		if delivery == nil {
			continue
		}

		w.received.Add(1)
		w.handle(ctx, delivery)
	}
}

// handle processes one delivery end to end and settles it with the broker.
// The pass runs on a non-cancelable context: a stop request never interrupts
// an in-flight query or publish, it only takes effect at the top of the loop.
func (w *Worker) handle(ctx context.Context, delivery *broker.Delivery) {
	passCtx := context.WithoutCancel(ctx)

	requests, err := request.DecodeBatch(delivery.Body, w.log)
	if err != nil {
		// Structurally malformed: permanent rejection, no requeue.
		w.log.Warn().Err(err).Uint64("tag", delivery.Tag).Msg("rejecting malformed message")
		if err := w.broker.Reject(delivery.Tag, false); err != nil {
			w.log.Error().Err(err).Msg("reject failed, reconnecting")
			w.reconnect(ctx)
			return
		}
		w.rejected.Add(1)
		return
	}

	if err := w.aggregate(passCtx, requests); err != nil {
		w.log.Error().Err(err).Uint64("tag", delivery.Tag).Msg("aggregation pass failed, requeueing message")
		if err := w.broker.Reject(delivery.Tag, true); err != nil {
			w.log.Error().Err(err).Msg("reject failed, reconnecting")
			w.reconnect(ctx)
			return
		}
		w.requeued.Add(1)
		return
	}

	if err := w.broker.Ack(delivery.Tag); err != nil {
		w.log.Error().Err(err).Msg("ack failed, reconnecting")
		w.reconnect(ctx)
		return
	}
	w.acked.Add(1)
}

// aggregate runs the full pipeline over all validated requests of one
// message and publishes everything they produced. Any failure aborts the
// rest of the pass.
func (w *Worker) aggregate(ctx context.Context, requests []request.AggregationRequest) error {
	var produced []stats.Aggregate
	for i := range requests {
		req := &requests[i]

		rows, err := w.querier.Query(ctx, query.Build(req).String())
		if err != nil {
			return err
		}

		grouping := bucket.Group(req, rows, w.log)
		aggregates := w.aggregator.Run(req, grouping)
		w.aggregates.Add(uint64(len(aggregates)))
		produced = append(produced, aggregates...)
	}

	published, err := w.publisher.Publish(ctx, produced)
	w.chunks.Add(uint64(published))
	return err
}

func (w *Worker) reconnect(ctx context.Context) {
	w.reconnects.Add(1)
	if err := w.broker.Reconnect(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.log.Error().Err(err).Msg("reconnect aborted")
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
