// Package publish sends finished aggregates to the outbound queue in
// bounded chunks.
package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nicktill/tinyagg/pkg/stats"
)

// Sender is the broker-side publish operation.
type Sender interface {
	Publish(ctx context.Context, queue string, body []byte) error
}

// Publisher chunks and publishes the aggregates of one inbound message.
// No acknowledgment is tracked for outbound publishes; a failed publish
// surfaces as an error and aborts the rest of the pass, even though
// earlier chunks are already out (duplicate risk on redelivery).
type Publisher struct {
	sender    Sender
	queue     string
	chunkSize int
	log       zerolog.Logger

	// Notify, when set, observes each successfully published chunk body.
	Notify func(body []byte)
}

// New creates a publisher for the given outbound queue.
func New(sender Sender, queue string, chunkSize int, log zerolog.Logger) *Publisher {
	return &Publisher{
		sender:    sender,
		queue:     queue,
		chunkSize: chunkSize,
		log:       log,
	}
}

// Publish serializes the aggregates into order-preserving chunks and issues
// one publish per chunk. It returns the number of chunks published; on
// error, that count covers only the chunks already out.
func (p *Publisher) Publish(ctx context.Context, aggregates []stats.Aggregate) (int, error) {
	published := 0
	for _, chunk := range Chunk(aggregates, p.chunkSize) {
		body, err := json.Marshal(chunk)
		if err != nil {
			return published, fmt.Errorf("failed to marshal chunk: %w", err)
		}
		if err := p.sender.Publish(ctx, p.queue, body); err != nil {
			return published, err
		}
		published++
		p.log.Debug().Int("records", len(chunk)).Msg("published aggregate chunk")
		if p.Notify != nil {
			p.Notify(body)
		}
	}
	return published, nil
}

// Chunk splits aggregates into slices of at most size records, preserving
// order within and across chunks. The slices alias the input.
func Chunk(aggregates []stats.Aggregate, size int) [][]stats.Aggregate {
	if len(aggregates) == 0 {
		return nil
	}
	chunks := make([][]stats.Aggregate, 0, (len(aggregates)+size-1)/size)
	for start := 0; start < len(aggregates); start += size {
		end := start + size
		if end > len(aggregates) {
			end = len(aggregates)
		}
		chunks = append(chunks, aggregates[start:end])
	}
	return chunks
}
