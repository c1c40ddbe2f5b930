package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrMalformedPayload marks a payload that is structurally broken: not
// parseable, or not a top-level array. The control loop rejects such
// messages without requeue.
var ErrMalformedPayload = errors.New("malformed payload")

// DecodeBatch turns one inbound message body into the validated requests it
// contains. Individual elements that are not objects or fail validation are
// logged and dropped; only a structurally broken payload is an error. An
// empty result is valid.
func DecodeBatch(payload []byte, log zerolog.Logger) ([]AggregationRequest, error) {
	// A literal null unmarshals into a nil slice without error, so the
	// top-level shape is checked up front.
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: payload is not an array", ErrMalformedPayload)
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	requests := make([]AggregationRequest, 0, len(elements))
	for i, raw := range elements {
		var req AggregationRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Warn().Int("index", i).Err(err).Msg("dropping undecodable request")
			continue
		}
		if err := req.Validate(); err != nil {
			log.Warn().Int("index", i).Err(err).Str("type", req.Type).Msg("dropping invalid request")
			continue
		}
		requests = append(requests, req)
	}
	return requests, nil
}
