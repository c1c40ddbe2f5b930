package request

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const validElement = `{
	"type": "iface",
	"interval_from": 10,
	"interval_to": 60,
	"start": 5,
	"end": 65,
	"meta": [{"fields": {"intf": "a"}, "values": [{"name": "bits", "min": 0, "max": 100}]}],
	"values": [{"name": "bits", "hist_res": 0, "hist_min_width": 0}],
	"required_meta": ["intf"]
}`

func TestDecodeBatch(t *testing.T) {
	requests, err := DecodeBatch([]byte("["+validElement+"]"), zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, requests, 1)

	req := requests[0]
	require.Equal(t, "iface", req.Type)
	require.Equal(t, int64(60), req.IntervalTo)
	require.Equal(t, []string{"intf"}, req.RequiredMeta)
	require.Equal(t, "a", req.Meta[0].Fields["intf"])
}

func TestDecodeBatchMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{{{`,
		"not an array": `{"type": "iface"}`,
		"bare number":  `42`,
		"bare string":  `"hello"`,
		"bare null":    `null`,
		"empty":        ``,
		"whitespace":   ` 	`,
	}
	for name, payload := range cases {
		_, err := DecodeBatch([]byte(payload), zerolog.Nop())
		require.Error(t, err, name)
		require.True(t, errors.Is(err, ErrMalformedPayload), name)
	}
}

func TestDecodeBatchDropsBadElements(t *testing.T) {
	// Non-object elements and invalid requests are dropped; valid siblings
	// survive.
	payload := `[42, "nope", {"type": ""}, ` + validElement + `, {"type": "x", "interval_to": -1}]`

	requests, err := DecodeBatch([]byte(payload), zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, requests, 1)
	require.Equal(t, "iface", requests[0].Type)
}

func TestDecodeBatchEmptyArray(t *testing.T) {
	requests, err := DecodeBatch([]byte(`[]`), zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, requests)
}
