package tsdb

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestQueryDecodesRows(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/query", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		io.WriteString(w, `{"results":[
			{"intf":"eth0","bits":[[10,5],[20,null],[30,15]]},
			{"intf":"eth1","bits":[]}
		]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "sekrit", zerolog.Nop())
	rows, err := c.Query(context.Background(), "values intf, avg(bits, 10, 60) between 0 and 60 by intf from iface")
	require.NoError(t, err)

	require.Equal(t, "Bearer sekrit", gotAuth)
	require.JSONEq(t, `{"query":"values intf, avg(bits, 10, 60) between 0 and 60 by intf from iface"}`, gotBody)

	require.Len(t, rows, 2)
	require.Equal(t, map[string]string{"intf": "eth0"}, rows[0].Fields)
	points := rows[0].Series["bits"]
	require.Len(t, points, 3)
	require.Equal(t, int64(10), points[0].TS)
	require.Equal(t, 5.0, *points[0].Value)
	require.Equal(t, int64(20), points[1].TS)
	require.Nil(t, points[1].Value)
	require.Equal(t, 15.0, *points[2].Value)
	require.Empty(t, rows[1].Series["bits"])
}

func TestQueryNoAuthHeaderWithoutToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, `{"results":[]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zerolog.Nop())
	rows, err := c.Query(context.Background(), "q")
	require.NoError(t, err)
	require.Empty(t, rows)
	require.Empty(t, gotAuth)
}

func TestQueryServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":true,"error_text":"no such type"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zerolog.Nop())
	_, err := c.Query(context.Background(), "q")
	require.ErrorIs(t, err, ErrQueryFailed)
	require.Contains(t, err.Error(), "no such type")
}

func TestQueryBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zerolog.Nop())
	_, err := c.Query(context.Background(), "q")
	require.ErrorIs(t, err, ErrQueryFailed)
}

func TestQueryMissingResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zerolog.Nop())
	_, err := c.Query(context.Background(), "q")
	require.ErrorIs(t, err, ErrQueryFailed)
}

func TestQueryMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":`)
	}))
	defer srv.Close()

	c := New(srv.URL, "", zerolog.Nop())
	_, err := c.Query(context.Background(), "q")
	require.ErrorIs(t, err, ErrQueryFailed)
}

func TestRowRejectsUnsupportedMember(t *testing.T) {
	var row Row
	err := json.Unmarshal([]byte(`{"intf":"eth0","count":7}`), &row)
	require.Error(t, err)
}

func TestRowIgnoresNullMember(t *testing.T) {
	var row Row
	require.NoError(t, json.Unmarshal([]byte(`{"intf":"eth0","extra":null}`), &row))
	require.Equal(t, "eth0", row.Fields["intf"])
	require.Empty(t, row.Series)
}

func TestPointRejectsWrongArity(t *testing.T) {
	var p Point
	require.Error(t, json.Unmarshal([]byte(`[10]`), &p))
	require.Error(t, json.Unmarshal([]byte(`[10,1,2]`), &p))
}

func TestPointRoundTrip(t *testing.T) {
	v := 2.5
	data, err := json.Marshal(Point{TS: 42, Value: &v})
	require.NoError(t, err)
	require.JSONEq(t, `[42,2.5]`, string(data))

	data, err = json.Marshal(Point{TS: 42})
	require.NoError(t, err)
	require.JSONEq(t, `[42,null]`, string(data))
}
