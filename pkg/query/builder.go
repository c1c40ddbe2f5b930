// Package query composes query-service request strings from aggregation
// requests. The clause order is fixed: values, between, by, from, where.
package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/nicktill/tinyagg/pkg/request"
)

// Query is an immutable, fully composed query string.
type Query struct {
	text string
}

// String returns the composed query text.
func (q Query) String() string {
	return q.text
}

// Build composes the query for one aggregation request.
func Build(req *request.AggregationRequest) Query {
	clauses := []string{
		valuesClause(req),
		betweenClause(req),
		byClause(req),
		fromClause(req),
	}
	if where := whereClause(req); where != "" {
		clauses = append(clauses, where)
	}
	return Query{text: strings.Join(clauses, " ")}
}

// valuesClause selects the required-meta fields verbatim plus an average
// aggregation per requested series, parameterized by the source and target
// intervals.
func valuesClause(req *request.AggregationRequest) string {
	fields := make([]string, 0, len(req.RequiredMeta)+len(req.Values))
	fields = append(fields, req.RequiredMeta...)
	for _, v := range req.Values {
		fields = append(fields, fmt.Sprintf("avg(%s, %d, %d)", v.Name, req.IntervalFrom, req.IntervalTo))
	}
	return "values " + strings.Join(fields, ", ")
}

// betweenClause bounds the query to the aligned time range.
func betweenClause(req *request.AggregationRequest) string {
	return fmt.Sprintf("between %d and %d", req.AlignedStart(), req.AlignedEnd())
}

// byClause groups the result rows by the required-meta fields.
func byClause(req *request.AggregationRequest) string {
	return "by " + strings.Join(req.RequiredMeta, ", ")
}

func fromClause(req *request.AggregationRequest) string {
	return "from " + req.Type
}

// whereClause ORs the per-measurement filters; each filter is an AND of
// quoted equality comparisons. Field names are sorted so the output is
// deterministic. Empty when the request carries no filters.
func whereClause(req *request.AggregationRequest) string {
	terms := make([]string, 0, len(req.Meta))
	for _, entry := range req.Meta {
		if len(entry.Fields) == 0 {
			continue
		}
		names := make([]string, 0, len(entry.Fields))
		for name := range entry.Fields {
			names = append(names, name)
		}
		sort.Strings(names)

		comparisons := make([]string, 0, len(names))
		for _, name := range names {
			comparisons = append(comparisons, fmt.Sprintf("%s = %s", name, strconv.Quote(entry.Fields[name])))
		}
		terms = append(terms, "("+strings.Join(comparisons, " and ")+")")
	}
	if len(terms) == 0 {
		return ""
	}
	return "where " + strings.Join(terms, " or ")
}
