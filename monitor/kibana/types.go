package kibana

import (
	"encoding/json"
	"fmt"
)

// TotalHits handles both the ES 7+ object form {"value": N, "relation": "eq"}
// and the legacy bare-number form.
type TotalHits struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation"`
}

// UnmarshalJSON accepts either representation.
func (t *TotalHits) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '{' {
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid hits total: %w", err)
		}
		t.Value = n
		t.Relation = "eq"
		return nil
	}

	type alias TotalHits
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = TotalHits(a)
	return nil
}

// SearchResponse is the subset of the _search response the collector reads.
type SearchResponse struct {
	Took         int                        `json:"took"`
	TimedOut     bool                       `json:"timed_out"`
	Hits         SearchHits                 `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations"`
	Error        json.RawMessage            `json:"error"`
}

// SearchHits carries the total hit count.
type SearchHits struct {
	Total TotalHits `json:"total"`
}

// StatsAggregation is the result of a stats aggregation.
type StatsAggregation struct {
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	Sum   float64 `json:"sum"`
}

// PercentilesAggregation is the result of a percentiles aggregation.
type PercentilesAggregation struct {
	Values map[string]float64 `json:"values"`
}

// TermsBucket is one bucket of a terms aggregation.
type TermsBucket struct {
	Key      string `json:"key"`
	DocCount int64  `json:"doc_count"`
}

// ValueAggregation is the result of a single-value metric aggregation such
// as avg or max.
type ValueAggregation struct {
	Value float64 `json:"value"`
}

// endpointBucket is one terms bucket carrying response-time sub-aggregations.
type endpointBucket struct {
	Key      string                 `json:"key"`
	DocCount int64                  `json:"doc_count"`
	RTAvg    ValueAggregation       `json:"rt_avg"`
	RTMax    ValueAggregation       `json:"rt_max"`
	RTP95    PercentilesAggregation `json:"rt_p95"`
}

// endpointsAggregation is the terms aggregation over the endpoint field.
type endpointsAggregation struct {
	Buckets []endpointBucket `json:"buckets"`
}

// EndpointBucket is the per-endpoint response-time aggregate.
type EndpointBucket struct {
	Endpoint string
	Count    int64
	Avg      float64
	P95      float64
	Max      float64
}

// TermsAggregation is the result of a terms aggregation.
type TermsAggregation struct {
	Buckets []TermsBucket `json:"buckets"`
}

// ResponseTimeStats combines the stats and percentiles aggregations over the
// configured response-time field.
type ResponseTimeStats struct {
	Count int64
	Avg   float64
	Max   float64
	P50   float64
	P95   float64
	P99   float64
}
