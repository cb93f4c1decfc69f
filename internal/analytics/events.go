// Package analytics records what clients ask the API for. The API process
// publishes events to Kafka through a Collector; the analytics service
// consumes them into an Aggregator and snapshots the result to Postgres.
package analytics

import "time"

type EventType string

const (
	EventQuery      EventType = "query"
	EventGeneSearch EventType = "gene_search"
)

// QueryEvent describes one executed GraphQL request.
type QueryEvent struct {
	Type          EventType `json:"type"`
	OperationName string    `json:"operation_name,omitempty"`
	RootFields    []string  `json:"root_fields"`
	Cost          int       `json:"cost"`
	LatencyMs     int64     `json:"latency_ms"`
	Status        int       `json:"status"`
	ErrorCodes    []string  `json:"error_codes,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	RequestID     string    `json:"request_id,omitempty"`
}

// GeneSearchEvent describes one gene_search resolution.
type GeneSearchEvent struct {
	Type            EventType `json:"type"`
	Query           string    `json:"query"`
	ReferenceGenome string    `json:"reference_genome"`
	Returned        int       `json:"returned"`
	Timestamp       time.Time `json:"timestamp"`
	RequestID       string    `json:"request_id,omitempty"`
}
