// Package trace rebuilds span trees from the flat event rows in hot storage.
// Reconstruction is a pure function of the input slice: no I/O, no state,
// recomputed fresh per query.
package trace

import (
	"sort"
	"time"

	"github.com/kaadipranav/lynex-sub000/internal/storage"
)

// Node is one span in the reconstructed tree.
type Node struct {
	Event    storage.EventRow `json:"event"`
	Children []*Node          `json:"children,omitempty"`
}

// Trace is the reconstructed tree plus metadata derived from the flat set.
type Trace struct {
	TraceID      string    `json:"trace_id"`
	ProjectID    string    `json:"project_id"`
	Roots        []*Node   `json:"spans"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationMs   int64     `json:"duration_ms"`
	TotalEvents  int       `json:"total_events"`
	TotalCostUSD float64   `json:"total_cost_usd"`
	ErrorCount   int       `json:"error_count"`
}

// Build assembles the tree. An event whose parent_event_id is missing from
// the set becomes a root: dangling references are self-healing, never an
// error. Sibling order is event timestamp, not arrival order.
func Build(events []storage.EventRow) *Trace {
	if len(events) == 0 {
		return nil
	}

	t := &Trace{
		TraceID:   events[0].TraceID,
		ProjectID: events[0].ProjectID,
	}

	index := make(map[string]*Node, len(events))
	nodes := make([]*Node, len(events))
	for i := range events {
		n := &Node{Event: events[i]}
		nodes[i] = n
		index[events[i].EventID] = n
	}

	for _, n := range nodes {
		parentID := n.Event.ParentEventID
		if parent, ok := index[parentID]; parentID != "" && ok && parent != n {
			parent.Children = append(parent.Children, n)
		} else {
			t.Roots = append(t.Roots, n)
		}
	}

	sortNodes(t.Roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}

	t.TotalEvents = len(events)
	t.StartTime = events[0].Timestamp
	t.EndTime = events[0].Timestamp
	for i := range events {
		e := &events[i]
		if e.Timestamp.Before(t.StartTime) {
			t.StartTime = e.Timestamp
		}
		if e.Timestamp.After(t.EndTime) {
			t.EndTime = e.Timestamp
		}
		t.TotalCostUSD += e.EstimatedCostUSD
		if e.Type == "error" {
			t.ErrorCount++
		}
	}
	t.DurationMs = t.EndTime.Sub(t.StartTime).Milliseconds()

	return t
}

// sortNodes orders siblings by timestamp ascending, event_id as a
// deterministic tiebreak.
func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		ti, tj := nodes[i].Event.Timestamp, nodes[j].Event.Timestamp
		if ti.Equal(tj) {
			return nodes[i].Event.EventID < nodes[j].Event.EventID
		}
		return ti.Before(tj)
	})
}
