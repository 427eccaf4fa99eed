package robustmq

import (
	"testing"

	v1 "github.com/robustmq/robustmq/api/proto/v1"
)

func TestSummarizeByRole(t *testing.T) {
	nodes := []v1.NodeInfo{
		{NodeID: 1, Roles: []string{"meta"}, State: "alive"},
		{NodeID: 2, Roles: []string{"meta"}, State: "suspect"},
		{NodeID: 3, Roles: []string{"broker"}, State: "dead"},
		{NodeID: 4, Roles: []string{"broker", "journal"}, State: "alive"},
	}

	rows := summarizeByRole(nodes)
	byRole := make(map[string]clusterSummaryRow, len(rows))
	for _, r := range rows {
		byRole[r.Role] = r
	}

	if len(rows) != 3 {
		t.Fatalf("expected 3 role rows, got %d: %+v", len(rows), rows)
	}

	meta := byRole["meta"]
	if meta.Total != 2 || meta.Alive != 1 || meta.Suspect != 1 || meta.Dead != 0 {
		t.Fatalf("meta row = %+v, want {Total:2 Alive:1 Suspect:1 Dead:0}", meta)
	}

	broker := byRole["broker"]
	if broker.Total != 2 || broker.Alive != 1 || broker.Dead != 1 {
		t.Fatalf("broker row = %+v, want {Total:2 Alive:1 Dead:1}", broker)
	}

	journal := byRole["journal"]
	if journal.Total != 1 || journal.Alive != 1 {
		t.Fatalf("journal row = %+v, want {Total:1 Alive:1}", journal)
	}
}

func TestSummarizeByRole_Empty(t *testing.T) {
	if rows := summarizeByRole(nil); len(rows) != 0 {
		t.Fatalf("expected no rows for empty node list, got %+v", rows)
	}
}

func TestSummarizeByRole_UnknownStateCountsAlive(t *testing.T) {
	nodes := []v1.NodeInfo{{NodeID: 1, Roles: []string{"meta"}, State: "bootstrapping"}}
	rows := summarizeByRole(nodes)
	if len(rows) != 1 || rows[0].Alive != 1 {
		t.Fatalf("expected unknown state to count as alive, got %+v", rows)
	}
}
