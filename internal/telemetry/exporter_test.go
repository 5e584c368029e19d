package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestJSONFileExporter_WritesJSONL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metrics", "out.jsonl")

	exp, err := NewJSONFileExporter(path)
	if err != nil {
		t.Fatal(err)
	}

	snapshots := []MetricsSnapshot{
		{Timestamp: time.Now(), Event: "memory.stored", Metrics: map[string]interface{}{"memories_stored": 1}},
		{Timestamp: time.Now(), Event: "sweep.completed", Metrics: map[string]interface{}{"swept_memories": 42}, Labels: map[string]string{"project": "p1"}},
	}
	for _, s := range snapshots {
		if err := exp.Export(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := exp.Close(); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var snap MetricsSnapshot
		if err := json.Unmarshal(scanner.Bytes(), &snap); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 JSONL lines, got %d", lines)
	}
}

func TestMetrics_FlushWithExporter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.jsonl")

	exp, err := NewJSONFileExporter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer exp.Close()

	m := NewMetrics()
	m.SetExporter(exp)
	m.IncMemoriesStored()
	m.IncSearchesServed()
	m.IncQuotaRejections()
	m.Flush("test.flush", map[string]string{"source": "test"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var snap MetricsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Event != "test.flush" {
		t.Errorf("expected event 'test.flush', got %q", snap.Event)
	}
	if got := snap.Metrics["memories_stored"].(float64); got != 1 {
		t.Errorf("expected memories_stored=1, got %v", got)
	}
}

func TestMetrics_FlushWithoutExporter(t *testing.T) {
	m := NewMetrics()
	m.IncEmbeddingRequests()
	// Must not panic when no exporter is attached.
	m.Flush("noop", nil)
}

func TestMetrics_Reset(t *testing.T) {
	m := NewMetrics()
	m.IncMemoriesStored()
	m.AddSweptMemories(7)
	m.RecordSearchLatency(5 * time.Millisecond)
	m.Reset()

	summary := m.GetSummary()
	if summary["memories_stored"].(int64) != 0 {
		t.Error("expected memories_stored reset to 0")
	}
	if summary["swept_memories"].(int64) != 0 {
		t.Error("expected swept_memories reset to 0")
	}
	if _, ok := summary["avg_search_latency_ms"]; ok {
		t.Error("expected latency histogram cleared")
	}
}
