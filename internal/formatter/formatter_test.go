package formatter

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

func sampleJobs() []*models.Job {
	started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)

	ok := &models.Job{
		ID:          "job-2",
		SourceID:    "src-1",
		Trigger:     models.TriggerScheduled,
		Status:      models.JobCompleted,
		StartedAt:   started,
		CompletedAt: &completed,
		Duration:    90 * time.Second,
		Total:       3,
		Processed:   3,
		Succeeded:   2,
		Failed:      1,
		Logs: []models.LogEntry{
			{At: started, Message: "Sync started for \"Focus\""},
			{At: completed, Message: "Sync completed: 2 succeeded, 1 failed, 0 skipped"},
		},
	}
	failed := &models.Job{
		ID:        "job-1",
		SourceID:  "src-1",
		Trigger:   models.TriggerManual,
		Status:    models.JobFailed,
		StartedAt: started.Add(-time.Hour),
		Error:     "collaborator failure: list catalog PL1: status 503",
	}
	return []*models.Job{ok, failed}
}

func TestHistoryExporters(t *testing.T) {
	t.Run("HistoryToCSV", func(t *testing.T) {
		data, err := HistoryToCSV(sampleJobs())
		if err != nil {
			t.Fatalf("HistoryToCSV failed: %v", err)
		}

		output := string(data)
		if !strings.HasPrefix(output, "ID,Trigger,Status,Started,Completed,Duration,Total,Succeeded,Failed,Skipped,Error\n") {
			t.Errorf("CSV missing headers, got: %s", output)
		}
		if !strings.Contains(output, "job-2,scheduled,completed,2024-01-01T10:00:00Z,2024-01-01T10:01:30Z,90000,3,2,1,0,") {
			t.Errorf("CSV missing completed job row, got: %s", output)
		}
		if !strings.Contains(output, "job-1,manual,failed,2024-01-01T09:00:00Z,-,") {
			t.Errorf("CSV missing failed job row, got: %s", output)
		}
		if lines := strings.Count(output, "\n"); lines != 3 {
			t.Errorf("expected 3 lines, got %d", lines)
		}
	})

	t.Run("HistoryToMarkdown", func(t *testing.T) {
		source := &models.Source{Name: "Focus", RemoteID: "PL1", Status: models.SourceError, TotalItems: 3, MaterializedItems: 2, TotalBytes: 3 << 20, LastError: "boom"}
		output := string(HistoryToMarkdown(source, sampleJobs()))

		for _, want := range []string{"# Focus", "**Remote**: PL1", "2/3 materialized (3.0 MiB)", "**Last error**: boom", "| Started |", "| scheduled | completed | 1m30s | 2 | 1 | 0 |"} {
			if !strings.Contains(output, want) {
				t.Errorf("Markdown missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("HistoryToMarkdown without jobs", func(t *testing.T) {
		output := string(HistoryToMarkdown(&models.Source{Name: "Empty"}, nil))
		if !strings.Contains(output, "No jobs yet.") {
			t.Errorf("expected empty marker, got:\n%s", output)
		}
	})

	t.Run("HistoryToText", func(t *testing.T) {
		output := string(HistoryToText(sampleJobs()))
		if !strings.Contains(output, "ok=2 failed=1 skipped=0") {
			t.Errorf("text missing counters, got:\n%s", output)
		}
		if !strings.Contains(output, "error: collaborator failure") {
			t.Errorf("text missing error line, got:\n%s", output)
		}
	})

	t.Run("JobLogToText", func(t *testing.T) {
		output := string(JobLogToText(sampleJobs()[0]))
		if !strings.Contains(output, "10:00:00.000  Sync started") {
			t.Errorf("log trail missing first line, got:\n%s", output)
		}
		if !strings.Contains(output, "10:01:30.000  Sync completed") {
			t.Errorf("log trail missing last line, got:\n%s", output)
		}
	})

	t.Run("RenderHistory JSON", func(t *testing.T) {
		data, err := RenderHistory(&models.Source{}, sampleJobs(), FormatJSON)
		if err != nil {
			t.Fatalf("RenderHistory failed: %v", err)
		}
		if !strings.Contains(string(data), `"job-2"`) {
			t.Errorf("JSON missing job id, got: %s", data)
		}
	})

	t.Run("RenderHistory unknown format", func(t *testing.T) {
		if _, err := RenderHistory(&models.Source{}, nil, "xml"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestItemsToCSV(t *testing.T) {
	items := []*models.Item{
		{RemoteID: "a", Title: "Song, with comma", Author: "Artist", DurationSec: 200, Status: models.ItemCompleted, LocalPath: "focus/a.m4a", SizeBytes: 1024},
		{RemoteID: "b", Title: "Broken", Status: models.ItemError, Error: "status 500"},
	}

	data, err := ItemsToCSV(items)
	if err != nil {
		t.Fatalf("ItemsToCSV failed: %v", err)
	}

	output := string(data)
	if !strings.Contains(output, `a,"Song, with comma",Artist,200,completed,focus/a.m4a,1024,`) {
		t.Errorf("CSV did not quote the title, got: %s", output)
	}
	if !strings.Contains(output, "b,Broken,,0,error,,0,status 500") {
		t.Errorf("CSV missing error row, got: %s", output)
	}
}

func TestSnapshotToText(t *testing.T) {
	t.Run("active sync", func(t *testing.T) {
		snap := metrics.Snapshot{
			ActiveItems:         2,
			BytesPerSecond:      2048,
			CompletedLastHour:   5,
			BytesLastHour:       5 << 20,
			ActiveSyncSource:    "src-1",
			ActiveSyncStatus:    "downloading",
			ActiveSyncProcessed: 1,
			ActiveSyncTotal:     4,
			ActiveSyncPercent:   25,
		}
		output := string(SnapshotToText(snap))

		for _, want := range []string{"Active items:     2", "2.0 KiB/s", "5 completed, 0 failed, 5.0 MiB", "src-1 downloading 1/4 (25.0%)"} {
			if !strings.Contains(output, want) {
				t.Errorf("snapshot missing %q, got:\n%s", want, output)
			}
		}
	})

	t.Run("idle", func(t *testing.T) {
		output := string(SnapshotToText(metrics.Snapshot{LastSyncSource: "src-1", LastSyncStatus: "completed"}))
		if !strings.Contains(output, "Active sync:      none") || !strings.Contains(output, "Last sync:        src-1 completed") {
			t.Errorf("unexpected idle snapshot:\n%s", output)
		}
	})
}

func TestFormatHelpers(t *testing.T) {
	bytesCases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tc := range bytesCases {
		if got := FormatBytes(tc.in); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := FormatDuration(0); got != "-" {
		t.Errorf("FormatDuration(0) = %q", got)
	}
	if got := FormatDuration(1500 * time.Microsecond); got != "2ms" {
		t.Errorf("FormatDuration(1.5ms) = %q", got)
	}

	formatCases := map[string]string{"": FormatText, "txt": FormatText, "CSV": FormatCSV, "md": FormatMarkdown, "json": FormatJSON}
	for in, want := range formatCases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("yaml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for yaml, got %v", err)
	}
}

func TestWriteHistoryExport(t *testing.T) {
	fs := memfs.New()
	source := &models.Source{Name: "Focus"}

	if err := WriteHistoryExport(fs, source, sampleJobs(), FormatCSV, "exports/focus/history.csv"); err != nil {
		t.Fatalf("WriteHistoryExport failed: %v", err)
	}

	data, err := util.ReadFile(fs, "exports/focus/history.csv")
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	if !strings.Contains(string(data), "job-2") {
		t.Errorf("export missing job, got: %s", data)
	}

	if err := WriteHistoryExport(fs, source, nil, "xml", "bad.xml"); !errors.Is(err, shared.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}
