// package formatter renders sync history, item listings and metrics snapshots as CSV, Markdown, JSON or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/goccy/go-json"

	"github.com/desertthunder/plsync/internal/metrics"
	"github.com/desertthunder/plsync/internal/models"
	"github.com/desertthunder/plsync/internal/shared"
)

// Supported export formats
const (
	FormatText     = "text"
	FormatCSV      = "csv"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
)

// ParseFormat normalizes a format name. "md" and "txt" are accepted aliases.
func ParseFormat(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "text", "txt":
		return FormatText, nil
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q (text, csv, markdown, json)", shared.ErrInvalidArgument, name)
	}
}

// FormatBytes renders a byte count with a binary unit, e.g. 1.5 MiB.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatDuration renders a duration rounded to the millisecond, or "-" when zero.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

// HistoryToCSV converts jobs to CSV with columns: ID, Trigger, Status, Started, Completed, Duration, Total, Succeeded, Failed, Skipped, Error
func HistoryToCSV(jobs []*models.Job) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Trigger", "Status", "Started", "Completed", "Duration", "Total", "Succeeded", "Failed", "Skipped", "Error"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, job := range jobs {
		record := []string{
			job.ID,
			string(job.Trigger),
			string(job.Status),
			formatTime(&job.StartedAt),
			formatTime(job.CompletedAt),
			strconv.FormatInt(job.Duration.Milliseconds(), 10),
			strconv.Itoa(job.Total),
			strconv.Itoa(job.Succeeded),
			strconv.Itoa(job.Failed),
			strconv.Itoa(job.Skipped),
			job.Error,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// HistoryToMarkdown renders a source's job history as a Markdown table.
func HistoryToMarkdown(source *models.Source, jobs []*models.Job) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s\n\n", source.Name)
	fmt.Fprintf(&buf, "**Remote**: %s\n", source.RemoteID)
	fmt.Fprintf(&buf, "**Status**: %s\n", source.Status)
	fmt.Fprintf(&buf, "**Items**: %d/%d materialized (%s)\n", source.MaterializedItems, source.TotalItems, FormatBytes(source.TotalBytes))
	if source.LastError != "" {
		fmt.Fprintf(&buf, "**Last error**: %s\n", source.LastError)
	}

	buf.WriteString("\n## Jobs\n\n")
	if len(jobs) == 0 {
		buf.WriteString("No jobs yet.\n")
		return buf.Bytes()
	}

	buf.WriteString("| Started | Trigger | Status | Duration | Succeeded | Failed | Skipped |\n")
	buf.WriteString("|---|---|---|---|---|---|---|\n")
	for _, job := range jobs {
		fmt.Fprintf(&buf, "| %s | %s | %s | %s | %d | %d | %d |\n",
			formatTime(&job.StartedAt), job.Trigger, job.Status, FormatDuration(job.Duration),
			job.Succeeded, job.Failed, job.Skipped)
	}
	return buf.Bytes()
}

// HistoryToText renders one line per job.
func HistoryToText(jobs []*models.Job) []byte {
	var buf bytes.Buffer
	for _, job := range jobs {
		fmt.Fprintf(&buf, "%s  %-9s %-10s %4d/%-4d ok=%d failed=%d skipped=%d  %s\n",
			formatTime(&job.StartedAt), job.Trigger, job.Status, job.Processed, job.Total,
			job.Succeeded, job.Failed, job.Skipped, FormatDuration(job.Duration))
		if job.Error != "" {
			fmt.Fprintf(&buf, "    error: %s\n", job.Error)
		}
	}
	return buf.Bytes()
}

// JobLogToText renders a job's full log trail.
func JobLogToText(job *models.Job) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Job %s (%s, %s)\n", job.ID, job.Trigger, job.Status)
	for _, entry := range job.Logs {
		fmt.Fprintf(&buf, "%s  %s\n", entry.At.UTC().Format("15:04:05.000"), entry.Message)
	}
	return buf.Bytes()
}

// ItemsToCSV converts items to CSV with columns: RemoteID, Title, Author, Duration, Status, Path, Size, Error
func ItemsToCSV(items []*models.Item) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	if err := writer.Write([]string{"RemoteID", "Title", "Author", "Duration", "Status", "Path", "Size", "Error"}); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}
	for _, item := range items {
		record := []string{
			item.RemoteID,
			item.Title,
			item.Author,
			strconv.Itoa(item.DurationSec),
			string(item.Status),
			item.LocalPath,
			strconv.FormatInt(item.SizeBytes, 10),
			item.Error,
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// SnapshotToText renders a metrics snapshot for a terminal.
func SnapshotToText(snap metrics.Snapshot) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Active items:     %d\n", snap.ActiveItems)
	fmt.Fprintf(&buf, "Throughput:       %s/s\n", FormatBytes(int64(snap.BytesPerSecond)))
	fmt.Fprintf(&buf, "Average progress: %.1f%%\n", snap.AveragePercent)
	fmt.Fprintf(&buf, "Last hour:        %d completed, %d failed, %s\n", snap.CompletedLastHour, snap.FailedLastHour, FormatBytes(snap.BytesLastHour))

	if snap.ActiveSyncSource != "" {
		fmt.Fprintf(&buf, "Active sync:      %s %s %d/%d (%.1f%%)\n",
			snap.ActiveSyncSource, snap.ActiveSyncStatus, snap.ActiveSyncProcessed, snap.ActiveSyncTotal, snap.ActiveSyncPercent)
	} else {
		buf.WriteString("Active sync:      none\n")
	}
	if snap.LastSyncSource != "" {
		fmt.Fprintf(&buf, "Last sync:        %s %s at %s\n", snap.LastSyncSource, snap.LastSyncStatus, formatTime(&snap.LastSyncCompletedAt))
	}
	return buf.Bytes()
}

// ToJSON marshals v, indented when pretty is set.
func ToJSON(v any, pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// RenderHistory renders jobs in the given format.
func RenderHistory(source *models.Source, jobs []*models.Job, format string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return HistoryToCSV(jobs)
	case FormatMarkdown:
		return HistoryToMarkdown(source, jobs), nil
	case FormatJSON:
		return ToJSON(jobs, true)
	case FormatText:
		return HistoryToText(jobs), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteHistoryExport renders jobs and writes them to path on fs, creating parent directories.
func WriteHistoryExport(fs billy.Filesystem, source *models.Source, jobs []*models.Job, format, path string) error {
	data, err := RenderHistory(source, jobs, format)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	if err := util.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
