// package formatter writes upscaled images and exports job history to various formats (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// SaveImage writes image bytes to path, creating parent directories as needed.
func SaveImage(data []byte, path string) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: no image data to save", shared.ErrInvalidInput)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}

// OutputPath names the result file for input: {dir}/{stem}_{scale}x{ext}.
//
// The extension follows the sniffed type of data (the server always returns PNG), falling back to ".png".
// An empty dir places the file next to the input.
func OutputPath(input, dir string, scale int, data []byte) string {
	if dir == "" {
		dir = filepath.Dir(input)
	}
	return StemOutputPath(stem(input), dir, scale, data)
}

// StemOutputPath is [OutputPath] for a stem chosen by the caller, e.g. one from [OutputStems].
func StemOutputPath(name, dir string, scale int, data []byte) string {
	ext := ".png"
	if len(data) > 0 {
		if detected := mimetype.Detect(data).Extension(); detected != "" {
			ext = detected
		}
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%dx%s", name, scale, ext))
}

// OutputStems returns one distinct stem per input, in input order.
//
// The first input with a given stem keeps it. Later inputs with the same stem
// (a/cat.png, b/cat.png, c/cat.jpg) get the lowest -N suffix, starting at 2,
// that no input already uses.
func OutputStems(inputs []string) []string {
	taken := make(map[string]bool, len(inputs))
	for _, input := range inputs {
		taken[stem(input)] = true
	}

	seen := make(map[string]bool, len(inputs))
	stems := make([]string, len(inputs))
	for i, input := range inputs {
		s := stem(input)
		if !seen[s] {
			seen[s] = true
			stems[i] = s
			continue
		}

		n := 2
		for taken[fmt.Sprintf("%s-%d", s, n)] {
			n++
		}
		unique := fmt.Sprintf("%s-%d", s, n)
		taken[unique] = true
		seen[unique] = true
		stems[i] = unique
	}
	return stems
}

func stem(input string) string {
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteJSON writes v to path as indented JSON.
func WriteJSON(v any, path string) error {
	data, err := shared.MarshalJSON(v, true)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON file: %w", err)
	}
	return nil
}

func sizeString(w, h int) string {
	if w == 0 && h == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ExportJobsToCSV converts jobs to CSV with one row per job.
func ExportJobsToCSV(jobs []*models.Job) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{
		"Sequence", "ID", "Input", "Scale", "Denoise", "Creativity", "ML", "Status",
		"Method", "Original", "Upscaled", "Output", "Error", "Started", "Completed",
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, job := range jobs {
		started := job.StartedAt()
		record := []string{
			strconv.Itoa(job.Sequence()),
			job.ID(),
			job.InputName(),
			strconv.Itoa(job.Scale()),
			strconv.FormatFloat(job.Denoise(), 'f', -1, 64),
			strconv.FormatFloat(job.Creativity(), 'f', -1, 64),
			strconv.FormatBool(job.UseML()),
			string(job.Status()),
			job.Method(),
			sizeString(job.OriginalSize()),
			sizeString(job.UpscaledSize()),
			job.OutputPath(),
			job.ErrorMessage(),
			timeString(&started),
			timeString(job.CompletedAt()),
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

// ExportJobsToMarkdown renders jobs as a Markdown table with a status summary.
func ExportJobsToMarkdown(jobs []*models.Job) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Upscale History\n\n")

	counts := map[models.JobStatus]int{}
	for _, job := range jobs {
		counts[job.Status()]++
	}
	buf.WriteString(fmt.Sprintf("**Jobs**: %d\n", len(jobs)))
	buf.WriteString(fmt.Sprintf("**Complete**: %d, **Error**: %d, **Canceled**: %d\n\n",
		counts[models.JobComplete], counts[models.JobError], counts[models.JobCanceled]))

	if len(jobs) == 0 {
		return buf.Bytes(), nil
	}

	buf.WriteString("| # | Input | Scale | Status | Method | Size | Duration |\n")
	buf.WriteString("|---|-------|-------|--------|--------|------|----------|\n")
	for _, job := range jobs {
		size := sizeString(job.UpscaledSize())
		if orig := sizeString(job.OriginalSize()); orig != "" && size != "" {
			size = orig + " → " + size
		}

		duration := ""
		if d := job.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}

		buf.WriteString(fmt.Sprintf("| %d | %s | %dx | %s | %s | %s | %s |\n",
			job.Sequence(), escapeCell(job.InputName()), job.Scale(), job.Status(),
			escapeCell(job.Method()), size, duration))
	}

	return buf.Bytes(), nil
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// ExportJobsToText renders jobs as plain text, one line per job.
func ExportJobsToText(jobs []*models.Job) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Upscale history: %d jobs\n\n", len(jobs)))

	for _, job := range jobs {
		line := fmt.Sprintf("#%d %s %dx [%s]", job.Sequence(), job.InputName(), job.Scale(), job.Status())
		if job.Method() != "" {
			line += " via " + job.Method()
		}
		if msg := job.ErrorMessage(); msg != "" {
			line += ": " + msg
		}
		line += " (" + humanize.Time(job.StartedAt()) + ")"
		buf.WriteString(line + "\n")
	}

	return buf.Bytes(), nil
}

// ExportJobs renders jobs in format (csv, markdown, txt or json) and writes them to path.
func ExportJobs(jobs []*models.Job, format, path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(format) {
	case "csv":
		data, err = ExportJobsToCSV(jobs)
	case "markdown", "md":
		data, err = ExportJobsToMarkdown(jobs)
	case "txt", "text":
		data, err = ExportJobsToText(jobs)
	case "json":
		data, err = shared.MarshalJSON(JobRecords(jobs), true)
	default:
		return fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidFlag, format)
	}
	if err != nil {
		return fmt.Errorf("failed to generate %s export: %w", format, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// JobRecord is the JSON shape of a [models.Job].
type JobRecord struct {
	ID           string     `json:"id"`
	Sequence     int        `json:"sequence"`
	SessionID    string     `json:"session_id"`
	Input        string     `json:"input"`
	Scale        int        `json:"scale"`
	Denoise      float64    `json:"denoise"`
	Creativity   float64    `json:"creativity"`
	UseML        bool       `json:"use_ml"`
	Status       string     `json:"status"`
	Method       string     `json:"method,omitempty"`
	OriginalSize [2]int     `json:"original_size"`
	UpscaledSize [2]int     `json:"upscaled_size"`
	Output       string     `json:"output,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// JobRecords converts jobs for JSON output.
func JobRecords(jobs []*models.Job) []JobRecord {
	records := make([]JobRecord, 0, len(jobs))
	for _, job := range jobs {
		ow, oh := job.OriginalSize()
		uw, uh := job.UpscaledSize()
		records = append(records, JobRecord{
			ID:           job.ID(),
			Sequence:     job.Sequence(),
			SessionID:    job.SessionID(),
			Input:        job.InputName(),
			Scale:        job.Scale(),
			Denoise:      job.Denoise(),
			Creativity:   job.Creativity(),
			UseML:        job.UseML(),
			Status:       string(job.Status()),
			Method:       job.Method(),
			OriginalSize: [2]int{ow, oh},
			UpscaledSize: [2]int{uw, uh},
			Output:       job.OutputPath(),
			Error:        job.ErrorMessage(),
			StartedAt:    job.StartedAt(),
			CompletedAt:  job.CompletedAt(),
		})
	}
	return records
}
