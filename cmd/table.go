package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/tasks"
	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range r {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

func (r *Runner) renderEndpoints(endpoints map[string]string) error {
	paths := make([]string, 0, len(endpoints))
	for p := range endpoints {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	rows := make([][]string, 0, len(paths))
	for _, p := range paths {
		rows = append(rows, []string{p, endpoints[p]})
	}
	return r.writePlain("%s\n", renderTable([]string{"Endpoint", "Description"}, rows, nil))
}

func sizeCell(w, h int) string {
	if w == 0 && h == 0 {
		return "-"
	}
	return fmt.Sprintf("%dx%d", w, h)
}

func (r *Runner) renderJobs(jobs []*models.Job) error {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		ow, oh := job.OriginalSize()
		uw, uh := job.UpscaledSize()

		detail := job.Method()
		if job.Status() == models.JobError {
			detail = job.ErrorMessage()
		}

		duration := "-"
		if job.CompletedAt() != nil {
			duration = job.Duration().Round(10 * time.Millisecond).String()
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", job.Sequence()),
			job.InputName(),
			fmt.Sprintf("%dx", job.Scale()),
			string(job.Status()),
			sizeCell(ow, oh),
			sizeCell(uw, uh),
			detail,
			duration,
			humanize.Time(job.StartedAt()),
		})
	}

	headers := []string{"#", "Input", "Scale", "Status", "Original", "Upscaled", "Method / Error", "Took", "Started"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignRight, alignRight, alignLeft, alignRight, alignLeft}
	return r.writePlain("%s\n", renderTable(headers, rows, aligns))
}

func (r *Runner) renderBatch(result *tasks.BatchResult) error {
	rows := make([][]string, 0, len(result.Results))
	for _, res := range result.Results {
		outcome := res.Output
		if !res.Success {
			outcome = res.Error
		}
		rows = append(rows, []string{
			res.Input,
			map[bool]string{true: "✓", false: "✗"}[res.Success],
			sizeCell(res.UpscaledSize.Width(), res.UpscaledSize.Height()),
			res.Method,
			res.Elapsed.Round(10 * time.Millisecond).String(),
			outcome,
		})
	}

	headers := []string{"Input", "OK", "Size", "Method", "Took", "Output / Error"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft}
	return r.writePlain("%s\n", renderTable(headers, rows, aligns))
}
