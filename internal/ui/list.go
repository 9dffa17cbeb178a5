package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/upscaler/internal/models"
	"github.com/dustin/go-humanize"
)

var (
	_ list.Item = jobItem{}
)

// jobItem wraps [models.Job] to implement [list.Item].
type jobItem struct {
	job *models.Job
}

func (i jobItem) FilterValue() string { return i.job.InputName() }
func (i jobItem) Title() string {
	return fmt.Sprintf("#%d %s", i.job.Sequence(), i.job.InputName())
}
func (i jobItem) Description() string {
	desc := fmt.Sprintf("%dx • %s", i.job.Scale(), i.job.Status())
	if i.job.Method() != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.job.Method())
	}
	if msg := i.job.ErrorMessage(); msg != "" {
		desc = fmt.Sprintf("%s • %s", desc, msg)
	}
	return fmt.Sprintf("%s • %s", desc, humanize.Time(i.job.StartedAt()))
}

func newHistoryList(jobs []*models.Job, width, height int) list.Model {
	items := make([]list.Item, len(jobs))
	for i, job := range jobs {
		items[i] = jobItem{job: job}
	}

	l := list.New(items, list.NewDefaultDelegate(), width, height)
	l.Title = "Recent Upscales"
	l.SetShowHelp(false)
	return l
}
