package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/upscaler/internal/tasks"
	"github.com/dustin/go-humanize"
)

const barWidth = 30

// progressPrinter renders session progress as a single redrawn line on a terminal, or as log lines otherwise.
type progressPrinter struct {
	w      io.Writer
	tty    bool
	logger *log.Logger
	last   tasks.Progress
	seen   bool
	drawn  int
}

func newProgressPrinter(w io.Writer, tty bool, logger *log.Logger) *progressPrinter {
	return &progressPrinter{w: w, tty: tty, logger: logger}
}

func (p *progressPrinter) show(s tasks.Session) {
	if s.Progress == nil {
		return
	}
	pr := *s.Progress
	if p.seen && pr == p.last {
		return
	}
	p.last, p.seen = pr, true

	if !p.tty {
		p.logger.Info("progress", "step", pr.Step, "total", pr.Total, "percent", pr.Percent, "message", pr.Message)
		return
	}

	line := fmt.Sprintf("%s %3.0f%%  %s", bar(pr.Percent), pr.Percent, progressLabel(pr))
	pad := ""
	if n := len([]rune(line)); n < p.drawn {
		pad = strings.Repeat(" ", p.drawn-n)
	}
	fmt.Fprintf(p.w, "\r%s%s", line, pad)
	p.drawn = len([]rune(line))
}

// finish moves past the redrawn line.
func (p *progressPrinter) finish() {
	if p.drawn > 0 {
		fmt.Fprintln(p.w)
		p.drawn = 0
	}
}

func progressLabel(pr tasks.Progress) string {
	label := pr.Message
	if label == "" {
		label = "starting..."
		if pr.Step > 0 {
			label = fmt.Sprintf("step %d/%d", pr.Step, pr.Total)
		}
	}
	if pr.Preview != "" {
		label += fmt.Sprintf(" (preview %s)", humanize.Bytes(uint64(len(pr.Preview)*3/4)))
	}
	return label
}

func bar(percent float64) string {
	filled := int(percent / 100 * barWidth)
	filled = max(0, min(barWidth, filled))
	return strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
}
