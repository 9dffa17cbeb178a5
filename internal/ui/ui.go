package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/upscaler/internal/formatter"
	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/tasks"
	"github.com/dustin/go-humanize"
)

var scales = []int{2, 3, 4}

// Options configures the [Model].
type Options struct {
	Params    services.UpscaleParams
	OutputDir string                        // Result directory; empty saves next to the input
	Recorder  tasks.OutputRecorder          // Optional; told where results were saved
	History   func() ([]*models.Job, error) // Optional; backs the history panel
}

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	ctrl        *tasks.Controller
	image       services.Image
	input       string
	opts        Options
	params      services.UpscaleParams
	sentScale   int
	health      *services.HealthStatus
	checked     bool
	session     tasks.Session
	updates     <-chan tasks.Session
	unsubscribe func()
	savedFor    string
	savedPath   string
	saveErr     error
	showHistory bool
	history     list.Model
	historyErr  error
	historyOK   bool
	spinner     spinner.Model
	bar         progress.Model
	help        help.Model
	keys        keyMap
	width       int
	height      int
}

// NewModel creates a TUI for upscaling the image loaded from input, subscribed to ctrl.
func NewModel(ctx context.Context, ctrl *tasks.Controller, image services.Image, input string, opts Options) *Model {
	updates, unsubscribe := ctrl.Subscribe()

	s := spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styles.spinner))

	return &Model{
		ctx:         ctx,
		ctrl:        ctrl,
		image:       image,
		input:       input,
		opts:        opts,
		params:      opts.Params,
		session:     ctrl.Session(),
		updates:     updates,
		unsubscribe: unsubscribe,
		spinner:     s,
		bar:         progress.New(progress.WithGradient(styles.barFrom, styles.barTo), progress.WithWidth(40)),
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init starts the spinner, checks server health and begins listening for session updates.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.checkHealth(), m.waitForSession())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.bar.Width = max(10, min(msg.Width-4, 60))
		if m.historyOK {
			m.history.SetSize(msg.Width-4, msg.Height-8)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKeys(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case Msg:
		return m.handleMsg(msg)
	}

	return m, nil
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.quit):
		m.ctrl.Cancel()
		m.unsubscribe()
		return m, tea.Quit

	case key.Matches(msg, m.keys.history):
		m.showHistory = !m.showHistory
		if m.showHistory {
			return m, m.loadHistory()
		}
		return m, nil
	}

	if m.showHistory {
		if !m.historyOK {
			return m, nil
		}
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.upscale):
		if m.session.Active() {
			return m, nil
		}
		m.savedPath, m.saveErr = "", nil
		m.sentScale = m.params.Scale
		m.ctrl.Upscale(m.ctx, m.image, m.params)

	case key.Matches(msg, m.keys.cancel):
		m.ctrl.Cancel()

	case key.Matches(msg, m.keys.reset):
		m.ctrl.Reset()
		m.savedPath, m.saveErr = "", nil

	case key.Matches(msg, m.keys.scale):
		m.params.Scale = nextScale(m.params.Scale)

	case key.Matches(msg, m.keys.ml):
		m.params.UseML = !m.params.UseML

	case key.Matches(msg, m.keys.health):
		m.checked = false
		return m, m.checkHealth()
	}

	return m, nil
}

func nextScale(current int) int {
	for i, s := range scales {
		if s == current {
			return scales[(i+1)%len(scales)]
		}
	}
	return scales[0]
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgSession:
		s := msg.data.(tasks.Session)
		m.session = s
		cmds := []tea.Cmd{m.waitForSession()}
		if s.Status == tasks.StatusComplete && s.ID != m.savedFor {
			m.savedFor = s.ID
			cmds = append(cmds, m.saveResult(s))
		}
		return m, tea.Batch(cmds...)

	case MsgSubscriptionClosed:
		return m, nil

	case MsgHealth:
		m.health, _ = msg.data.(*services.HealthStatus)
		m.checked = true
		return m, nil

	case MsgSaved:
		r := msg.data.(savedResult)
		if r.sessionID == m.session.ID {
			m.savedPath, m.saveErr = r.path, r.err
		}
		return m, nil

	case MsgHistory:
		r := msg.data.(historyResult)
		m.historyErr = r.err
		m.history = newHistoryList(r.jobs, max(m.width-4, 60), max(m.height-8, 20))
		m.historyOK = true
		return m, nil
	}

	return m, nil
}

func (m *Model) waitForSession() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.updates
		if !ok {
			return subscriptionClosedMsg()
		}
		return sessionMsg(s)
	}
}

func (m *Model) checkHealth() tea.Cmd {
	return func() tea.Msg {
		return healthMsg(m.ctrl.CheckHealth(m.ctx))
	}
}

func (m *Model) saveResult(s tasks.Session) tea.Cmd {
	scale := m.sentScale
	if scale == 0 {
		scale = m.params.Scale
	}

	return func() tea.Msg {
		data, err := s.Result.Bytes()
		if err != nil {
			return savedMsg(s.ID, "", err)
		}

		path := formatter.OutputPath(m.input, m.opts.OutputDir, scale, data)
		if err := formatter.SaveImage(data, path); err != nil {
			return savedMsg(s.ID, "", err)
		}

		if m.opts.Recorder != nil {
			m.opts.Recorder.Saved(s.ID, path)
		}
		return savedMsg(s.ID, path, nil)
	}
}

func (m *Model) loadHistory() tea.Cmd {
	return func() tea.Msg {
		if m.opts.History == nil {
			return historyMsg(nil, fmt.Errorf("history is not configured"))
		}
		jobs, err := m.opts.History()
		return historyMsg(jobs, err)
	}
}

// View renders the UI based on the current session state.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(styles.header.Render(fmt.Sprintf("upx • %s", m.image.Name)))
	b.WriteString("\n")
	b.WriteString(m.renderHealth())
	b.WriteString("\n")
	b.WriteString(m.renderParams())
	b.WriteString("\n\n")

	if m.showHistory {
		b.WriteString(m.renderHistory())
	} else {
		b.WriteString(m.renderSession())
	}

	b.WriteString("\n\n")
	b.WriteString(m.help.FullHelpView(m.keys.FullHelp()))
	return b.String()
}

func (m *Model) renderHealth() string {
	label := styles.field.Render("Server")
	switch {
	case !m.checked:
		return label + m.spinner.View() + " checking..."
	case m.health == nil:
		return label + styles.server(false, false).Render("not connected")
	default:
		return label + styles.server(true, m.health.ModelLoading).Render(m.health.Summary())
	}
}

func (m *Model) renderParams() string {
	ml := "off"
	if m.params.UseML {
		ml = "on"
	}
	return styles.field.Render("Params") + fmt.Sprintf("%dx • denoise %.2f • creativity %.2f • ML %s",
		m.params.Scale, m.params.Denoise, m.params.Creativity, ml)
}

func (m *Model) renderSession() string {
	s := m.session

	switch s.Status {
	case tasks.StatusProcessing:
		lines := []string{m.spinner.View() + " Processing..."}
		if p := s.Progress; p != nil {
			lines = append(lines, m.bar.ViewAs(p.Percent/100))
			step := fmt.Sprintf("step %d/%d", p.Step, p.Total)
			if p.Message != "" {
				step += " • " + p.Message
			}
			lines = append(lines, styles.detail.Render(step))
			if p.Preview != "" {
				size := uint64(len(p.Preview) * 3 / 4)
				lines = append(lines, styles.detail.Render("preview received ("+humanize.Bytes(size)+")"))
			}
		} else {
			lines = append(lines, m.bar.ViewAs(0))
		}
		return strings.Join(lines, "\n")

	case tasks.StatusComplete:
		r := s.Result
		lines := []string{
			styles.complete.Render("✓ Upscale complete"),
			fmt.Sprintf("%s → %s via %s", r.OriginalSize, r.UpscaledSize, r.Method),
		}
		switch {
		case m.saveErr != nil:
			lines = append(lines, styles.failed.Render("save failed: "+m.saveErr.Error()))
		case m.savedPath != "":
			lines = append(lines, "saved to "+m.savedPath)
		default:
			lines = append(lines, styles.detail.Render("saving..."))
		}
		return strings.Join(lines, "\n")

	case tasks.StatusError:
		return styles.failed.Render("✗ "+s.ErrorMessage()) + "\n" + styles.detail.Render("press enter to retry, x to reset")

	default:
		return styles.detail.Render("Ready. Press enter to upscale.")
	}
}

func (m *Model) renderHistory() string {
	if m.historyErr != nil {
		return styles.failed.Render(fmt.Sprintf("history unavailable: %v", m.historyErr))
	}
	if !m.historyOK {
		return m.spinner.View() + " loading history..."
	}
	return m.history.View()
}
