package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/upscaler/internal/models"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgSession MsgKind = iota
	MsgSubscriptionClosed
	MsgHealth
	MsgSaved
	MsgHistory
)

type savedResult struct {
	sessionID string
	path      string
	err       error
}

type historyResult struct {
	jobs []*models.Job
	err  error
}

// sessionMsg is the constructor for [MsgSession]
func sessionMsg(s tasks.Session) Msg {
	return Msg{kind: MsgSession, data: s}
}

// subscriptionClosedMsg is the constructor for [MsgSubscriptionClosed]
func subscriptionClosedMsg() Msg {
	return Msg{kind: MsgSubscriptionClosed}
}

// healthMsg is the constructor for [MsgHealth]; a nil status means not connected.
func healthMsg(h *services.HealthStatus) Msg {
	return Msg{kind: MsgHealth, data: h}
}

// savedMsg is the constructor for [MsgSaved]
func savedMsg(sessionID, path string, err error) Msg {
	return Msg{kind: MsgSaved, data: savedResult{sessionID: sessionID, path: path, err: err}}
}

// historyMsg is the constructor for [MsgHistory]
func historyMsg(jobs []*models.Job, err error) Msg {
	return Msg{kind: MsgHistory, data: historyResult{jobs: jobs, err: err}}
}
