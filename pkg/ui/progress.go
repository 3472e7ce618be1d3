// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package ui

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vulntor/jobwatch/pkg/jobs"
)

// ErrNotTerminal is returned by NewProgressView when stdout is not a TTY.
var ErrNotTerminal = errors.New("progress view requires an interactive terminal")

const (
	statusRunning   = "running"
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusCancelled = "cancelled"

	maxLogLines = 200
)

type progressMsg struct {
	percent *float64
	message string
}

type finishedMsg struct {
	status string
	errMsg string
}

type logLineMsg struct {
	line  string
	level string
}

// ProgressView is a full screen progress display for one job.
//
// Log output of the global zerolog logger is captured into the view while it
// runs and restored by Close.
type ProgressView struct {
	program *tea.Program
	done    chan struct{}
	final   chan string
	logPipe *logPipe

	origLogger zerolog.Logger
	origCtx    *zerolog.Logger
	closeOnce  sync.Once
}

// IsInteractive reports whether f is a terminal.
func IsInteractive(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// NewProgressView starts the view on stdout. cancel is called once when the
// user presses Ctrl+C; the view keeps running until the job settles.
func NewProgressView(tool string, cancel func()) (*ProgressView, error) {
	if !IsInteractive(os.Stdout) {
		return nil, ErrNotTerminal
	}

	ready := make(chan struct{})
	model := newProgressModel(tool, cancel, ready)
	program := tea.NewProgram(model,
		tea.WithOutput(os.Stdout),
		tea.WithoutSignalHandler(),
		tea.WithAltScreen(),
	)

	v := &ProgressView{
		program:    program,
		done:       make(chan struct{}),
		final:      make(chan string, 1),
		origLogger: log.Logger,
		origCtx:    zerolog.DefaultContextLogger,
	}
	v.logPipe = &logPipe{send: func(msg tea.Msg) { program.Send(msg) }}
	log.Logger = v.origLogger.Output(zerolog.ConsoleWriter{
		Out:        v.logPipe,
		TimeFormat: "15:04:05",
		NoColor:    true,
	})
	zerolog.DefaultContextLogger = &log.Logger

	go func() {
		defer close(v.done)
		res, _ := program.Run()
		if m, ok := res.(*progressModel); ok {
			v.final <- m.View()
		}
		close(v.final)
	}()

	<-ready
	return v, nil
}

// Callbacks returns observer hooks feeding this view.
func (v *ProgressView) Callbacks() jobs.Callbacks {
	return jobs.Callbacks{
		OnProgress: func(percent *float64, message string) {
			v.program.Send(progressMsg{percent: percent, message: message})
		},
		OnSuccess: func(jobs.Result) {
			v.program.Send(finishedMsg{status: statusSucceeded})
		},
		OnError: func(err error) {
			v.program.Send(finishedMsg{status: statusFailed, errMsg: err.Error()})
		},
		OnCancel: func() {
			v.program.Send(finishedMsg{status: statusCancelled})
		},
	}
}

// Close waits for the view to exit, restores the global logger and prints
// the final frame to out.
func (v *ProgressView) Close(out io.Writer) {
	v.closeOnce.Do(func() {
		// no-op when a terminal callback already ended the program
		v.program.Send(finishedMsg{status: statusFailed})
		<-v.done
		v.logPipe.flush()
		log.Logger = v.origLogger
		zerolog.DefaultContextLogger = v.origCtx
		if view, ok := <-v.final; ok && strings.TrimSpace(view) != "" {
			fmt.Fprintln(out, view)
		}
	})
}

type progressModel struct {
	tool    string
	cancel  func()
	ready   chan struct{}
	started time.Time

	spinner spinner.Model
	bar     bubblesprogress.Model

	percent    *float64
	message    string
	updates    int
	logs       []logLineMsg
	cancelling bool

	finished   bool
	status     string
	errMessage string
	elapsed    time.Duration
}

func newProgressModel(tool string, cancel func(), ready chan struct{}) *progressModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return &progressModel{
		tool:    tool,
		cancel:  cancel,
		ready:   ready,
		started: time.Now(),
		spinner: sp,
		bar: bubblesprogress.New(
			bubblesprogress.WithDefaultGradient(),
			bubblesprogress.WithWidth(40),
		),
		status: statusRunning,
		logs:   make([]logLineMsg, 0, 32),
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(func() tea.Msg {
		if m.ready != nil {
			close(m.ready)
		}
		return nil
	}, m.spinner.Tick)
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch t := msg.(type) {
	case progressMsg:
		m.updates++
		if t.percent != nil {
			m.percent = t.percent
		}
		if t.message != "" {
			m.message = t.message
			m.appendLog(logLineMsg{line: t.message, level: "info"})
		}
		return m, nil
	case finishedMsg:
		if m.finished {
			return m, tea.Quit
		}
		m.finished = true
		m.status = t.status
		m.errMessage = t.errMsg
		m.elapsed = time.Since(m.started).Round(time.Second)
		if t.status == statusSucceeded {
			full := 100.0
			m.percent = &full
		}
		return m, tea.Quit
	case logLineMsg:
		m.appendLog(t)
		return m, nil
	case spinner.TickMsg:
		if m.finished {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(t)
		return m, cmd
	case tea.KeyMsg:
		if t.Type != tea.KeyCtrlC {
			return m, nil
		}
		if m.cancelling {
			// second Ctrl+C leaves the view; the job is already being stopped
			return m, tea.Quit
		}
		m.cancelling = true
		if m.cancel != nil {
			m.cancel()
		}
	}
	return m, nil
}

func (m *progressModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("jobwatch · " + m.tool))
	b.WriteString("\n\n")

	if len(m.logs) == 0 && !m.finished {
		b.WriteString(subtleStyle.Render("waiting for the first update…"))
		b.WriteString("\n")
	}
	for _, entry := range m.logs {
		b.WriteString(styleForLevel(entry.level).Render(entry.line))
		b.WriteString("\n")
	}
	b.WriteString(dividerStyle.Render(strings.Repeat("─", 60)))
	b.WriteString("\n")

	if m.percent != nil {
		b.WriteString(m.bar.ViewAs(*m.percent / 100))
		b.WriteString("\n")
	}

	if m.finished {
		summary := fmt.Sprintf("%s %s in %s", m.tool, m.status, m.elapsed)
		if m.errMessage != "" {
			summary += ": " + m.errMessage
		}
		b.WriteString(styleForLevel(m.status).Render(summary))
		return b.String()
	}

	status := fmt.Sprintf("%s %s updates=%d elapsed=%s",
		m.spinner.View(), m.tool, m.updates, time.Since(m.started).Round(time.Second))
	if m.cancelling {
		status += " | cancelling…"
	} else if m.message != "" {
		status += " | " + truncate(m.message, 40)
	}
	b.WriteString(statusBarStyle.Render(status))
	return b.String()
}

func (m *progressModel) appendLog(entry logLineMsg) {
	if len(m.logs) >= maxLogLines {
		m.logs = append(m.logs[1:], entry)
		return
	}
	m.logs = append(m.logs, entry)
}

// logPipe splits console writer output into lines for the view.
type logPipe struct {
	mu   sync.Mutex
	send func(tea.Msg)
	buf  strings.Builder
}

func (w *logPipe) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			w.flushLocked()
			continue
		}
		w.buf.WriteByte(b)
	}
	return len(p), nil
}

func (w *logPipe) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushLocked()
}

func (w *logPipe) flushLocked() {
	line := strings.TrimSpace(w.buf.String())
	w.buf.Reset()
	if line == "" || w.send == nil {
		return
	}
	w.send(logLineMsg{line: line, level: levelFromLine(line)})
}

// levelFromLine reads the level column of a zerolog console line
// ("15:04:05 WRN message").
func levelFromLine(line string) string {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return "info"
	}
	switch strings.ToLower(parts[1]) {
	case "dbg", "debug", "trc":
		return "debug"
	case "wrn", "warn":
		return "warn"
	case "err", "error", "ftl", "fatal", "pnc":
		return "error"
	default:
		return "info"
	}
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-1]) + "…"
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	subtleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("75"))
	dividerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	statusBarStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("57")).Padding(0, 1)
)

func styleForLevel(level string) lipgloss.Style {
	switch level {
	case statusSucceeded:
		return successStyle
	case "error", statusFailed:
		return errorStyle
	case "warn", statusCancelled:
		return warnStyle
	case "debug":
		return subtleStyle
	default:
		return infoStyle
	}
}
