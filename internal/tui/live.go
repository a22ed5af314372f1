package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

var (
	cyan   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white  = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim    = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	green  = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

const historyLen = 200

// Sample is one output point pushed into the live view.
type Sample struct {
	T float64
	X []float64
	Q []float64
}

// DoneMsg ends the live view; Err carries the run failure, if any.
type DoneMsg struct{ Err error }

// Model is the live integration view: current state on the left, a
// scrolling plot of the first state component on the right.
type Model struct {
	name    string
	t0, tf  float64
	samples <-chan Sample

	t       float64
	x       []float64
	q       []float64
	history []float64
	err     error
	done    bool
	width   int
}

func NewLive(name string, t0, tf float64, samples <-chan Sample) Model {
	return Model{
		name:    name,
		t0:      t0,
		tf:      tf,
		samples: samples,
		history: make([]float64, 0, historyLen),
		width:   80,
	}
}

func (m Model) Init() tea.Cmd { return m.nextSample() }

func (m Model) nextSample() tea.Cmd {
	return func() tea.Msg {
		s, ok := <-m.samples
		if !ok {
			return DoneMsg{}
		}
		return s
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case Sample:
		m.t = msg.T
		m.x = msg.X
		m.q = msg.Q
		if len(msg.X) > 0 {
			m.history = append(m.history, msg.X[0])
			if len(m.history) > historyLen {
				m.history = m.history[1:]
			}
		}
		return m, m.nextSample()
	case DoneMsg:
		m.done = true
		m.err = msg.Err
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(cyan.Render(m.name) + dim.Render(fmt.Sprintf("  [%g, %g]", m.t0, m.tf)) + "\n\n")

	progress := 0.0
	if m.tf > m.t0 {
		progress = (m.t - m.t0) / (m.tf - m.t0)
	}
	b.WriteString(fmt.Sprintf("t = %s  %s\n\n",
		white.Render(fmt.Sprintf("%.4f", m.t)),
		dim.Render(fmt.Sprintf("%3.0f%%", 100*progress))))

	for i, v := range m.x {
		b.WriteString(fmt.Sprintf("  x%d = %s\n", i, white.Render(fmt.Sprintf("% .6e", v))))
	}
	for i, v := range m.q {
		b.WriteString(fmt.Sprintf("  q%d = %s\n", i, yellow.Render(fmt.Sprintf("% .6e", v))))
	}

	if len(m.history) > 1 {
		w := m.width - 10
		if w > 80 {
			w = 80
		}
		if w > 10 {
			b.WriteString("\n" + asciigraph.Plot(m.history,
				asciigraph.Height(10),
				asciigraph.Width(w),
				asciigraph.Caption("x0"),
			) + "\n")
		}
	}

	if m.done {
		if m.err != nil {
			b.WriteString("\n" + yellow.Render(fmt.Sprintf("failed: %v", m.err)) + "\n")
		} else {
			b.WriteString("\n" + green.Render("done") + "\n")
		}
		b.WriteString(dim.Render("press q to exit") + "\n")
	} else {
		b.WriteString("\n" + dim.Render("integrating... press q to abort") + "\n")
	}
	return b.String()
}
