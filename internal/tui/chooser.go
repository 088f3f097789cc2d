// Package tui provides the interactive device chooser shown when the
// operator connects a printer from a terminal
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/thereceipt/cafeprint/internal/printer"
)

const maxNameWidth = 40

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Choose key.Binding
	Cancel key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Choose, k.Cancel}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var defaultKeys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Choose: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "connect")),
	Cancel: key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("esc/q", "cancel")),
}

// chooserModel is a single-selection list
type chooserModel struct {
	title        string
	candidates   []printer.Candidate
	cursor       int
	scrollOffset int
	height       int
	chosen       int
	keys         keyMap
	help         help.Model
}

func newChooserModel(title string, candidates []printer.Candidate) chooserModel {
	m := chooserModel{
		title:      title,
		candidates: candidates,
		chosen:     -1,
		keys:       defaultKeys,
		help:       help.New(),
	}
	// Start on the device used last time
	for i, c := range candidates {
		if c.Preferred {
			m.cursor = i
			break
		}
	}
	return m
}

func (m chooserModel) Init() tea.Cmd {
	return nil
}

func (m chooserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		m.help.Width = msg.Width
		m.adjustScroll()
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Cancel):
			m.chosen = -1
			return m, tea.Quit
		case key.Matches(msg, m.keys.Choose):
			if len(m.candidates) > 0 {
				m.chosen = m.cursor
			}
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
				m.adjustScroll()
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.candidates)-1 {
				m.cursor++
				m.adjustScroll()
			}
		}
	}
	return m, nil
}

// visibleRows leaves room for the header and help line
func (m chooserModel) visibleRows() int {
	if m.height <= 0 {
		return len(m.candidates)
	}
	rows := m.height - 4
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (m *chooserModel) adjustScroll() {
	rows := m.visibleRows()
	if m.cursor < m.scrollOffset {
		m.scrollOffset = m.cursor
	}
	if m.cursor >= m.scrollOffset+rows {
		m.scrollOffset = m.cursor - rows + 1
	}
}

func (m chooserModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")

	if len(m.candidates) == 0 {
		b.WriteString(faintStyle.Render("  No printers found"))
		b.WriteString("\n")
	}

	end := m.scrollOffset + m.visibleRows()
	if end > len(m.candidates) {
		end = len(m.candidates)
	}
	for i := m.scrollOffset; i < end; i++ {
		c := m.candidates[i]
		mark := " "
		if c.Preferred {
			mark = grantedMark.String()
		}
		line := fmt.Sprintf("%s %s", mark, truncate(c.Name, maxNameWidth))
		if c.Detail != "" {
			line += "  " + detailStyle.Render(c.Detail)
		}

		style := rowStyle
		if i == m.cursor {
			style = focusedRowStyle
		}
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

// Chooser asks the operator on a terminal. Prompts are shown one at a time.
type Chooser struct {
	mu     sync.Mutex
	input  io.Reader
	output io.Writer
}

// NewChooser creates a chooser; nil input and output mean the process
// terminal
func NewChooser(input io.Reader, output io.Writer) *Chooser {
	return &Chooser{input: input, output: output}
}

// Choose runs the list until the operator picks or dismisses it
func (c *Chooser) Choose(ctx context.Context, title string, candidates []printer.Candidate) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if c.input != nil {
		opts = append(opts, tea.WithInput(c.input))
	}
	if c.output != nil {
		opts = append(opts, tea.WithOutput(c.output))
	}

	final, err := tea.NewProgram(newChooserModel(title, candidates), opts...).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) || ctx.Err() != nil {
			return -1, printer.ErrCancelled
		}
		return -1, fmt.Errorf("device chooser failed: %w", err)
	}

	m, ok := final.(chooserModel)
	if !ok || m.chosen < 0 {
		return -1, printer.ErrCancelled
	}
	return m.chosen, nil
}

var _ printer.Chooser = (*Chooser)(nil)
