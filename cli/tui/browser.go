package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	minListWidth  = 24
	// chrome is the rows taken by pane borders and the help line.
	chrome = 4
)

// BrowserModel is a Bubble Tea model listing files on the left and the
// tags of the selected file on the right.
type BrowserModel struct {
	entries  []Entry
	cursor   int
	offset   int
	width    int
	height   int
	tags     viewport.Model
	quitting bool
}

// NewBrowserModel creates a browser over entries sized for an 100x30
// terminal until the first WindowSizeMsg arrives.
func NewBrowserModel(entries []Entry) BrowserModel {
	m := BrowserModel{entries: entries}
	m.resize(defaultWidth, defaultHeight)
	return m
}

// Cursor returns the index of the selected entry.
func (m BrowserModel) Cursor() int {
	return m.cursor
}

// Init implements tea.Model.
func (m BrowserModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m BrowserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			m.move(-1)
		case key.Matches(msg, keys.Down):
			m.move(1)
		case key.Matches(msg, keys.PageUp), key.Matches(msg, keys.PageDown):
			var cmd tea.Cmd
			m.tags, cmd = m.tags.Update(msg)
			return m, cmd
		}
	}

	return m, nil
}

func (m *BrowserModel) move(delta int) {
	if len(m.entries) == 0 {
		return
	}
	m.cursor = max(0, min(len(m.entries)-1, m.cursor+delta))

	rows := m.listRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	} else if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
	m.refreshTags()
}

func (m *BrowserModel) resize(width, height int) {
	m.width = width
	m.height = height
	tagWidth, paneHeight := m.tagPaneSize()
	m.tags = viewport.New(tagWidth, max(1, paneHeight-2))
	m.refreshTags()
}

func (m BrowserModel) listWidth() int {
	return max(minListWidth, m.width/3)
}

func (m BrowserModel) tagPaneSize() (width, height int) {
	// Each pane adds two border columns and two padding columns.
	return max(10, m.width-m.listWidth()-8), max(3, m.height-chrome)
}

func (m BrowserModel) listRows() int {
	_, paneHeight := m.tagPaneSize()
	return max(1, paneHeight)
}

func (m *BrowserModel) refreshTags() {
	if len(m.entries) == 0 {
		m.tags.SetContent("")
		return
	}
	m.tags.SetContent(renderEntry(m.entries[m.cursor]))
	m.tags.GotoTop()
}

// View implements tea.Model.
func (m BrowserModel) View() string {
	if m.quitting {
		return ""
	}
	if len(m.entries) == 0 {
		return TitleStyle.Render("No files") + "\n" + HelpStyle.Render("Press q to quit")
	}

	listWidth := m.listWidth()
	tagWidth, paneHeight := m.tagPaneSize()

	list := PaneStyle.Width(listWidth).Height(paneHeight).Render(m.renderList(listWidth))
	tags := PaneStyle.Width(tagWidth + 2).Height(paneHeight).Render(m.tags.View())

	help := HelpStyle.Render(fmt.Sprintf("%d/%d  ↑/↓ select  pgup/pgdn scroll  q quit",
		m.cursor+1, len(m.entries)))
	return lipgloss.JoinHorizontal(lipgloss.Top, list, tags) + "\n" + help
}

func (m BrowserModel) renderList(width int) string {
	rows := m.listRows()
	end := min(len(m.entries), m.offset+rows)

	var b strings.Builder
	for i := m.offset; i < end; i++ {
		e := m.entries[i]
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		name := truncate(filepath.Base(e.Path), width-6)
		line := marker + StatusStyle(e.Status).Render(statusGlyph(e.Status)) + " " + name
		if i == m.cursor {
			line = SelectedStyle.Render(line)
		}
		b.WriteString(line)
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func statusGlyph(status string) string {
	switch status {
	case StatusOK:
		return "✓"
	case StatusCached:
		return "●"
	case StatusFailed:
		return "✗"
	default:
		return "?"
	}
}

// renderEntry formats one entry for the tag pane: a header, then either
// the error or every tag sorted by name. Grouped tags are indented.
func renderEntry(e Entry) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(e.Path))
	b.WriteString("\n")
	fmt.Fprintf(&b, "%s %s", LabelStyle.Render("status:"), StatusStyle(e.Status).Render(e.Status))
	if e.FileType != "" {
		fmt.Fprintf(&b, "  %s %s", LabelStyle.Render("type:"), ValueStyle.Render(e.FileType))
	}
	b.WriteString("\n\n")

	if e.Err != "" {
		b.WriteString(StatusStyle(StatusFailed).Render(e.Err))
		return b.String()
	}
	writeTags(&b, e.Tags, "")
	return b.String()
}

func writeTags(b *strings.Builder, tags map[string]any, indent string) {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		if group, ok := tags[name].(map[string]any); ok {
			fmt.Fprintf(b, "%s%s\n", indent, LabelStyle.Render(name+":"))
			writeTags(b, group, indent+"  ")
			continue
		}
		fmt.Fprintf(b, "%s%s %s\n", indent, LabelStyle.Render(name+":"), ValueStyle.Render(fmt.Sprint(tags[name])))
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
