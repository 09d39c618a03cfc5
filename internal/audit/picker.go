package audit

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(1, 0, 1, 2)
	itemStyle  = lipgloss.NewStyle().PaddingLeft(4)
	cursorItem = lipgloss.NewStyle().PaddingLeft(2).Bold(true).Foreground(lipgloss.Color("39"))
	urlStyle   = lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("243"))
	helpStyle  = lipgloss.NewStyle().Padding(1, 0, 0, 2).Foreground(lipgloss.Color("240"))
)

// SourceItem is one entry of the source picker.
type SourceItem struct {
	ID   string
	Name string
	URL  string // listing page, optional
}

type pickerModel struct {
	items  []SourceItem
	cursor int
	chosen int // index, or -1 when the user quit
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(km, keys.Quit), key.Matches(km, keys.Back):
		m.chosen = -1
		return m, tea.Quit
	case key.Matches(km, keys.Up):
		m.cursor = clamp(m.cursor-1, 0, len(m.items)-1)
	case key.Matches(km, keys.Down):
		m.cursor = clamp(m.cursor+1, 0, len(m.items)-1)
	case key.Matches(km, keys.Select):
		if len(m.items) > 0 {
			m.chosen = m.cursor
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Listing audit: pick a source"))
	b.WriteByte('\n')
	for i, it := range m.items {
		label := it.Name + " (" + it.ID + ")"
		if i == m.cursor {
			b.WriteString(cursorItem.Render("> " + label))
		} else {
			b.WriteString(itemStyle.Render(label))
		}
		b.WriteByte('\n')
		if i == m.cursor && it.URL != "" {
			b.WriteString(urlStyle.Render(it.URL))
			b.WriteByte('\n')
		}
	}
	b.WriteString(helpStyle.Render(hints(keys.Up, keys.Down, keys.Select, keys.Quit)))
	return b.String()
}

// RunSourcePicker lets the user choose a source. It returns the chosen
// index, or -1 if the user quit.
func RunSourcePicker(items []SourceItem) (int, error) {
	result, err := tea.NewProgram(pickerModel{items: items, chosen: -1}).Run()
	if err != nil {
		return -1, err
	}
	return result.(pickerModel).chosen, nil
}
