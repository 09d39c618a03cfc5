package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/recruitwatch/internal/model"
)

// scrapeTimeout bounds one dry scrape, browser sources included.
const scrapeTimeout = 3 * time.Minute

var errCancelled = errors.New("cancelled")

type scrapeDoneMsg struct {
	postings []model.Posting
	err      error
}

type loaderModel struct {
	sourceName string
	scrape     func(ctx context.Context) ([]model.Posting, error)
	spinner    spinner.Model
	started    time.Time
	postings   []model.Posting
	err        error
	done       bool
}

func newLoaderModel(sourceName string, scrape func(ctx context.Context) ([]model.Posting, error)) loaderModel {
	s := spinner.New(spinner.WithSpinner(spinner.Dot))
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("33"))
	return loaderModel{sourceName: sourceName, scrape: scrape, spinner: s, started: time.Now()}
}

func (m loaderModel) Init() tea.Cmd {
	scrape := m.scrape
	run := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
		defer cancel()
		postings, err := scrape(ctx)
		return scrapeDoneMsg{postings: postings, err: err}
	}
	return tea.Batch(run, m.spinner.Tick)
}

func (m loaderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case scrapeDoneMsg:
		m.postings, m.err, m.done = msg.postings, msg.err, true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err, m.done = errCancelled, true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m loaderModel) View() string {
	if m.done {
		return ""
	}
	elapsed := time.Since(m.started).Truncate(time.Second)
	return fmt.Sprintf("%s Scraping %s (%s)...\n", m.spinner.View(), m.sourceName, elapsed)
}

// RunLoader shows a spinner inline while scrape runs and returns its result.
func RunLoader(sourceName string, scrape func(ctx context.Context) ([]model.Posting, error)) ([]model.Posting, error) {
	result, err := tea.NewProgram(newLoaderModel(sourceName, scrape)).Run()
	if err != nil {
		return nil, err
	}
	final := result.(loaderModel)
	return final.postings, final.err
}
