package audit

import (
	"cmp"
	"fmt"
	"os/exec"
	"runtime"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/amishk599/recruitwatch/internal/match"
	"github.com/amishk599/recruitwatch/internal/model"
)

// rowHeight is the number of lines one posting takes in a pane.
const rowHeight = 3

const dateLayout = "2006-01-02"

var (
	focusedBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39"))
	blurredBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	focusedHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("39"))
	blurredHeader = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("240"))
	statusStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("252")).Background(lipgloss.Color("236"))

	rowTitle        = lipgloss.NewStyle().Bold(true)
	rowMeta         = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	rowTitleCursor  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("24"))
	rowMetaCursor   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Background(lipgloss.Color("24"))
	labelStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Width(14)
	detailHeading   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).MarginBottom(1)
	sectionDivider  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	noRecipientHint = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

// Partition splits postings into those whose title hits at least one
// subscription keyword, and records which subscribers each one would reach.
// Recipients are keyed by external id.
func Partition(postings []model.Posting, subs []model.Subscription) (matched []model.Posting, recipients map[string][]string) {
	recipients = make(map[string][]string)
	for _, p := range postings {
		var hit []string
		for _, s := range subs {
			if s.SourceID == p.SourceID && match.TitleMatches(s.Keywords, p.Title) {
				hit = append(hit, s.Email)
			}
		}
		if len(hit) > 0 {
			matched = append(matched, p)
			recipients[p.ExternalID] = hit
		}
	}
	return matched, recipients
}

// pane is one scrollable column of postings.
type pane struct {
	title    string
	postings []model.Posting
	cursor   int
	vp       viewport.Model
}

func (p *pane) move(delta int) {
	p.cursor = clamp(p.cursor+delta, 0, max(len(p.postings)-1, 0))
	top := p.cursor * rowHeight
	switch {
	case top < p.vp.YOffset:
		p.vp.SetYOffset(top)
	case top+rowHeight-1 >= p.vp.YOffset+p.vp.Height:
		p.vp.SetYOffset(top + rowHeight - p.vp.Height)
	}
}

func (p *pane) selected() (model.Posting, bool) {
	if len(p.postings) == 0 {
		return model.Posting{}, false
	}
	return p.postings[p.cursor], true
}

func (p *pane) render(focused bool, loc *time.Location) {
	if len(p.postings) == 0 {
		p.vp.SetContent("  (no postings)")
		return
	}
	var b strings.Builder
	for i, post := range p.postings {
		title, meta, prefix := rowTitle, rowMeta, "  "
		if focused && i == p.cursor {
			title, meta, prefix = rowTitleCursor, rowMetaCursor, "> "
		}
		window := post.StartAt.In(loc).Format(dateLayout)
		if end := closingLabel(post, loc); end != "" {
			window += " ~ " + end
		}
		fmt.Fprintf(&b, "%s%s\n%s%s\n", prefix, title.Render(post.Title), prefix, meta.Render("#"+post.ExternalID+" · "+window))
		if i < len(p.postings)-1 {
			b.WriteByte('\n')
		}
	}
	p.vp.SetContent(b.String())
}

type auditModel struct {
	sourceName string
	panes      [2]*pane // all postings, postings that would notify someone
	focus      int
	recipients map[string][]string
	loc        *time.Location
	width      int
	height     int
	ready      bool

	detail   *model.Posting // non-nil while the detail view is open
	detailVP viewport.Model

	open     func(url string)
	wantQuit bool
}

func newAuditModel(sourceName string, postings []model.Posting, subs []model.Subscription, loc *time.Location) auditModel {
	if loc == nil {
		loc = time.Local
	}
	slices.SortStableFunc(postings, func(a, b model.Posting) int {
		return cmp.Compare(b.StartAt.UnixNano(), a.StartAt.UnixNano())
	})
	matched, recipients := Partition(postings, subs)
	return auditModel{
		sourceName: sourceName,
		panes: [2]*pane{
			{title: sourceName + ": all postings", postings: postings},
			{title: "Would notify", postings: matched},
		},
		recipients: recipients,
		loc:        loc,
		open:       openURL,
	}
}

func (m auditModel) Init() tea.Cmd { return nil }

func (m auditModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.wantQuit = true
			return m, tea.Quit
		}
		if m.detail != nil {
			return m.updateDetail(msg)
		}
		return m.updateList(msg)
	}
	return m, nil
}

func (m auditModel) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	p := m.panes[m.focus]
	switch {
	case key.Matches(msg, keys.Back):
		return m, tea.Quit
	case key.Matches(msg, keys.Switch):
		m.focus = 1 - m.focus
	case key.Matches(msg, keys.Up):
		p.move(-1)
	case key.Matches(msg, keys.Down):
		p.move(1)
	case key.Matches(msg, keys.Select):
		if post, ok := p.selected(); ok {
			m.detail = &post
			m.detailVP = viewport.New(max(m.width-4, 20), max(m.height-4, 5))
			m.detailVP.SetContent(m.renderDetail())
		}
		return m, nil
	default:
		var cmd tea.Cmd
		p.vp, cmd = p.vp.Update(msg)
		return m, cmd
	}
	m.renderPanes()
	return m, nil
}

func (m auditModel) updateDetail(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		m.detail = nil
		return m, nil
	case key.Matches(msg, keys.Open):
		if m.detail.URL != "" && m.open != nil {
			m.open(m.detail.URL)
		}
		return m, nil
	}
	var cmd tea.Cmd
	m.detailVP, cmd = m.detailVP.Update(msg)
	return m, cmd
}

// resize lays out two bordered panes side by side with a header row above
// and a status bar below.
func (m *auditModel) resize() {
	w := max((m.width-5)/2, 20)
	h := max(m.height-4, 5)
	for _, p := range m.panes {
		if !m.ready {
			p.vp = viewport.New(w, h)
		} else {
			p.vp.Width, p.vp.Height = w, h
		}
	}
	m.ready = true
	m.renderPanes()
	if m.detail != nil {
		m.detailVP.Width, m.detailVP.Height = m.width-4, m.height-4
		m.detailVP.SetContent(m.renderDetail())
	}
}

func (m *auditModel) renderPanes() {
	for i, p := range m.panes {
		p.render(i == m.focus, m.loc)
	}
}

func (m auditModel) View() string {
	switch {
	case !m.ready:
		return "Initializing..."
	case m.detail != nil:
		return m.viewDetail()
	default:
		return m.viewList()
	}
}

func (m auditModel) viewList() string {
	var headers, bodies []string
	for i, p := range m.panes {
		header, border := blurredHeader, blurredBorder
		if i == m.focus {
			header, border = focusedHeader, focusedBorder
		}
		label := fmt.Sprintf("%s (%d)", p.title, len(p.postings))
		headers = append(headers, lipgloss.NewStyle().Width(p.vp.Width+2).Render(header.Render(label)))
		bodies = append(bodies, border.Width(p.vp.Width).Render(p.vp.View()))
	}

	all, hit := len(m.panes[0].postings), len(m.panes[1].postings)
	status := fmt.Sprintf("%d scraped | %d would notify | %d unmatched    %s",
		all, hit, all-hit, hints(keys.Switch, keys.Up, keys.Down, keys.Select, keys.Back, keys.Quit))

	return lipgloss.JoinHorizontal(lipgloss.Top, headers[0], " ", headers[1]) + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, bodies[0], " ", bodies[1]) + "\n" +
		statusStyle.Width(m.width).Render(status)
}

func (m auditModel) viewDetail() string {
	help := []key.Binding{keys.Back, keys.Up, keys.Down, keys.Quit}
	if m.detail.URL != "" {
		help = append([]key.Binding{keys.Open}, help...)
	}
	return detailHeading.Render("Posting") + "\n" +
		focusedBorder.Width(m.width-2).Render(m.detailVP.View()) + "\n" +
		statusStyle.Width(m.width).Render(hints(help...))
}

func (m auditModel) renderDetail() string {
	p := m.detail
	var b strings.Builder
	field := func(label, value string) {
		if value != "" {
			b.WriteString(labelStyle.Render(label) + value + "\n")
		}
	}

	field("Title", p.Title)
	field("Source", m.sourceName)
	field("External ID", p.ExternalID)
	b.WriteByte('\n')
	field("Opens", p.StartAt.In(m.loc).Format(dateLayout))
	field("Closes", closingLabel(*p, m.loc))
	b.WriteByte('\n')
	field("URL", p.URL)

	width := max(m.width-8, 20)
	b.WriteString("\n" + sectionDivider.Render("── Recipients "+strings.Repeat("─", max(width-14, 3))) + "\n\n")
	emails := m.recipients[p.ExternalID]
	if len(emails) == 0 {
		b.WriteString(noRecipientHint.Render("  no subscription keyword matches this title") + "\n")
	}
	for _, e := range emails {
		b.WriteString("  • " + e + "\n")
	}
	return b.String()
}

func closingLabel(p model.Posting, loc *time.Location) string {
	switch {
	case p.IsOpenUntilFilled:
		return "until filled"
	case p.EndAt != nil:
		return p.EndAt.In(loc).Format(dateLayout)
	default:
		return ""
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// openURL opens url in the default system browser, fire-and-forget.
func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return
	}
	_ = cmd.Start()
}

// RunAuditTUI opens the split-pane view for one source: every scraped
// posting on the left, the ones some subscription would be emailed about on
// the right. It reports wantQuit=true for q/ctrl+c and false for esc, which
// returns to the picker.
func RunAuditTUI(sourceName string, postings []model.Posting, subs []model.Subscription, loc *time.Location) (bool, error) {
	result, err := tea.NewProgram(newAuditModel(sourceName, postings, subs, loc), tea.WithAltScreen()).Run()
	if err != nil {
		return false, err
	}
	return result.(auditModel).wantQuit, nil
}
