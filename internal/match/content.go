package match

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/amishk599/recruitwatch/internal/model"
)

//go:embed templates/posting.html
var postingBodyRaw string

// Parsed once at package init.
var (
	postingBodyTemplate    = template.Must(template.New("posting").Parse(postingBodyRaw))
	postingSubjectTemplate = texttemplate.Must(texttemplate.New("subject").Parse(`[{{.Source}}] {{.Title}}`))
)

const dateLayout = "2006-01-02 15:04"

type postingView struct {
	Title           string
	Source          string
	URL             string
	Start           string
	End             string
	OpenUntilFilled bool
	Keywords        string
}

// renderContent builds the email for one (posting, subscription) pair.
func renderContent(p model.Posting, sub model.Subscription, sourceName string, loc *time.Location) (model.Content, error) {
	view := postingView{
		Title:           p.Title,
		Source:          sourceName,
		URL:             p.URL,
		Start:           p.StartAt.In(loc).Format(dateLayout),
		OpenUntilFilled: p.IsOpenUntilFilled,
		Keywords:        strings.Join(sub.Keywords, ", "),
	}
	if p.EndAt != nil {
		view.End = p.EndAt.In(loc).Format(dateLayout)
	}

	var subject, body bytes.Buffer
	if err := postingSubjectTemplate.Execute(&subject, view); err != nil {
		return model.Content{}, fmt.Errorf("render subject: %w", err)
	}
	if err := postingBodyTemplate.Execute(&body, view); err != nil {
		return model.Content{}, fmt.Errorf("render body: %w", err)
	}
	return model.Content{Subject: subject.String(), Body: body.String()}, nil
}
