// ABOUTME: Template rendering for the operator control panel
// ABOUTME: Parses embedded templates once and renders request text from Markdown with goldmark

package webadmin

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/human-gateway/internal/broker"
	"github.com/2389/human-gateway/internal/operator"
)

// Template data types
type indexData struct {
	Title          string
	PollIntervalMS int64
	Stats          operator.Stats
	Pending        []requestCard
}

// requestCard is one pending request as the panel shows it.
type requestCard struct {
	ID      string
	Kind    string
	Heading string
	Body    template.HTML
	Details []cardDetail
	Options []string
	Waiting string
}

type cardDetail struct {
	Label string
	Body  template.HTML
}

type renderer struct {
	index   *template.Template
	pending *template.Template
	md      goldmark.Markdown
}

func newRenderer() (*renderer, error) {
	index, err := template.ParseFS(templateFS, "templates/index.html", "templates/partials/pending.html")
	if err != nil {
		return nil, fmt.Errorf("parsing index template: %w", err)
	}
	pending, err := template.ParseFS(templateFS, "templates/partials/pending.html")
	if err != nil {
		return nil, fmt.Errorf("parsing pending template: %w", err)
	}
	return &renderer{
		index:   index,
		pending: pending,
		// Raw HTML in agent text is dropped; goldmark only emits it with html.WithUnsafe.
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

// markdown converts agent-supplied text to HTML.
func (r *renderer) markdown(text string, logger *slog.Logger) template.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		logger.Error("failed to convert markdown", "error", err)
		return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>")
	}
	return template.HTML(buf.String())
}

func (r *renderer) cards(pending []operator.PendingRequest, logger *slog.Logger) []requestCard {
	out := make([]requestCard, 0, len(pending))
	for _, p := range pending {
		c := requestCard{
			ID:      p.ID,
			Kind:    string(p.Kind),
			Waiting: formatWaiting(time.Duration(p.WaitingSeconds * float64(time.Second))),
		}
		switch pl := p.Payload.(type) {
		case broker.QuestionPayload:
			c.Heading = "Question"
			c.Body = r.markdown(pl.Question, logger)
			if pl.Context != "" {
				c.Details = append(c.Details, cardDetail{Label: "Context", Body: r.markdown(pl.Context, logger)})
			}
		case broker.SearchPayload:
			c.Heading = "Search"
			c.Body = r.markdown(pl.Query, logger)
			if pl.Sources != "" {
				c.Details = append(c.Details, cardDetail{Label: "Sources", Body: r.markdown(pl.Sources, logger)})
			}
		case broker.DecisionPayload:
			c.Heading = "Decision"
			c.Body = r.markdown(pl.DecisionNeeded, logger)
			if len(pl.Options.List) > 0 {
				c.Options = pl.Options.List
			} else if pl.Options.Text != "" {
				c.Details = append(c.Details, cardDetail{Label: "Options", Body: r.markdown(pl.Options.Text, logger)})
			}
			if pl.Recommendation != "" {
				c.Details = append(c.Details, cardDetail{Label: "Recommendation", Body: r.markdown(pl.Recommendation, logger)})
			}
		default:
			c.Heading = c.Kind
		}
		out = append(out, c)
	}
	return out
}

// formatWaiting renders a wait as "45s", "3m 05s" or "1h 02m".
func formatWaiting(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// renderIndex renders the control panel page
func (r *renderer) renderIndex(w http.ResponseWriter, logger *slog.Logger, data indexData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := r.index.ExecuteTemplate(w, "index.html", data); err != nil {
		logger.Error("failed to render index page", "error", err)
	}
}

// renderPending renders the pending-cards partial
func (r *renderer) renderPending(w http.ResponseWriter, logger *slog.Logger, cards []requestCard) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := r.pending.ExecuteTemplate(w, "pending", cards); err != nil {
		logger.Error("failed to render pending partial", "error", err)
	}
}
