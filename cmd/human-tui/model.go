// ABOUTME: Bubbletea model for the operator console
// ABOUTME: Keeps the selection stable across polls and renders request cards with lipgloss

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389/human-gateway/internal/broker"
	"github.com/2389/human-gateway/internal/client"
	"github.com/2389/human-gateway/internal/operator"
)

// operatorAPI is the part of the gateway client the console uses.
type operatorAPI interface {
	ListPending(ctx context.Context) ([]client.PendingRequest, error)
	Submit(ctx context.Context, id, answer string, isError bool) (operator.SubmitResult, error)
	BaseURL() string
}

type tickMsg time.Time

type pendingMsg struct {
	requests []client.PendingRequest
	err      error
}

type submitDoneMsg struct {
	id      string
	isError bool
	result  operator.SubmitResult
	err     error
}

type uiTheme struct {
	header    lipgloss.Style
	panel     lipgloss.Style
	title     lipgloss.Style
	selected  lipgloss.Style
	item      lipgloss.Style
	muted     lipgloss.Style
	label     lipgloss.Style
	option    lipgloss.Style
	status    lipgloss.Style
	errStatus lipgloss.Style
	kinds     map[string]lipgloss.Style
}

func newTheme() uiTheme {
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	pink := lipgloss.Color("#ff71ce")
	amber := lipgloss.Color("#ffb86c")
	muted := lipgloss.Color("#9ca3d8")

	return uiTheme{
		header: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(blue).
			Padding(0, 1),
		title:     lipgloss.NewStyle().Foreground(mint).Bold(true),
		selected:  lipgloss.NewStyle().Foreground(lipgloss.Color("#22062f")).Background(pink).Bold(true),
		item:      lipgloss.NewStyle(),
		muted:     lipgloss.NewStyle().Foreground(muted),
		label:     lipgloss.NewStyle().Foreground(blue),
		option:    lipgloss.NewStyle().Foreground(amber),
		status:    lipgloss.NewStyle().Foreground(blue).Bold(true),
		errStatus: lipgloss.NewStyle().Foreground(pink).Bold(true),
		kinds: map[string]lipgloss.Style{
			string(broker.KindQuestion): lipgloss.NewStyle().Foreground(blue).Bold(true),
			string(broker.KindSearch):   lipgloss.NewStyle().Foreground(mint).Bold(true),
			string(broker.KindDecision): lipgloss.NewStyle().Foreground(amber).Bold(true),
		},
	}
}

type model struct {
	api      operatorAPI
	interval time.Duration

	requests   []client.PendingRequest
	selectedID string
	submitting bool
	lastPoll   time.Time

	statusLine string
	statusErr  bool

	input textarea.Model
	theme uiTheme

	width  int
	height int
}

func newModel(api operatorAPI, interval time.Duration) model {
	input := textarea.New()
	input.Placeholder = "Type your response..."
	input.CharLimit = 8000
	input.ShowLineNumbers = false
	input.SetHeight(4)
	input.Focus()

	return model{
		api:        api,
		interval:   interval,
		input:      input,
		theme:      newTheme(),
		statusLine: "connecting to " + api.BaseURL(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.pollCmd())
}

func tickEvery(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) pollCmd() tea.Cmd {
	api := m.api
	timeout := m.interval * 5
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		reqs, err := api.ListPending(ctx)
		return pendingMsg{requests: reqs, err: err}
	}
}

func (m model) submitCmd(id, text string, isError bool) tea.Cmd {
	api := m.api
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), client.DefaultTimeout)
		defer cancel()
		res, err := api.Submit(ctx, id, text, isError)
		return submitDoneMsg{id: id, isError: isError, result: res, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(max(20, m.detailWidth()-4))

	case tickMsg:
		return m, m.pollCmd()

	case pendingMsg:
		if msg.err != nil {
			m.setStatus("poll failed: "+msg.err.Error(), true)
		} else {
			m.applyPending(msg.requests)
			m.lastPoll = time.Now()
			if m.statusErr {
				m.setStatus("connected", false)
			}
		}
		return m, tickEvery(m.interval)

	case submitDoneMsg:
		m.submitting = false
		switch {
		case msg.err != nil:
			m.setStatus("submit failed: "+msg.err.Error(), true)
		case !msg.result.OK:
			m.setStatus(msg.result.Message, true)
			m.dropRequest(msg.id)
		default:
			label := "answer sent"
			if msg.isError {
				label = "error sent"
			}
			m.setStatus(label, false)
			m.input.Reset()
			m.dropRequest(msg.id)
		}
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey processes console shortcuts. Unhandled keys go to the textarea.
func (m *model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch key := msg.String(); key {
	case "ctrl+c", "esc":
		return tea.Quit, true
	case "ctrl+n", "pgdown":
		m.moveSelection(1)
		return nil, true
	case "ctrl+p", "pgup":
		m.moveSelection(-1)
		return nil, true
	case "ctrl+s":
		return m.submit(false), true
	case "ctrl+e":
		return m.submit(true), true
	default:
		if n, ok := strings.CutPrefix(key, "alt+"); ok {
			if idx, err := strconv.Atoi(n); err == nil {
				m.pickOption(idx - 1)
				return nil, true
			}
		}
	}
	return nil, false
}

func (m *model) submit(isError bool) tea.Cmd {
	if m.submitting {
		return nil
	}
	req, ok := m.selected()
	if !ok {
		m.setStatus("no request selected", true)
		return nil
	}
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		m.setStatus(operator.MsgEmptyAnswer, true)
		return nil
	}
	m.submitting = true
	m.setStatus("sending...", false)
	return m.submitCmd(req.ID, text, isError)
}

// pickOption copies decision option idx into the answer box.
func (m *model) pickOption(idx int) {
	req, ok := m.selected()
	if !ok {
		return
	}
	opts := describe(req).options
	if idx < 0 || idx >= len(opts) {
		return
	}
	m.input.SetValue(opts[idx])
}

func (m *model) setStatus(s string, isErr bool) {
	m.statusLine = s
	m.statusErr = isErr
}

// applyPending replaces the listing, keeping the current selection when it
// is still pending and falling back to the oldest request otherwise.
func (m *model) applyPending(reqs []client.PendingRequest) {
	m.requests = reqs
	if _, ok := m.selected(); ok {
		return
	}
	if m.selectedID != "" {
		m.input.Reset()
	}
	m.selectedID = ""
	if len(reqs) > 0 {
		m.selectedID = reqs[0].ID
	}
}

func (m *model) dropRequest(id string) {
	kept := m.requests[:0:0]
	for _, r := range m.requests {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	m.applyPending(kept)
}

func (m *model) moveSelection(delta int) {
	if len(m.requests) == 0 {
		return
	}
	idx := m.selectedIndex()
	idx = (idx + delta + len(m.requests)) % len(m.requests)
	if m.requests[idx].ID != m.selectedID {
		m.input.Reset()
	}
	m.selectedID = m.requests[idx].ID
}

func (m model) selectedIndex() int {
	for i, r := range m.requests {
		if r.ID == m.selectedID {
			return i
		}
	}
	return 0
}

func (m model) selected() (client.PendingRequest, bool) {
	for _, r := range m.requests {
		if r.ID == m.selectedID {
			return r, true
		}
	}
	return client.PendingRequest{}, false
}

// card is the display form of a pending request.
type card struct {
	heading string
	body    string
	details [][2]string
	options []string
}

// describe decodes a request payload by kind.
func describe(req client.PendingRequest) card {
	switch broker.Kind(req.Kind) {
	case broker.KindQuestion:
		var p broker.QuestionPayload
		if err := json.Unmarshal(req.Payload, &p); err == nil {
			c := card{heading: "Question", body: p.Question}
			if p.Context != "" {
				c.details = append(c.details, [2]string{"Context", p.Context})
			}
			return c
		}
	case broker.KindSearch:
		var p broker.SearchPayload
		if err := json.Unmarshal(req.Payload, &p); err == nil {
			c := card{heading: "Search request", body: p.Query}
			if p.Sources != "" {
				c.details = append(c.details, [2]string{"Sources", p.Sources})
			}
			return c
		}
	case broker.KindDecision:
		var p broker.DecisionPayload
		if err := json.Unmarshal(req.Payload, &p); err == nil {
			c := card{heading: "Decision needed", body: p.DecisionNeeded, options: p.Options.List}
			if p.Options.List == nil && p.Options.Text != "" {
				c.details = append(c.details, [2]string{"Options", p.Options.Text})
			}
			if p.Recommendation != "" {
				c.details = append(c.details, [2]string{"Recommendation", p.Recommendation})
			}
			return c
		}
	}
	return card{heading: req.Kind, body: string(req.Payload)}
}

func (m model) listWidth() int {
	if m.width <= 0 {
		return 32
	}
	return max(24, m.width/3)
}

func (m model) detailWidth() int {
	if m.width <= 0 {
		return 60
	}
	return max(30, m.width-m.listWidth()-2)
}

func (m model) View() string {
	th := m.theme

	header := th.header.Render(fmt.Sprintf("%s  %s",
		th.title.Render("Human MCP Console"),
		th.muted.Render(fmt.Sprintf("%d pending · %s", len(m.requests), m.api.BaseURL())),
	))

	list := th.panel.Width(m.listWidth() - 2).Render(m.renderList())
	detail := th.panel.Width(m.detailWidth() - 2).Render(m.renderDetail())
	body := lipgloss.JoinHorizontal(lipgloss.Top, list, detail)

	status := th.status.Render(m.statusLine)
	if m.statusErr {
		status = th.errStatus.Render(m.statusLine)
	}
	help := th.muted.Render("ctrl+n/ctrl+p select · alt+N pick option · ctrl+s submit · ctrl+e return error · esc quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, status, help)
}

func (m model) renderList() string {
	th := m.theme
	if len(m.requests) == 0 {
		return th.muted.Render("Waiting for an agent to make a request...")
	}
	var b strings.Builder
	for i, r := range m.requests {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("%-8s %s", r.Kind, formatWaiting(r.WaitingSeconds))
		if r.ID == m.selectedID {
			b.WriteString(th.selected.Render("▶ " + line))
		} else {
			b.WriteString(th.item.Render("  " + line))
		}
	}
	return b.String()
}

func (m model) renderDetail() string {
	th := m.theme
	req, ok := m.selected()
	if !ok {
		return th.muted.Render("No request selected")
	}
	c := describe(req)

	kindStyle, found := th.kinds[req.Kind]
	if !found {
		kindStyle = th.title
	}

	var b strings.Builder
	b.WriteString(kindStyle.Render(c.heading))
	b.WriteString(th.muted.Render("  " + req.ID))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Width(m.detailWidth() - 6).Render(c.body))
	b.WriteString("\n")
	for _, d := range c.details {
		b.WriteString("\n")
		b.WriteString(th.label.Render(d[0] + ": "))
		b.WriteString(d[1])
	}
	if len(c.options) > 0 {
		b.WriteString("\n\n")
		for i, opt := range c.options {
			b.WriteString(th.option.Render(fmt.Sprintf("[alt+%d] %s", i+1, opt)))
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	b.WriteString(m.input.View())
	return b.String()
}

// formatWaiting renders elapsed seconds compactly: 45s, 3m 05s, 1h 02m.
func formatWaiting(seconds float64) string {
	s := int(seconds)
	switch {
	case s < 60:
		return fmt.Sprintf("%ds", s)
	case s < 3600:
		return fmt.Sprintf("%dm %02ds", s/60, s%60)
	default:
		return fmt.Sprintf("%dh %02dm", s/3600, (s%3600)/60)
	}
}
