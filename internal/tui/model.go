package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docqa/internal/domain"
)

// QAPort is the TUI-facing subset of the question answering service.
type QAPort interface {
	AnswerQuestion(ctx context.Context, query string) (*domain.AnswerResponse, error)
}

// answerMsg carries the outcome of an asynchronous AnswerQuestion call.
type answerMsg struct {
	query string
	resp  *domain.AnswerResponse
	err   error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	ctx       context.Context
	service   QAPort
	input     textinput.Model
	viewport  viewport.Model
	answer    string
	contexts  []string
	summary   string
	status    string
	cursor    int
	ready     bool
	pending   bool
	lastQuery string
}

// New creates a new TUI model instance. summary is shown under the header.
func New(ctx context.Context, service QAPort, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{ctx: ctx, service: service, input: ti, viewport: vp, summary: summary, status: "Ready. Ask about the document."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) ask(q string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.service.AnswerQuestion(m.ctx, q)
		return answerMsg{query: q, resp: resp, err: err}
	}
}

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case answerMsg:
		m.pending = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.answer, m.contexts = "", nil
		} else {
			m.status = fmt.Sprintf("Answer for %q (%d context chunks, up/down to browse)", msg.query, len(msg.resp.ContextUsed))
			m.answer = msg.resp.Answer
			m.contexts = msg.resp.ContextUsed
			m.lastQuery = msg.query
		}
		m.cursor = 0
		m.viewport.SetContent(m.renderCurrent())
		m.viewport.GotoTop()
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.pending {
				m.pending = true
				m.status = "Thinking..."
				m.input.SetValue("")
				return m, m.ask(q)
			}
		case "down":
			if len(m.contexts) > 0 {
				m.cursor = (m.cursor + 1) % len(m.contexts)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "up":
			if len(m.contexts) > 0 {
				m.cursor = (m.cursor - 1 + len(m.contexts)) % len(m.contexts)
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Document Q&A")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	if m.answer == "" {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(answerStyle.Render(m.answer))
	b.WriteString("\n\n")
	if len(m.contexts) == 0 {
		b.WriteString(dimStyle.Render("No context was retrieved for this question."))
		return b.String()
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("Context %d/%d", m.cursor+1, len(m.contexts))))
	b.WriteString("\n\n")
	b.WriteString(highlightBestSentence(m.contexts[m.cursor], m.lastQuery))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	answerStyle    = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := sentenceRe.FindAllString(text, -1)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
