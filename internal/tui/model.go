package tui

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"pdfrag/internal/retrieval"
)

// Answerer is the TUI-facing subset of the retrieval service.
type Answerer interface {
	Answer(ctx context.Context, query string) (*retrieval.Answer, error)
}

// answerMsg carries the outcome of the query started with sequence number seq.
type answerMsg struct {
	seq    int
	answer *retrieval.Answer
	err    error
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	service  Answerer
	ctx      context.Context
	cancel   context.CancelFunc
	seq      int
	busy     bool
	input    textinput.Model
	viewport viewport.Model
	answer   *retrieval.Answer
	subtitle string
	status   string
	cursor   int
	ready    bool
}

// New creates a new TUI model instance. Queries run under ctx; quitting
// cancels the one in flight.
func New(ctx context.Context, service Answerer, subtitle string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter ('exit' to quit)"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{service: service, ctx: ctx, input: ti, viewport: vp, subtitle: subtitle, status: "Ready. Type to search."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + subtitle
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case answerMsg:
		if msg.seq != m.seq {
			// superseded by a newer query
			return m, nil
		}
		m.busy = false
		m.cancel = nil
		switch {
		case msg.err == nil:
			m.answer = msg.answer
			m.cursor = 0
			m.status = fmt.Sprintf("Answer for %q (%d sources)", msg.answer.Query, len(msg.answer.Sources))
		case errors.Is(msg.err, retrieval.ErrNoResults):
			m.answer = nil
			m.status = "No relevant results found."
		default:
			m.answer = nil
			m.status = "Error: " + msg.err.Error()
		}
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m.quit()
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if strings.EqualFold(q, "exit") {
				return m.quit()
			}
			if q != "" {
				m.input.SetValue("")
				return m.ask(q)
			}
		case "down":
			if m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if m.answer != nil && len(m.answer.Sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.answer.Sources)) % len(m.answer.Sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "pgdown", "pgup":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// ask starts q in the background, cancelling any query still running.
func (m Model) ask(q string) (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.seq++
	m.busy = true
	m.status = fmt.Sprintf("Searching for %q...", q)
	seq, svc := m.seq, m.service
	return m, func() tea.Msg {
		defer cancel()
		ans, err := svc.Answer(ctx, q)
		return answerMsg{seq: seq, answer: ans, err: err}
	}
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	return m, tea.Quit
}

// Busy reports whether a query is in flight.
func (m Model) Busy() bool { return m.busy }

// View renders the TUI layout and current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("PDF RAG Search")
	subtitle := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.subtitle)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + subtitle + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.answer == nil {
		return "No answer yet."
	}
	var sb strings.Builder
	sb.WriteString(m.answer.Text)
	if len(m.answer.Sources) == 0 {
		return sb.String()
	}
	r := m.answer.Sources[m.cursor]
	title := fmt.Sprintf("Source %d/%d  %s (page %d)  similarity=%.3f", m.cursor+1, len(m.answer.Sources), r.File, r.Page, r.Score)
	sb.WriteString("\n\n")
	sb.WriteString(sourceTitleStyle.Render(title))
	sb.WriteString("\n")
	sb.WriteString(highlightBestSentence(r.ChunkText, m.answer.Query))
	return sb.String()
}

var (
	resultBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceTitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	unicodeWordRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe       = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasises the sentence of text sharing the most
// words with query.
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
