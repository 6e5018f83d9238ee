// Package tui is a terminal chat client for a running coursebot server.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"coursebot/internal/chat"
	"coursebot/internal/chunker"
	"coursebot/internal/tokenize"
)

// ChatPort is the TUI-facing subset of the HTTP client.
type ChatPort interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

type exchange struct {
	question string
	scope    string
	resp     *chat.Response
	err      error
}

type answerMsg struct {
	idx  int
	resp *chat.Response
	err  error
}

// Model is the Bubble Tea model for the chat client.
type Model struct {
	port          ChatPort
	timeout       time.Duration
	lowConfidence float64

	input    textinput.Model
	viewport viewport.Model
	history  []exchange
	module   string
	chapter  string
	status   string
	waiting  bool
	ready    bool
}

// New creates a chat model. Answers below lowConfidence are flagged as uncertain.
func New(port ChatPort, module, chapter string, lowConfidence float64, timeout time.Duration) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the course, or /module NAME, /chapter NAME, /clear"
	ti.Focus()
	ti.CharLimit = 2000
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return Model{
		port:          port,
		timeout:       timeout,
		lowConfidence: lowConfidence,
		input:         ti,
		viewport:      viewport.New(0, 0),
		module:        module,
		chapter:       chapter,
		status:        "Connected. Type a question and press Enter.",
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and answer events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, hh := historyBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header and scope, status, input box, spacer
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-hh)
		m.refresh()
		return m, nil

	case answerMsg:
		m.waiting = false
		if msg.idx < len(m.history) {
			m.history[msg.idx].resp = msg.resp
			m.history[msg.idx].err = msg.err
		}
		if msg.err != nil {
			m.status = "Something went wrong. Please try again."
		} else {
			m.status = "Answered."
		}
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		if msg.Type == tea.KeyEnter {
			return m.submit()
		}
	}
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if strings.HasPrefix(text, "/") {
		m.input.SetValue("")
		m.command(text)
		m.refresh()
		return m, nil
	}
	if m.waiting {
		return m, nil
	}
	m.input.SetValue("")

	req := chat.Request{Question: text, ModuleContext: m.module, ChapterContext: m.chapter}
	m.history = append(m.history, exchange{question: text, scope: m.scope()})
	m.waiting = true
	m.status = "Thinking..."
	m.refresh()
	return m, m.ask(len(m.history)-1, req)
}

func (m Model) ask(idx int, req chat.Request) tea.Cmd {
	port, timeout := m.port, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		resp, err := port.Chat(ctx, req)
		return answerMsg{idx: idx, resp: resp, err: err}
	}
}

func (m *Model) command(text string) {
	name, arg, _ := strings.Cut(strings.TrimPrefix(text, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "module":
		m.module = arg
		m.status = "Module scope: " + orAll(arg)
	case "chapter":
		m.chapter = arg
		m.status = "Chapter scope: " + orAll(arg)
	case "clear":
		m.history = nil
		m.status = "Cleared."
	default:
		m.status = fmt.Sprintf("Unknown command %q", "/"+name)
	}
}

func (m Model) scope() string {
	return fmt.Sprintf("module=%s chapter=%s", orAll(m.module), orAll(m.chapter))
}

func orAll(s string) string {
	if s == "" {
		return "all"
	}
	return s
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("Course Assistant")
	scope := dimStyle.Render(m.scope())
	history := historyBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + scope + "\n" + history + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m Model) renderHistory() string {
	if len(m.history) == 0 {
		return dimStyle.Render("No questions yet.")
	}
	var b strings.Builder
	for i, ex := range m.history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(questionStyle.Render("You: " + ex.question))
		b.WriteString("\n")
		switch {
		case ex.err != nil:
			b.WriteString(errorStyle.Render("Error: " + ex.err.Error()))
		case ex.resp == nil:
			b.WriteString(dimStyle.Render("..."))
		default:
			b.WriteString(m.renderAnswer(ex))
		}
	}
	return b.String()
}

func (m Model) renderAnswer(ex exchange) string {
	r := ex.resp
	body := highlightBestSentence(r.Answer, ex.question)
	meta := fmt.Sprintf("confidence=%.2f  sources=%d  %s", r.Confidence, len(r.Sources), ex.scope)
	if !r.GroundedInBook {
		meta += "  (not covered by the course)"
	} else if r.Confidence < m.lowConfidence {
		meta += "  (low confidence)"
	}
	if r.Degraded {
		meta += "  (index may be stale)"
	}
	out := body + "\n" + dimStyle.Render(meta)
	if len(r.Sources) > 0 {
		out += "\n" + dimStyle.Render("cites: "+strings.Join(r.Sources, ", "))
	}
	return out
}

var (
	historyBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	questionStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// highlightBestSentence emphasises the answer sentence sharing the most terms with the question.
func highlightBestSentence(text, question string) string {
	sentences := chunker.SplitSentences(text)
	if len(sentences) == 0 {
		return text
	}
	asked := tokenize.TermSet(question)
	if len(asked) == 0 {
		return strings.Join(sentences, " ")
	}
	best, bestScore := -1, 0
	for i, s := range sentences {
		score := 0
		for t := range tokenize.TermSet(s) {
			if _, ok := asked[t]; ok {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		sentences[best] = highlightStyle.Render(sentences[best])
	}
	return strings.Join(sentences, " ")
}
