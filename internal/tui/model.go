package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"pdfchat/internal/domain"
	"pdfchat/internal/rag"
	"pdfchat/internal/service"
)

// ChatPort is the TUI-facing subset of the chat service.
type ChatPort interface {
	LoadFile(ctx context.Context, path string) (*service.Document, error)
	Ask(ctx context.Context, sessionID, question string) (*rag.TurnResult, error)
	History(ctx context.Context, sessionID string) ([]domain.Message, error)
	ClearSession(ctx context.Context, sessionID string) error
}

// DocumentMsg reports a finished (re)load of the document.
type DocumentMsg struct {
	Doc *service.Document
	Err error
}

// StageMsg carries orchestrator progress into the UI.
type StageMsg struct {
	SessionID string
	Stage     rag.Stage
}

type turnMsg struct {
	question string
	res      *rag.TurnResult
	err      error
}

type historyMsg struct {
	session string
	msgs    []domain.Message
	err     error
}

type clearedMsg struct{ err error }

type entryKind int

const (
	entryUser entryKind = iota
	entryAssistant
	entryNotice
)

type entry struct {
	kind entryKind
	text string
}

type Option func(*Model)

// WithDocument shows an already loaded document in the header.
func WithDocument(doc *service.Document) Option {
	return func(m *Model) { m.doc = doc }
}

// WithMarkdownStyle selects the glamour style used for answers.
func WithMarkdownStyle(style string) Option {
	return func(m *Model) { m.style = style }
}

// Model is the Bubble Tea model for the chat application.
type Model struct {
	ctx      context.Context
	service  ChatPort
	input    textinput.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer
	style    string

	session      string
	doc          *service.Document
	entries      []entry
	sources      []domain.SearchResult
	cursor       int
	lastQuestion string
	status       string
	busy         bool
	ready        bool
}

// New creates a chat model bound to session.
func New(ctx context.Context, svc ChatPort, session string, opts ...Option) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask about the document, or /help"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	m := Model{
		ctx:      ctx,
		service:  svc,
		input:    ti,
		viewport: vp,
		style:    "dark",
		session:  session,
		status:   "Ready.",
	}
	for _, opt := range opts {
		opt(&m)
	}
	if m.doc == nil {
		m.status = "No document loaded. Use /load <file.pdf>."
	}
	return m
}

// Init starts the cursor blink and loads the session transcript.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.historyCmd(m.session))
}

// Update handles key, window and service events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, sh := sourceBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 + sourceLines + sh // header+summary, status, input, spacer, sources
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved)
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle(m.style),
			glamour.WithWordWrap(max(20, msg.Width-4)),
		)
		m.refresh()
		return m, nil

	case StageMsg:
		if msg.SessionID == m.session && m.busy {
			m.status = stageLabel(msg.Stage)
		}
		return m, nil

	case turnMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.input.SetValue(msg.question)
			return m, nil
		}
		m.entries = append(m.entries, entry{entryUser, msg.question}, entry{entryAssistant, msg.res.Answer})
		m.sources = msg.res.Passages
		m.cursor = 0
		m.lastQuestion = msg.res.Question
		m.status = fmt.Sprintf("Answered in %s (%d passages).", msg.res.Duration.Round(1e6), len(msg.res.Passages))
		m.refresh()
		return m, nil

	case DocumentMsg:
		m.busy = false
		if msg.Err != nil {
			m.status = "Load failed: " + msg.Err.Error()
			return m, nil
		}
		m.doc = msg.Doc
		m.sources = nil
		m.entries = append(m.entries, entry{entryNotice, fmt.Sprintf("Loaded %s: %d pages, %d chunks.", msg.Doc.Name, msg.Doc.Pages, msg.Doc.Chunks)})
		m.status = "Document ready."
		m.refresh()
		return m, nil

	case historyMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		if msg.session != m.session {
			return m, nil
		}
		m.entries = m.entries[:0]
		for _, hm := range msg.msgs {
			kind := entryUser
			if hm.Role == domain.RoleAssistant {
				kind = entryAssistant
			}
			m.entries = append(m.entries, entry{kind, hm.Text})
		}
		m.refresh()
		return m, nil

	case clearedMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.entries = nil
		m.sources = nil
		m.status = fmt.Sprintf("Session %q cleared.", m.session)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if m.busy {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			if strings.HasPrefix(line, "/") {
				return m.command(line)
			}
			m.busy = true
			m.status = "Thinking..."
			return m, m.askCmd(line)
		case "tab":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				return m, nil
			}
		case "shift+tab":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				return m, nil
			}
		case "pgup", "pgdown", "up", "down":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) command(line string) (tea.Model, tea.Cmd) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/load":
		if arg == "" {
			m.status = "Usage: /load <file.pdf>"
			return m, nil
		}
		m.busy = true
		m.status = "Loading " + arg + "..."
		return m, m.loadCmd(arg)
	case "/session":
		if arg == "" {
			m.status = fmt.Sprintf("Current session: %q", m.session)
			return m, nil
		}
		m.session = arg
		m.sources = nil
		m.status = fmt.Sprintf("Switched to session %q.", arg)
		return m, m.historyCmd(arg)
	case "/clear":
		return m, m.clearCmd(m.session)
	case "/help":
		m.entries = append(m.entries, entry{entryNotice, helpText})
		m.refresh()
		return m, nil
	default:
		m.status = fmt.Sprintf("Unknown command %s. Try /help.", name)
		return m, nil
	}
}

func (m Model) askCmd(question string) tea.Cmd {
	session := m.session
	return func() tea.Msg {
		res, err := m.service.Ask(m.ctx, session, question)
		if err == nil && res == nil {
			err = fmt.Errorf("no answer produced")
		}
		return turnMsg{question: question, res: res, err: err}
	}
}

func (m Model) loadCmd(path string) tea.Cmd {
	return func() tea.Msg {
		doc, err := m.service.LoadFile(m.ctx, path)
		return DocumentMsg{Doc: doc, Err: err}
	}
}

func (m Model) historyCmd(session string) tea.Cmd {
	return func() tea.Msg {
		msgs, err := m.service.History(m.ctx, session)
		return historyMsg{session: session, msgs: msgs, err: err}
	}
}

func (m Model) clearCmd(session string) tea.Cmd {
	return func() tea.Msg {
		return clearedMsg{err: m.service.ClearSession(m.ctx, session)}
	}
}

// View renders the header, transcript, current source, input and status.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := "PDF Chat"
	if m.doc != nil {
		title += " · " + m.doc.Name
	}
	header := headerStyle.Render(title) + "  " + dimStyle.Render("session: "+m.session)
	summary := ""
	if m.doc != nil {
		summary = dimStyle.Render(truncate(m.doc.Summary, m.viewport.Width))
	}
	sources := sourceBoxStyle.Width(max(20, m.viewport.Width-2)).Render(m.renderCurrentSource())
	input := queryBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	return header + "\n" + summary + "\n" + m.viewport.View() + "\n" + sources + "\n" + input + "\n" + status
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript() string {
	if len(m.entries) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	var b strings.Builder
	for _, e := range m.entries {
		switch e.kind {
		case entryUser:
			b.WriteString(userStyle.Render("You: ") + e.text + "\n")
		case entryAssistant:
			b.WriteString(assistantStyle.Render("Assistant:") + "\n" + m.markdown(e.text) + "\n")
		case entryNotice:
			b.WriteString(dimStyle.Render(e.text) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m Model) markdown(text string) string {
	if m.renderer == nil {
		return text
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.Trim(out, "\n")
}

func (m Model) renderCurrentSource() string {
	if len(m.sources) == 0 {
		return "No sources yet."
	}
	r := m.sources[m.cursor]
	title := fmt.Sprintf("Source %d/%d  page %d  score=%.3f  (tab: next)", m.cursor+1, len(m.sources), r.Chunk.Page, r.Score)
	body := highlightBestSentence(truncate(r.Chunk.Text, sourceChars), m.lastQuestion)
	return title + "\n" + body
}

func stageLabel(s rag.Stage) string {
	switch s {
	case rag.StageRewriting:
		return "Rewriting question..."
	case rag.StageRetrieving:
		return "Searching the document..."
	case rag.StageAnswering:
		return "Answering..."
	case rag.StageAppending:
		return "Saving turn..."
	default:
		return "Thinking..."
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

const (
	sourceLines = 4
	sourceChars = 320
	helpText    = "Commands: /load <file.pdf> loads a document, /session <id> switches session, " +
		"/clear forgets the current session, /help shows this text. Tab cycles answer sources."
)
