package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"neural-lab/internal/app"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type view int

const (
	viewLogin view = iota
	viewChat
)

type tickMsg time.Time

type streamDoneMsg struct {
	sessionID string
	err       error
}

type protocolsLoadedMsg struct {
	protocols []app.Protocol
	err       error
}

type Model struct {
	app   *app.Application
	theme Theme
	md    *MessageRenderer

	view  view
	login loginModel
	user  *app.User

	width  int
	height int
	ready  bool

	sessions  []app.Session
	currentID string

	protocols   []app.Protocol
	protocolIdx int // -1 means no override

	input  textarea.Model
	chatVP viewport.Model
	spin   spinner.Model

	streaming bool
	cancel    context.CancelFunc

	showSidebar bool
	sidebarSel  int
	status      string
}

func New(application *app.Application, user *app.User) *Model {
	theme := NewTheme()

	ta := textarea.New()
	ta.Placeholder = "Message the Polyglot Core. Enter sends, Esc stops a reply."
	ta.CharLimit = 8000
	ta.SetHeight(1)
	ta.Prompt = " "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = theme.Spinner

	m := &Model{
		app:         application,
		theme:       theme,
		md:          NewMessageRenderer(theme),
		login:       newLoginModel(application, theme),
		user:        user,
		width:       100,
		height:      30,
		protocolIdx: -1,
		input:       ta,
		spin:        sp,
		showSidebar: true,
	}
	if user != nil {
		m.view = viewChat
		m.sessions = application.Sessions.List()
	}
	return m
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.loadProtocolsCmd())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.refreshTranscript()
		m.ready = true
		return m, nil

	case loginResultMsg:
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		if msg.err == nil {
			user := msg.user
			m.user = &user
			m.view = viewChat
			m.sessions = m.app.Sessions.List()
			m.status = fmt.Sprintf("Signed in as %s (%s)", user.Name, user.Role)
		}
		return m, cmd

	case protocolsLoadedMsg:
		if msg.err == nil {
			m.protocols = msg.protocols
		}
		return m, nil

	case tickMsg:
		if !m.streaming {
			return m, nil
		}
		m.refreshTranscript()
		return m, m.tickCmd()

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case streamDoneMsg:
		m.streaming = false
		m.cancel = nil
		m.currentID = msg.sessionID
		m.sessions = m.app.Sessions.List()
		if msg.err != nil {
			m.status = "Reply failed: " + msg.err.Error()
		} else {
			m.status = "Ready"
		}
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		if m.view == viewLogin {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			var cmd tea.Cmd
			m.login, cmd = m.login.Update(msg)
			return m, cmd
		}
		return m.updateChatKeys(msg)
	}

	if m.view == viewLogin {
		var cmd tea.Cmd
		m.login, cmd = m.login.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.chatVP, cmd = m.chatVP.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) updateChatKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.cancel != nil {
			m.cancel()
		}
		return m, tea.Quit

	case "esc":
		if m.streaming && m.cancel != nil {
			m.cancel()
			m.status = "Stopping..."
		}
		return m, nil

	case "enter":
		text := strings.TrimSpace(m.input.Value())
		if text == "" || m.streaming {
			return m, nil
		}
		m.input.Reset()
		return m, m.startSend(text)

	case "ctrl+n":
		m.currentID = ""
		m.sidebarSel = 0
		m.status = "New session"
		m.refreshTranscript()
		return m, nil

	case "ctrl+b":
		m.showSidebar = !m.showSidebar
		m.layout()
		m.refreshTranscript()
		return m, nil

	case "ctrl+p":
		if len(m.protocols) > 0 {
			m.protocolIdx++
			if m.protocolIdx >= len(m.protocols) {
				m.protocolIdx = -1
			}
			m.status = "Protocol: " + m.protocolName()
		}
		return m, nil

	case "ctrl+up":
		if m.sidebarSel > 0 {
			m.sidebarSel--
			m.selectSession()
		}
		return m, nil

	case "ctrl+down":
		if m.sidebarSel < len(m.sessions)-1 {
			m.sidebarSel++
			m.selectSession()
		}
		return m, nil

	case "ctrl+d":
		if m.currentID != "" && !m.streaming {
			id := m.currentID
			if err := m.app.Sessions.DeleteSession(context.Background(), id); err != nil {
				m.status = "Delete failed: " + err.Error()
			} else {
				m.status = "Session deleted"
			}
			m.currentID = ""
			m.sessions = m.app.Sessions.List()
			if m.sidebarSel >= len(m.sessions) {
				m.sidebarSel = 0
			}
			m.refreshTranscript()
		}
		return m, nil

	case "ctrl+l":
		if !m.streaming {
			if err := m.app.Auth.Logout(); err != nil {
				m.status = "Logout failed: " + err.Error()
				return m, nil
			}
			m.user = nil
			m.view = viewLogin
			m.login = newLoginModel(m.app, m.theme)
		}
		return m, nil

	case "1", "2", "3", "4":
		if m.currentID == "" && strings.TrimSpace(m.input.Value()) == "" {
			idx := int(msg.String()[0] - '1')
			if idx < len(quickPrompts) {
				m.input.SetValue(quickPrompts[idx].Prompt + " ")
				return m, nil
			}
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.chatVP, cmd = m.chatVP.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) startSend(text string) tea.Cmd {
	if m.currentID == "" {
		m.currentID = m.app.Sessions.CreateSession(text).ID
		m.sessions = m.app.Sessions.List()
		m.sidebarSel = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.streaming = true
	m.status = "Synthesizing..."

	opts := app.SendOptions{SessionID: m.currentID}
	if m.user != nil {
		opts.Role = m.user.Role
	}
	if m.protocolIdx >= 0 && m.protocolIdx < len(m.protocols) {
		opts.ProtocolID = m.protocols[m.protocolIdx].ID
	}

	assembler := m.app.Assembler
	sid := m.currentID
	send := func() tea.Msg {
		id, err := assembler.Send(ctx, text, opts)
		if id == "" {
			id = sid
		}
		return streamDoneMsg{sessionID: id, err: err}
	}
	m.refreshTranscript()
	return tea.Batch(send, m.tickCmd(), m.spin.Tick)
}

func (m *Model) selectSession() {
	if m.sidebarSel >= 0 && m.sidebarSel < len(m.sessions) {
		m.currentID = m.sessions[m.sidebarSel].ID
		m.refreshTranscript()
	}
}

func (m *Model) loadProtocolsCmd() tea.Cmd {
	registry := m.app.Protocols
	return func() tea.Msg {
		protocols, err := registry.List(context.Background())
		return protocolsLoadedMsg{protocols: protocols, err: err}
	}
}

func (m *Model) tickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) protocolName() string {
	if m.protocolIdx < 0 || m.protocolIdx >= len(m.protocols) {
		return "default"
	}
	return m.protocols[m.protocolIdx].Title
}

func (m *Model) layout() {
	chatWidth := m.width
	if m.showSidebar {
		chatWidth -= sidebarWidth + 1
	}
	m.chatVP = viewport.New(chatWidth-4, m.height-7)
	m.input.SetWidth(chatWidth - 6)
}

const sidebarWidth = 28

func (m *Model) refreshTranscript() {
	if m.currentID == "" {
		m.chatVP.SetContent(m.emptyState())
		return
	}
	sess, ok := m.app.Sessions.Get(m.currentID)
	if !ok {
		m.chatVP.SetContent(m.emptyState())
		return
	}

	var out strings.Builder
	for i, msg := range sess.Messages {
		if i > 0 {
			out.WriteString("\n\n")
		}
		switch msg.Role {
		case "user":
			out.WriteString(m.theme.RoleYou.Render("you") + "\n")
			out.WriteString(msg.Text)
		default:
			out.WriteString(m.theme.RoleAI.Render("core") + "\n")
			text := msg.Text
			if text == "" && m.streaming {
				text = m.spin.View() + " thinking"
			}
			out.WriteString(m.md.Render(text, m.chatVP.Width))
			if footer := m.md.RenderGrounding(msg.GroundingURLs); footer != "" {
				out.WriteString("\n" + footer)
			}
		}
	}
	m.chatVP.SetContent(out.String())
	m.chatVP.GotoBottom()
}

func (m *Model) emptyState() string {
	var out strings.Builder
	out.WriteString(m.theme.PaneTitle.Render("No session selected.") + "\n\n")
	out.WriteString(m.theme.Footer.Render("Type a message to start one, or press a number for a quick prompt:") + "\n\n")
	for i, qp := range quickPrompts {
		out.WriteString(m.theme.QuickPrompt.Render(fmt.Sprintf("%d  %s", i+1, qp.Label)) + "\n")
	}
	return out.String()
}

func (m *Model) View() string {
	if !m.ready {
		return "loading..."
	}
	if m.view == viewLogin {
		return m.login.View(m.width, m.height)
	}

	top := m.renderTopBar()
	body := m.renderBody()
	input := m.renderInput()
	footer := m.renderFooter()
	return lipgloss.JoinVertical(lipgloss.Left, top, body, input, footer)
}

func (m *Model) renderTopBar() string {
	title := m.theme.TopBarTitle.Render(" NEURAL LAB ")
	badge := m.theme.TopBarBadge.Render("[" + m.protocolName() + "]")
	who := ""
	if m.user != nil {
		who = m.theme.TopBarMeta.Render(fmt.Sprintf("%s · %s", m.user.Name, m.user.Role))
	}
	left := lipgloss.JoinHorizontal(lipgloss.Center, title, " ", badge)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(who) - 1
	if gap < 1 {
		gap = 1
	}
	return m.theme.TopBar.Render(left + strings.Repeat(" ", gap) + who)
}

func (m *Model) renderBody() string {
	chat := m.theme.Pane.Width(m.chatVP.Width + 2).Render(m.chatVP.View())
	if !m.showSidebar {
		return chat
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, m.renderSidebar(), " ", chat)
}

func (m *Model) renderSidebar() string {
	var out strings.Builder
	out.WriteString(m.theme.PaneTitle.Render("Sessions") + "\n")
	if len(m.sessions) == 0 {
		out.WriteString(m.theme.Footer.Render("(none yet)"))
	}
	visible := m.height - 9
	for i, sess := range m.sessions {
		if i >= visible {
			out.WriteString(m.theme.Footer.Render(fmt.Sprintf("... %d more", len(m.sessions)-visible)))
			break
		}
		title := sess.Title
		if len([]rune(title)) > sidebarWidth-4 {
			title = string([]rune(title)[:sidebarWidth-4])
		}
		style := m.theme.SidebarItem
		prefix := "  "
		if sess.ID == m.currentID {
			style = m.theme.SidebarItemSel
			prefix = "> "
		}
		out.WriteString(style.Render(prefix+title) + "\n")
	}
	return m.theme.Pane.Width(sidebarWidth).Height(m.height - 7).Render(out.String())
}

func (m *Model) renderInput() string {
	box := m.theme.InputBoxF
	if m.streaming {
		box = m.theme.InputBox
	}
	return box.Width(m.chatVP.Width + 2).Render(m.input.View())
}

func (m *Model) renderFooter() string {
	status := m.status
	if m.streaming {
		status = m.spin.View() + " " + status
	}
	keys := "enter send · esc stop · ctrl+n new · ctrl+↑/↓ switch · ctrl+d delete · ctrl+p protocol · ctrl+b sidebar · ctrl+l sign out · ctrl+c quit"
	return m.theme.Footer.Render(" " + status + "   " + keys)
}
