package tui

import (
	"context"
	"strings"

	"neural-lab/internal/app"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type loginResultMsg struct {
	user app.User
	err  error
}

type loginModel struct {
	app   *app.Application
	theme Theme

	name    textinput.Model
	key     textinput.Model
	focus   int
	errText string
	busy    bool
}

func newLoginModel(application *app.Application, theme Theme) loginModel {
	name := textinput.New()
	name.Placeholder = "operator name"
	name.CharLimit = 64
	name.Focus()

	key := textinput.New()
	key.Placeholder = "access key"
	key.CharLimit = 64
	key.EchoMode = textinput.EchoPassword
	key.EchoCharacter = '*'

	return loginModel{app: application, theme: theme, name: name, key: key}
}

func (m loginModel) Update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case loginResultMsg:
		m.busy = false
		if msg.err != nil {
			// Deliberately vague; the gate does not say which part failed.
			m.errText = "Access denied."
			return m, nil
		}
		return m, nil

	case tea.KeyMsg:
		if m.busy {
			return m, nil
		}
		switch msg.String() {
		case "tab", "shift+tab", "up", "down":
			m.focus = (m.focus + 1) % 2
			if m.focus == 0 {
				m.name.Focus()
				m.key.Blur()
			} else {
				m.key.Focus()
				m.name.Blur()
			}
			return m, nil
		case "enter":
			name := strings.TrimSpace(m.name.Value())
			key := strings.TrimSpace(m.key.Value())
			if name == "" || key == "" {
				m.errText = "Both fields are required."
				return m, nil
			}
			m.busy = true
			m.errText = ""
			auth := m.app.Auth
			return m, func() tea.Msg {
				user, err := auth.Login(context.Background(), name, key)
				return loginResultMsg{user: user, err: err}
			}
		case "ctrl+g":
			m.busy = true
			m.errText = ""
			auth := m.app.Auth
			return m, func() tea.Msg {
				user, err := auth.GuestEntry()
				return loginResultMsg{user: user, err: err}
			}
		}
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.name, cmd = m.name.Update(msg)
	cmds = append(cmds, cmd)
	m.key, cmd = m.key.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m loginModel) View(width, height int) string {
	title := m.theme.TopBarTitle.Render("NEURAL LAB")
	sub := m.theme.TopBarMeta.Render("Polyglot Core uplink")

	var body strings.Builder
	body.WriteString(title + "\n" + sub + "\n\n")
	body.WriteString(m.theme.PaneTitle.Render("Operator") + "\n")
	body.WriteString(m.name.View() + "\n\n")
	body.WriteString(m.theme.PaneTitle.Render("Access key") + "\n")
	body.WriteString(m.key.View() + "\n\n")
	if m.busy {
		body.WriteString(m.theme.Footer.Render("Verifying...") + "\n")
	} else if m.errText != "" {
		body.WriteString(m.theme.RoleErr.Render(m.errText) + "\n")
	}
	body.WriteString("\n" + m.theme.Footer.Render("enter sign in  ·  ctrl+g enter as guest  ·  ctrl+c quit"))

	box := m.theme.PaneFocused.Width(48).Render(body.String())
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, box)
}
