package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-chat/parley/pkg/client"
	"github.com/parley-chat/parley/pkg/protocol"
)

var (
	systemStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	senderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Bold(true)
	privateStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
	serverStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Bold(true)
)

type connectedMsg struct {
	conn *client.Conn
	addr string
}

type eventMsg struct {
	event client.Event
	ok    bool
}

type errMsg struct {
	err error
}

type uiModel struct {
	conn      *client.Conn
	username  string
	viewport  viewport.Model
	textInput textinput.Model
	lines     []string
	ready     bool
	startAddr string
}

func initialModel(addr string) uiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or /help"
	ti.Focus()
	ti.CharLimit = 4096

	m := uiModel{
		textInput: ti,
		startAddr: addr,
	}
	m.lines = append(m.lines, systemStyle.Render("Welcome to parley. /connect <host:port> to begin."))
	return m
}

func (m uiModel) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if m.startAddr != "" {
		cmds = append(cmds, connectCmd(m.startAddr))
	}
	return tea.Batch(cmds...)
}

func connectCmd(addr string) tea.Cmd {
	return func() tea.Msg {
		conn, err := client.Dial(addr)
		if err != nil {
			return errMsg{err: err}
		}
		return connectedMsg{conn: conn, addr: addr}
	}
}

// waitForEvent blocks on the connection's event channel and delivers
// the next event to Update.
func waitForEvent(conn *client.Conn) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-conn.Events()
		return eventMsg{event: event, ok: ok}
	}
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.conn != nil {
				m.conn.Close()
			}
			return m, tea.Quit
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textInput.Value())
			m.textInput.SetValue("")
			if input == "" {
				return m, nil
			}
			return m.handleInput(input)
		}

	case tea.WindowSizeMsg:
		footerHeight := 2
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - footerHeight
		}
		m.textInput.Width = msg.Width
		m.refresh()

	case connectedMsg:
		m.conn = msg.conn
		m.addLine(systemStyle.Render("Connected to " + msg.addr))
		return m, waitForEvent(m.conn)

	case eventMsg:
		if !msg.ok {
			return m, nil
		}
		m.handleEvent(msg.event)
		if _, gone := msg.event.(client.Disconnected); gone {
			m.conn = nil
			m.username = ""
			return m, nil
		}
		return m, waitForEvent(m.conn)

	case errMsg:
		m.addLine(errorStyle.Render("Error: " + msg.err.Error()))
	}

	m.textInput, tiCmd = m.textInput.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	return m, tea.Batch(tiCmd, vpCmd)
}

func (m *uiModel) handleInput(input string) (tea.Model, tea.Cmd) {
	if !strings.HasPrefix(input, "/") {
		if m.conn == nil {
			m.addLine(errorStyle.Render("Not connected. /connect <host:port> first."))
			return *m, nil
		}
		if err := m.conn.SendGlobal(input); err != nil {
			m.addLine(errorStyle.Render("Send failed: " + err.Error()))
		}
		return *m, nil
	}

	parts := strings.Fields(input)
	cmd, args := parts[0], parts[1:]

	switch cmd {
	case "/help":
		m.addLine(systemStyle.Render(helpText))
		return *m, nil
	case "/connect":
		if len(args) != 1 {
			m.addLine(systemStyle.Render("Usage: /connect <host:port>"))
			return *m, nil
		}
		return *m, connectCmd(args[0])
	case "/quit":
		if m.conn != nil {
			m.conn.Close()
		}
		return *m, tea.Quit
	}

	if m.conn == nil {
		m.addLine(errorStyle.Render("Not connected. /connect <host:port> first."))
		return *m, nil
	}

	var err error
	switch cmd {
	case "/register":
		if len(args) != 2 {
			m.addLine(systemStyle.Render("Usage: /register <username> <password>"))
			return *m, nil
		}
		err = m.conn.Register(args[0], args[1])
	case "/login":
		if len(args) != 2 {
			m.addLine(systemStyle.Render("Usage: /login <username> <password>"))
			return *m, nil
		}
		m.username = args[0]
		err = m.conn.Login(args[0], args[1])
	case "/logout":
		err = m.conn.Logout()
	case "/passwd":
		if len(args) != 2 {
			m.addLine(systemStyle.Render("Usage: /passwd <old> <new>"))
			return *m, nil
		}
		err = m.conn.ChangePassword(args[0], args[1])
	case "/msg":
		if len(args) < 2 {
			m.addLine(systemStyle.Render("Usage: /msg <user> <message>"))
			return *m, nil
		}
		err = m.conn.SendPrivate(args[0], strings.Join(args[1:], " "))
	case "/users":
		err = m.conn.RequestOnlineList()
	case "/whois":
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		err = m.conn.RequestUserInfo(target)
	case "/kick":
		err = m.modCommand(args, m.conn.Kick, "/kick <user>")
	case "/ban":
		err = m.modCommand(args, m.conn.Ban, "/ban <user>")
	case "/unban":
		err = m.modCommand(args, m.conn.Unban, "/unban <user>")
	case "/mute":
		err = m.modCommand(args, m.conn.Mute, "/mute <user>")
	case "/unmute":
		err = m.modCommand(args, m.conn.Unmute, "/unmute <user>")
	case "/promote":
		err = m.modCommand(args, m.conn.Promote, "/promote <user>")
	case "/demote":
		err = m.modCommand(args, m.conn.Demote, "/demote <user>")
	case "/allusers":
		err = m.conn.RequestAllUsers()
	case "/banned":
		err = m.conn.RequestBannedList()
	case "/muted":
		err = m.conn.RequestMutedList()
	default:
		m.addLine(systemStyle.Render("Unknown command: " + cmd))
		return *m, nil
	}

	if err != nil {
		m.addLine(errorStyle.Render("Send failed: " + err.Error()))
	}
	return *m, nil
}

func (m *uiModel) modCommand(args []string, fn func(string) error, usage string) error {
	if len(args) != 1 {
		m.addLine(systemStyle.Render("Usage: " + usage))
		return nil
	}
	return fn(args[0])
}

func (m *uiModel) handleEvent(event client.Event) {
	switch ev := event.(type) {
	case client.LoginSuccess:
		m.username = ev.Result.Username
		m.addLine(systemStyle.Render(fmt.Sprintf("Logged in as %s (%s)",
			ev.Result.Username, ev.Result.DisplayName)))
		if ev.Result.IsMuted {
			m.addLine(systemStyle.Render("You are currently muted."))
		}
	case client.OkEvent:
		m.addLine(systemStyle.Render(ev.Content))
	case client.ErrorEvent:
		m.addLine(errorStyle.Render(ev.Content))
	case client.GlobalMessage:
		style := senderStyle
		if ev.Sender == "[SERVER]" {
			style = serverStyle
		}
		m.addLine(fmt.Sprintf("%s %s: %s",
			systemStyle.Render(shortTime(ev.Timestamp)), style.Render(ev.Sender), ev.Content))
	case client.PrivateMessage:
		label := fmt.Sprintf("%s -> %s", ev.Sender, ev.Receiver)
		m.addLine(fmt.Sprintf("%s %s: %s",
			systemStyle.Render(shortTime(ev.Timestamp)), privateStyle.Render(label), ev.Content))
	case client.OnlineList:
		m.addLine(systemStyle.Render("Online: " + strings.Join(ev.Users, ", ")))
	case client.UserStatus:
		m.addLine(systemStyle.Render(fmt.Sprintf("%s is %s", ev.Username, ev.Status)))
	case client.UserInfo:
		m.addLine(systemStyle.Render(formatSummary(ev.Summary)))
	case client.UserList:
		m.addLine(systemStyle.Render(fmt.Sprintf("%d account(s):", len(ev.Users))))
		for _, u := range ev.Users {
			m.addLine(systemStyle.Render("  " + formatSummary(u)))
		}
	case client.NameList:
		label := "Banned"
		if ev.Kind == protocol.TypeGetMutedList {
			label = "Muted"
		}
		m.addLine(systemStyle.Render(label + ": " + strings.Join(ev.Users, ", ")))
	case client.Kicked:
		m.addLine(errorStyle.Render(ev.Content))
	case client.Banned:
		m.addLine(errorStyle.Render(ev.Content))
	case client.Muted:
		m.addLine(errorStyle.Render(ev.Content))
	case client.Unmuted:
		m.addLine(systemStyle.Render(ev.Content))
	case client.Disconnected:
		if ev.Err != nil {
			m.addLine(errorStyle.Render("Disconnected: " + ev.Err.Error()))
		} else {
			m.addLine(systemStyle.Render("Disconnected."))
		}
	}
}

func formatSummary(u protocol.UserSummary) string {
	flags := []string{}
	if u.Role == 1 {
		flags = append(flags, "admin")
	}
	if u.IsBanned {
		flags = append(flags, "banned")
	}
	if u.IsMuted {
		flags = append(flags, "muted")
	}
	if u.IsOnline {
		flags = append(flags, "online")
	} else {
		flags = append(flags, "offline")
	}
	return fmt.Sprintf("%s (%s) [%s] since %s",
		u.Username, u.DisplayName, strings.Join(flags, ","), u.CreatedAt)
}

// shortTime trims a full timestamp down to HH:MM for display.
func shortTime(ts string) string {
	if len(ts) >= 16 {
		return ts[11:16]
	}
	return ts
}

func (m *uiModel) addLine(line string) {
	m.lines = append(m.lines, line)
	m.refresh()
}

func (m *uiModel) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m uiModel) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		strings.Repeat("─", m.viewport.Width),
		m.textInput.View(),
	)
}

const helpText = `Commands:
  /connect <host:port>          connect to a server
  /register <user> <pass>       create an account
  /login <user> <pass>          log in
  /logout                       log out
  /passwd <old> <new>           change password
  /msg <user> <message>         private message
  /users                        list online users
  /whois [user]                 account details
  /kick /ban /unban /mute /unmute /promote /demote <user>   (admin)
  /allusers /banned /muted      account lists (admin)
  /quit                         exit`
