// quoterd-monitor is a terminal dashboard over the quoterd control API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2"))

	badStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

type statusData struct {
	Running            bool      `json:"running"`
	Sessions           int       `json:"sessions"`
	BreakerOpen        bool      `json:"breaker_open"`
	TotalExposureUSD   float64   `json:"total_exposure_usd"`
	InventoryUpdatedAt time.Time `json:"inventory_updated_at"`
}

type sessionData struct {
	MarketID    string    `json:"marketId"`
	ConditionID string    `json:"conditionId"`
	Question    string    `json:"question"`
	OpenOrders  int       `json:"openOrders"`
	LastRefresh time.Time `json:"lastRefresh"`
}

type sessionsData struct {
	Sessions []sessionData `json:"sessions"`
}

type tickMsg time.Time

type statusMsg struct {
	status   statusData
	sessions []sessionData
	err      error
}

type breakerMsg struct{ err error }

type model struct {
	api *resty.Client

	status   statusData
	sessions []sessionData
	lastErr  error
	lastPoll time.Time
}

func initialModel(baseURL string) model {
	return model{
		api: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.pollCmd(), tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "b":
			return m, m.toggleBreakerCmd()
		case "r":
			return m, m.pollCmd()
		}

	case tickMsg:
		return m, tea.Batch(m.pollCmd(), tickCmd())

	case statusMsg:
		m.lastErr = msg.err
		m.lastPoll = time.Now()
		if msg.err == nil {
			m.status = msg.status
			m.sessions = msg.sessions
		}
		return m, nil

	case breakerMsg:
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		return m, m.pollCmd()
	}
	return m, nil
}

func (m model) View() string {
	out := headerStyle.Render("quoterd") + "\n\n"

	if m.lastErr != nil {
		out += badStyle.Render(fmt.Sprintf("api error: %v", m.lastErr)) + "\n\n"
	}

	state := okStyle.Render("RUNNING")
	if !m.status.Running {
		state = badStyle.Render("STOPPED")
	}
	breaker := okStyle.Render("closed")
	if m.status.BreakerOpen {
		breaker = badStyle.Render("OPEN")
	}

	out += borderStyle.Render(fmt.Sprintf(
		"state: %s   breaker: %s\nexposure: $%.2f   positions as of %s",
		state, breaker,
		m.status.TotalExposureUSD,
		humanTime(m.status.InventoryUpdatedAt),
	)) + "\n\n"

	if len(m.sessions) == 0 {
		out += dimStyle.Render("no active sessions") + "\n"
	}
	for _, sess := range m.sessions {
		question := sess.Question
		if len(question) > 60 {
			question = question[:57] + "..."
		}
		out += borderStyle.Render(fmt.Sprintf(
			"%s\n%s\norders: %d   refreshed %s",
			question, sess.MarketID, sess.OpenOrders, humanTime(sess.LastRefresh),
		)) + "\n"
	}

	out += "\n" + dimStyle.Render("q quit · r refresh · b toggle breaker")
	return out
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	since := time.Since(t).Round(time.Second)
	return fmt.Sprintf("%s ago", since)
}

func (m model) pollCmd() tea.Cmd {
	api := m.api
	return func() tea.Msg {
		var status statusData
		resp, err := api.R().SetResult(&status).Get("/api/v1/status")
		if err != nil {
			return statusMsg{err: err}
		}
		if resp.IsError() {
			return statusMsg{err: fmt.Errorf("status: %s", resp.Status())}
		}

		var sessions sessionsData
		resp, err = api.R().SetResult(&sessions).Get("/api/v1/sessions")
		if err != nil {
			return statusMsg{err: err}
		}
		if resp.IsError() {
			return statusMsg{err: fmt.Errorf("sessions: %s", resp.Status())}
		}
		return statusMsg{status: status, sessions: sessions.Sessions}
	}
}

func (m model) toggleBreakerCmd() tea.Cmd {
	api := m.api
	open := m.status.BreakerOpen
	return func() tea.Msg {
		path := "/api/v1/breaker/halt"
		if open {
			path = "/api/v1/breaker/resume"
		}
		resp, err := api.R().Post(path)
		if err != nil {
			return breakerMsg{err: err}
		}
		if resp.IsError() {
			return breakerMsg{err: fmt.Errorf("breaker: %s", resp.Status())}
		}
		return breakerMsg{}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	baseURL := flag.String("api", "http://127.0.0.1:8080", "quoterd control API base URL")
	flag.Parse()

	p := tea.NewProgram(initialModel(*baseURL), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor: %v\n", err)
		os.Exit(1)
	}
}
