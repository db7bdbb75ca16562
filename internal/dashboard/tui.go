// Package dashboard renders a terminal view of a running orchestrator. It is
// a pure client of the gateway: tracked issues and totals come from the REST
// API, the live feed from the event stream.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/issuebot/issuebot/internal/banner"
	"github.com/issuebot/issuebot/internal/events"
	"github.com/issuebot/issuebot/internal/store"
)

// Panel width (all panels same width)
const (
	panelTotalWidth = 69 // Total visual width including borders
	panelInnerWidth = 65 // panelTotalWidth - 4 (2 borders + 2 padding spaces)
)

const (
	// refreshInterval is how often the REST snapshot is re-fetched.
	refreshInterval = 2 * time.Second
	// reconnectDelay is the pause before re-dialing a dropped event stream.
	reconnectDelay = 2 * time.Second
	// maxEvents bounds the in-memory event ring.
	maxEvents = 100
	// issueRows and eventRows bound panel heights.
	issueRows = 12
	eventRows = 10
)

// Styles (muted terminal aesthetic)
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da")) // steel blue

	borderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3d4450")) // slate

	statusRunningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#7eb8da")) // steel blue

	statusPendingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6e7681"))

	statusFailedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#d48a8a")) // dusty rose

	statusCompletedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#7ec699")) // sage green

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9"))

	costStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7ec699")). // sage green
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#d4a054")) // amber
)

// Model is the TUI model.
type Model struct {
	client  *Client
	version string

	status *Status
	issues []Issue
	events []EventFrame
	stream <-chan EventFrame

	width     int
	height    int
	connected bool
	lastErr   string
	quitting  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// tickMsg drives the periodic REST refresh.
type tickMsg time.Time

// refreshMsg carries a fetched snapshot, or the error that prevented one.
type refreshMsg struct {
	status *Status
	issues []Issue
	err    error
}

// streamOpenedMsg carries a freshly dialed event channel.
type streamOpenedMsg struct {
	ch <-chan EventFrame
}

// eventMsg is one frame from the event stream.
type eventMsg EventFrame

// streamClosedMsg signals the event stream dropped.
type streamClosedMsg struct{}

// reconnectMsg triggers a redial after the backoff pause.
type reconnectMsg struct{}

// NewModel creates a dashboard model backed by the given gateway client.
func NewModel(client *Client, version string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		client:  client,
		version: version,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Init starts the refresh loop and dials the event stream.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), m.connectCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refreshCmd fetches the REST snapshot off the update loop.
func (m Model) refreshCmd() tea.Cmd {
	client, parent := m.client, m.ctx
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()

		status, err := client.FetchStatus(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		issues, err := client.FetchIssues(ctx)
		if err != nil {
			return refreshMsg{err: err}
		}
		return refreshMsg{status: status, issues: issues}
	}
}

// connectCmd dials the event stream.
func (m Model) connectCmd() tea.Cmd {
	client, ctx := m.client, m.ctx
	return func() tea.Msg {
		ch, err := client.StreamEvents(ctx)
		if err != nil {
			return streamClosedMsg{}
		}
		return streamOpenedMsg{ch: ch}
	}
}

// waitForEvent blocks on the stream and surfaces the next frame.
func waitForEvent(ch <-chan EventFrame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(f)
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.cancel()
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case refreshMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.status = msg.status
		m.issues = msg.issues

	case streamOpenedMsg:
		m.connected = true
		m.stream = msg.ch
		return m, waitForEvent(m.stream)

	case eventMsg:
		m.events = append(m.events, EventFrame(msg))
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
		return m, waitForEvent(m.stream)

	case streamClosedMsg:
		m.connected = false
		if m.quitting {
			return m, nil
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, m.connectCmd()
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "issuebot stopped.\n"
	}

	var b strings.Builder

	b.WriteString("\n")
	logo := strings.TrimPrefix(banner.Logo, "\n")
	b.WriteString(titleStyle.Render(logo))
	version := m.version
	if m.status != nil && m.status.Version != "" {
		version = m.status.Version
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("   issuebot %s", version)))
	b.WriteString("\n")

	if m.lastErr != "" {
		b.WriteString(warningStyle.Render(truncateVisual("   gateway: "+m.lastErr, panelTotalWidth)))
		b.WriteString("\n")
	} else if !m.connected {
		b.WriteString(warningStyle.Render("   event stream disconnected, retrying..."))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	b.WriteString(m.renderIssues())
	b.WriteString("\n")
	b.WriteString(m.renderEvents())
	b.WriteString("\n")

	b.WriteString(helpStyle.Render("q: quit  r: refresh"))

	return b.String()
}

// renderStatus renders the STATUS panel.
func (m Model) renderStatus() string {
	var content strings.Builder
	w := panelInnerWidth

	if m.status == nil {
		content.WriteString("  Connecting to gateway...")
		return renderPanel("STATUS", content.String())
	}

	st := m.status
	pollerValue := "stopped"
	pollerStyle := statusFailedStyle
	if st.Poller.Running {
		pollerValue = fmt.Sprintf("running (every %s)", st.Poller.Interval)
		pollerStyle = statusCompletedStyle
	}
	content.WriteString(dotLeaderStyled("Poller", pollerValue, pollerStyle, w))
	content.WriteString("\n")
	content.WriteString(dotLeader("Repos", fmt.Sprintf("%d", st.Repos), w))
	content.WriteString("\n")

	active := fmt.Sprintf("%d running  %d queued  %d blocked",
		st.Issues[store.StatusInProgress],
		st.Issues[store.StatusQueued],
		st.Issues[store.StatusBlocked])
	content.WriteString(dotLeader("Active", active, w))
	content.WriteString("\n")

	settled := fmt.Sprintf("%d done  %d failed  %d cooling",
		st.Issues[store.StatusCompleted],
		st.Issues[store.StatusFailed],
		st.Issues[store.StatusCooldown])
	content.WriteString(dotLeader("Settled", settled, w))
	content.WriteString("\n")

	if n := st.Issues[store.StatusAwaitingApproval]; n > 0 {
		content.WriteString(dotLeaderStyled("Awaiting approval", fmt.Sprintf("%d", n), warningStyle, w))
		content.WriteString("\n")
	}

	tokens := fmt.Sprintf("%s in  %s out",
		formatCompact(st.Cost.InputTokens), formatCompact(st.Cost.OutputTokens))
	content.WriteString(dotLeader("Tokens", tokens, w))
	content.WriteString("\n")
	spend := fmt.Sprintf("$%.2f (%d calls)", st.Cost.EstimatedCost, st.Cost.Invocations)
	content.WriteString(dotLeaderStyled("Est. cost", spend, costStyle, w))

	return renderPanel("STATUS", content.String())
}

// renderIssues renders the ISSUES panel with the newest rows.
func (m Model) renderIssues() string {
	var content strings.Builder

	if len(m.issues) == 0 {
		content.WriteString("  No tracked issues")
		return renderPanel("ISSUES", content.String())
	}

	shown := m.issues
	if len(shown) > issueRows {
		shown = shown[len(shown)-issueRows:]
	}
	for i, issue := range shown {
		if i > 0 {
			content.WriteString("\n")
		}
		content.WriteString(renderIssueLine(issue))
	}
	if hidden := len(m.issues) - len(shown); hidden > 0 {
		content.WriteString("\n")
		content.WriteString(dimStyle.Render(fmt.Sprintf("  ... and %d more", hidden)))
	}

	return renderPanel("ISSUES", content.String())
}

// renderIssueLine lays out one issue row.
// Columns: indent(2) icon(1) sp num(6) sp repo(14) gap title(23) gap status(8) iter(5) = 65
func renderIssueLine(issue Issue) string {
	icon, style := statusIconStyle(issue.Status)
	iter := ""
	if issue.Iteration > 0 {
		iter = fmt.Sprintf("it %d", issue.Iteration)
	}
	return fmt.Sprintf("  %s %s %s  %s  %s%s",
		style.Render(icon),
		padOrTruncate(fmt.Sprintf("#%d", issue.IssueNumber), 6),
		padOrTruncate(issue.Repo, 14),
		padOrTruncate(issue.Title, 23),
		padOrTruncate(shortStatus(issue.Status), 8),
		padOrTruncate(iter, 5),
	)
}

// renderEvents renders the EVENTS panel with the newest entries.
func (m Model) renderEvents() string {
	var content strings.Builder

	if len(m.events) == 0 {
		content.WriteString("  No events yet")
		return renderPanel("EVENTS", content.String())
	}

	start := len(m.events) - eventRows
	if start < 0 {
		start = 0
	}
	for i, f := range m.events[start:] {
		if i > 0 {
			content.WriteString("\n")
		}
		content.WriteString(renderEventLine(f))
	}

	return renderPanel("EVENTS", content.String())
}

// renderEventLine lays out one event row.
// Columns: indent(2) ts(8) sp type(18) sp message(35) = 65
func renderEventLine(f EventFrame) string {
	return fmt.Sprintf("  %s %s %s",
		dimStyle.Render(padOrTruncate(f.Ts, 8)),
		eventStyle(f).Render(padOrTruncate(f.Type, 18)),
		padOrTruncate(f.Message, 35),
	)
}

// statusIconStyle returns the icon and style for a tracked-issue status.
func statusIconStyle(status string) (string, lipgloss.Style) {
	switch status {
	case store.StatusInProgress:
		return "*", statusRunningStyle
	case store.StatusQueued:
		return "o", statusPendingStyle
	case store.StatusBlocked:
		return "#", warningStyle
	case store.StatusAwaitingApproval:
		return "?", warningStyle
	case store.StatusCompleted:
		return "+", statusCompletedStyle
	case store.StatusFailed:
		return "x", statusFailedStyle
	case store.StatusCooldown:
		return "z", dimStyle
	default:
		return ".", statusPendingStyle
	}
}

// shortStatus maps wire statuses to display labels that fit the issue row.
func shortStatus(status string) string {
	switch status {
	case store.StatusPending:
		return "pending"
	case store.StatusQueued:
		return "queued"
	case store.StatusBlocked:
		return "blocked"
	case store.StatusInProgress:
		return "running"
	case store.StatusAwaitingApproval:
		return "approval"
	case store.StatusCompleted:
		return "done"
	case store.StatusFailed:
		return "failed"
	case store.StatusCooldown:
		return "cooldown"
	default:
		return strings.ToLower(status)
	}
}

// eventStyle picks a color for an event frame by its type.
func eventStyle(f EventFrame) lipgloss.Style {
	if f.Type == "NOTIFICATION" {
		if f.Severity == string(events.SeverityError) {
			return statusFailedStyle
		}
		return warningStyle
	}
	switch f.Type {
	case events.TypeIterationSuccess, events.TypeMerged, events.TypeHumanApproved, events.TypeBlockedReleased:
		return statusCompletedStyle
	case events.TypeIterationFailed, events.TypeCIFailed, events.TypeCITimeout, events.TypeReviewFailed,
		events.TypeMaxIterationsReached, events.TypeMaxReviewItersReached,
		events.TypeBranchSafetyViolation, events.TypeHumanRejection, events.TypePollError,
		events.TypeDependencyCycle, events.TypeRepoGone:
		return statusFailedStyle
	case events.TypeDependencyBlocked, events.TypeDependencyFetchFailed, events.TypeCooldownReset, events.TypeCancelled:
		return warningStyle
	default:
		return labelStyle
	}
}

// renderPanel builds a panel manually with guaranteed width
// Total width: panelTotalWidth (69 chars)
// Structure: ╭─ TITLE ─...─╮ / │ (space) content (space) │ / ╰─...─╯
func renderPanel(title string, content string) string {
	var lines []string

	lines = append(lines, buildTopBorder(title))
	lines = append(lines, buildEmptyLine())
	for _, line := range strings.Split(content, "\n") {
		lines = append(lines, buildContentLine(line))
	}
	lines = append(lines, buildEmptyLine())
	lines = append(lines, buildBottomBorder())

	return strings.Join(lines, "\n")
}

// buildTopBorder creates: ╭─ TITLE ─────...─────╮ with exact panelTotalWidth
func buildTopBorder(title string) string {
	titleUpper := strings.ToUpper(title)
	prefix := "╭─ "
	prefixWidth := lipgloss.Width(prefix + titleUpper + " ")

	dashCount := panelTotalWidth - prefixWidth - 1 // -1 for ╮
	if dashCount < 0 {
		dashCount = 0
	}

	return borderStyle.Render(prefix) + labelStyle.Render(titleUpper) + borderStyle.Render(" "+strings.Repeat("─", dashCount)+"╮")
}

func buildBottomBorder() string {
	dashCount := panelTotalWidth - 2
	line := "╰" + strings.Repeat("─", dashCount) + "╯"
	return borderStyle.Render(line)
}

func buildEmptyLine() string {
	spaceCount := panelTotalWidth - 2
	border := borderStyle.Render("│")
	return border + strings.Repeat(" ", spaceCount) + border
}

// buildContentLine creates: │ (space) content padded/truncated (space) │
func buildContentLine(content string) string {
	contentWidth := panelTotalWidth - 4
	adjusted := padOrTruncate(content, contentWidth)
	border := borderStyle.Render("│")
	return border + " " + adjusted + " " + border
}

// padOrTruncate ensures content is exactly targetWidth visual chars
func padOrTruncate(s string, targetWidth int) string {
	visualWidth := lipgloss.Width(s)

	if visualWidth == targetWidth {
		return s
	}
	if visualWidth > targetWidth {
		return truncateVisual(s, targetWidth)
	}
	return s + strings.Repeat(" ", targetWidth-visualWidth)
}

// truncateVisual truncates string to targetWidth visual chars, adding "..." only if needed
func truncateVisual(s string, targetWidth int) string {
	visualWidth := lipgloss.Width(s)

	if visualWidth <= targetWidth {
		return s
	}
	if targetWidth <= 3 {
		return strings.Repeat(".", targetWidth)
	}

	result := ""
	width := 0
	for _, r := range s {
		runeWidth := lipgloss.Width(string(r))
		if width+runeWidth > targetWidth-3 {
			break
		}
		result += string(r)
		width += runeWidth
	}

	// Pad to exactly targetWidth-3 if needed (in case of wide chars)
	for width < targetWidth-3 {
		result += " "
		width++
	}

	return result + "..."
}

// dotLeader creates a dot-leader line: "  Label .............. Value"
func dotLeader(label string, value string, totalWidth int) string {
	prefix := "  " + label + " "
	suffix := " " + value
	prefixWidth := lipgloss.Width(prefix)
	suffixWidth := lipgloss.Width(suffix)
	dotsNeeded := totalWidth - prefixWidth - suffixWidth
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + suffix
}

// dotLeaderStyled creates a dot-leader with styled value.
// Calculates width using the raw value, then applies style.
func dotLeaderStyled(label string, value string, style lipgloss.Style, totalWidth int) string {
	prefix := "  " + label + " "
	suffix := " " + value
	prefixWidth := lipgloss.Width(prefix)
	suffixWidth := lipgloss.Width(suffix)
	dotsNeeded := totalWidth - prefixWidth - suffixWidth
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + " " + style.Render(value)
}

// formatCompact formats a number in compact form: 0, 999, 1.0K, 57.3K, 1.2M.
func formatCompact(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
}

// Run connects to the gateway at addr and drives the dashboard until quit.
func Run(addr, username, password, version string) error {
	model := NewModel(NewClient(addr, username, password), version)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
