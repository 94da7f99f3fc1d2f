package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/relay/internal/status"
	"github.com/matheus3301/relay/internal/tui/model"
)

// StatusBar displays the connection state, queue depth and flash message.
type StatusBar struct {
	*tview.TextView
	profile  string
	username string
	state    status.State
	pending  int
	failed   int
	flash    string
	level    model.Level
}

func NewStatusBar(profile string) *StatusBar {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)
	return &StatusBar{TextView: tv, profile: profile}
}

func (sb *StatusBar) SetUser(name string) {
	sb.username = name
	sb.render()
}

func (sb *StatusBar) SetState(s status.State) {
	sb.state = s
	sb.render()
}

// SetQueue updates the counts of unacknowledged and failed messages.
func (sb *StatusBar) SetQueue(pending, failed int) {
	sb.pending = pending
	sb.failed = failed
	sb.render()
}

func (sb *StatusBar) SetFlash(msg string, level model.Level) {
	sb.flash = msg
	sb.level = level
	sb.render()
}

func stateColor(s status.State) string {
	switch s {
	case status.Open:
		return "green"
	case status.Connecting, status.Closing:
		return "yellow"
	default:
		return "red"
	}
}

func (sb *StatusBar) render() {
	sb.Clear()

	line := fmt.Sprintf(" [::b]%s[-:-:-]@%s | [%s]%s[-]", tview.Escape(sb.username), sb.profile, stateColor(sb.state), sb.state)
	if sb.pending > 0 {
		line += fmt.Sprintf(" | [yellow]%d sending[-]", sb.pending)
	}
	if sb.failed > 0 {
		line += fmt.Sprintf(" | [red]%d failed[-]", sb.failed)
	}
	line += " | " + time.Now().Format("15:04")
	if sb.flash != "" {
		color := "white"
		switch sb.level {
		case model.Warn:
			color = "yellow"
		case model.Err:
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
