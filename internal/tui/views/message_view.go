package views

import (
	"strings"

	"github.com/rivo/tview"
)

// MessageView shows the chat timeline, newest at the bottom.
type MessageView struct {
	*tview.TextView
}

func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" chat ")
	return &MessageView{TextView: tv}
}

// Update replaces the content with already formatted lines.
func (mv *MessageView) Update(lines []string) {
	for i, l := range lines {
		lines[i] = sanitizeForTerminal(l)
	}
	mv.SetText(strings.Join(lines, "\n"))
	mv.ScrollToEnd()
}
