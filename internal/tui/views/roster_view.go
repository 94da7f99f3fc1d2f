package views

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

// RosterView lists who is in the room.
type RosterView struct {
	*tview.TextView
}

func NewRosterView() *RosterView {
	tv := tview.NewTextView().SetDynamicColors(true)
	tv.SetBorder(true).SetTitle(" online ")
	return &RosterView{TextView: tv}
}

func (rv *RosterView) Update(online int, lines []string) {
	rv.SetTitle(fmt.Sprintf(" online (%d) ", online))
	rv.SetText(strings.Join(lines, "\n"))
}
