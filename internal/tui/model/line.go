// Package model holds the presentation logic of relaychat, kept free of
// tview so it can be tested without a terminal.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/relay/internal/protocol"
)

// FormatRecord renders one timeline entry as a tview color-tagged line.
// attempts is the number of sends made for a pending or failed record.
func FormatRecord(rec protocol.MessageRecord, self string, attempts, maxAttempts int, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	ts := time.UnixMilli(rec.Timestamp).In(loc).Format("15:04")

	nameColor := "aqua"
	if rec.Author == self {
		nameColor = "green"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[gray]%s[-] [%s::b]%s[-::-] %s", ts, nameColor, tview.Escape(rec.Author), tview.Escape(rec.Text))
	switch rec.State {
	case protocol.Pending:
		if attempts > 1 {
			fmt.Fprintf(&b, " [yellow](sending %d/%d)[-]", attempts, maxAttempts)
		} else {
			b.WriteString(" [yellow](sending)[-]")
		}
	case protocol.Failed:
		b.WriteString(" [red](not delivered, /retry)[-]")
	}
	return b.String()
}

// FormatPresence renders one roster entry.
func FormatPresence(u protocol.UserPresence, self string) string {
	marker := "[green]●[-]"
	if u.Status == protocol.Away {
		marker = "[yellow]○[-]"
	}
	name := tview.Escape(u.Username)
	if u.Username == self {
		name += " [gray](you)[-]"
	}
	return marker + " " + name
}
