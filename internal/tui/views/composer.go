package views

import (
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the single-line input for messages and slash commands.
type Composer struct {
	*tview.InputField
	onSubmit func(text string)
}

func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || c.onSubmit == nil {
			return
		}
		if text := c.GetText(); text != "" {
			c.onSubmit(text)
			c.SetText("")
		}
	})

	return c
}

// SetOnSubmit sets the callback for Enter on a non-empty line.
func (c *Composer) SetOnSubmit(fn func(text string)) {
	c.onSubmit = fn
}
