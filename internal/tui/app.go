// Package tui is relaychat's terminal interface: the chat timeline, the
// roster, a composer with slash commands and a status bar, redrawn from bus
// events published by the connection manager.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/relay/internal/bus"
	"github.com/matheus3301/relay/internal/client"
	"github.com/matheus3301/relay/internal/protocol"
	"github.com/matheus3301/relay/internal/sched"
	"github.com/matheus3301/relay/internal/tui/model"
	"github.com/matheus3301/relay/internal/tui/views"
)

const flashFor = 5 * time.Second

// Options configures the App.
type Options struct {
	Profile     string
	MaxAttempts int
	IdleAfter   time.Duration
	Sched       sched.Scheduler
}

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	mgr       *client.Manager
	bus       *bus.Bus
	opts      Options
	msgView   *views.MessageView
	roster    *views.RosterView
	composer  *views.Composer
	statusBar *views.StatusBar
	flash     *model.Flash
	idle      *model.Idle
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI for mgr. Events are read from b.
func NewApp(mgr *client.Manager, b *bus.Bus, opts Options) *App {
	if opts.Sched == nil {
		opts.Sched = sched.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:       tview.NewApplication(),
		mgr:       mgr,
		bus:       b,
		opts:      opts,
		msgView:   views.NewMessageView(),
		roster:    views.NewRosterView(),
		composer:  views.NewComposer(),
		statusBar: views.NewStatusBar(opts.Profile),
		flash:     model.NewFlash(opts.Sched.Now),
		ctx:       ctx,
		cancel:    cancel,
	}
	a.composer.SetOnSubmit(a.handleInput)
	a.setupLayout()
	return a
}

func (a *App) setupLayout() {
	body := tview.NewFlex().
		AddItem(a.msgView, 0, 4, false).
		AddItem(a.roster, 24, 0, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, false).
		AddItem(a.composer, 1, 0, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true).SetFocus(a.composer)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.idle != nil {
			a.idle.Touch()
		}
		// Tab moves focus to the timeline for scrolling and back.
		if event.Key() == tcell.KeyTab {
			if a.app.GetFocus() == a.composer.InputField {
				a.app.SetFocus(a.msgView)
			} else {
				a.app.SetFocus(a.composer)
			}
			return nil
		}
		return event
	})
}

// Run starts the TUI and blocks until the user quits.
func (a *App) Run() error {
	events, unsubscribe := a.bus.Subscribe("", 256)
	defer unsubscribe()

	a.idle = model.NewIdle(a.opts.Sched, a.opts.IdleAfter, a.mgr.SetPresence)
	defer a.idle.Stop()

	go a.eventLoop(events)
	a.refresh()
	defer a.cancel()
	return a.app.Run()
}

func (a *App) eventLoop(events <-chan bus.Event) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case evt := <-events:
			if msg, level, ok := describe(evt); ok {
				a.flash.Set(msg, level, flashFor)
			}
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		a.app.QueueUpdateDraw(a.refresh)
	}
}

// refresh redraws every widget from the manager's current state. It runs on
// the tview goroutine.
func (a *App) refresh() {
	self := a.mgr.Username()
	pending := a.mgr.Pending()

	recs := a.mgr.Messages()
	lines := make([]string, 0, len(recs))
	var sending, failed int
	for _, r := range recs {
		attempts := 0
		if r.State != protocol.Sent {
			_, attempts, _ = pending.Get(r.ID)
			if r.State == protocol.Failed {
				failed++
			} else {
				sending++
			}
		}
		lines = append(lines, model.FormatRecord(r, self, attempts, a.opts.MaxAttempts, nil))
	}
	a.msgView.Update(lines)

	users := a.mgr.Roster().Users()
	roster := make([]string, 0, len(users))
	for _, u := range users {
		roster = append(roster, model.FormatPresence(u, self))
	}
	a.roster.Update(a.mgr.Roster().Online(), roster)

	a.statusBar.SetUser(self)
	a.statusBar.SetState(a.mgr.State())
	a.statusBar.SetQueue(sending, failed)
	a.statusBar.SetFlash(a.flash.Get())
}

func (a *App) handleInput(text string) {
	cmd, ok := ParseCommand(text)
	if !ok {
		if _, err := a.mgr.Submit(MessageText(text)); err != nil {
			a.flash.Set("send: "+err.Error(), model.Warn, flashFor)
		}
		a.refresh()
		return
	}
	if cmd.Name == CmdQuit {
		a.Stop()
		return
	}
	if msg, level := a.runCommand(cmd); msg != "" {
		a.flash.Set(msg, level, flashFor)
	}
	a.refresh()
}

func (a *App) runCommand(cmd Command) (string, model.Level) {
	switch cmd.Name {
	case CmdRetry:
		return a.retry(cmd.Args)
	case CmdAway:
		return reportErr(a.mgr.SetPresence(protocol.Away), "marked away")
	case CmdBack:
		return reportErr(a.mgr.SetPresence(protocol.Online), "marked online")
	case CmdClear:
		return reportErr(a.mgr.ClearChat(), "")
	case CmdReconnect:
		return reportErr(a.mgr.Reconnect(), "reconnecting")
	case CmdNick:
		if a.mgr.IsOpen() {
			return "already connected as " + a.mgr.Username(), model.Warn
		}
		return reportErr(a.mgr.Login(cmd.Args), "connecting as "+cmd.Args)
	case CmdHelp:
		return helpText, model.Info
	default:
		return fmt.Sprintf("unknown command /%s (try /help)", cmd.Name), model.Warn
	}
}

// retry resends one failed message chosen by ID prefix, or all of them.
func (a *App) retry(prefix string) (string, model.Level) {
	if prefix == "" {
		n := a.mgr.Pending().RetryFailed()
		if n == 0 {
			return "nothing to retry", model.Info
		}
		return fmt.Sprintf("retrying %d message(s)", n), model.Info
	}
	for _, r := range a.mgr.Pending().Snapshot() {
		if r.State == protocol.Failed && strings.HasPrefix(r.ID, prefix) {
			return reportErr(a.mgr.Pending().Retry(r.ID), "retrying")
		}
	}
	return "no failed message matches " + prefix, model.Warn
}

func reportErr(err error, ok string) (string, model.Level) {
	if err != nil {
		return err.Error(), model.Warn
	}
	return ok, model.Info
}

// describe turns a bus event into a status bar notice.
func describe(evt bus.Event) (string, model.Level, bool) {
	switch evt.Kind {
	case bus.ConnGaveUp:
		if g, ok := evt.Payload.(client.GaveUp); ok {
			return fmt.Sprintf("relay unreachable after %d attempts, /reconnect to try again", g.Attempts), model.Err, true
		}
		return "relay unreachable, /reconnect to try again", model.Err, true
	case bus.ConnRejected:
		name, _ := evt.Payload.(string)
		return fmt.Sprintf("name %q is taken, pick another with /nick", name), model.Err, true
	case bus.DeliveryFailed:
		return "a message was not delivered, /retry to resend", model.Warn, true
	case bus.ChatCleared:
		name, _ := evt.Payload.(string)
		return "chat cleared by " + name, model.Info, true
	case bus.ChatError:
		if e, ok := evt.Payload.(protocol.Error); ok {
			return "relay: " + e.Message, model.Warn, true
		}
	}
	return "", model.Info, false
}

// Stop shuts the TUI down.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
