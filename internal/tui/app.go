// Package tui is a thin tview shell over the conversation store: it reads
// the store's selectors, redraws on bus events, and calls the imperative
// store operations. It owns no conversation state of its own.
package tui

import (
	"context"

	"github.com/gdamore/tcell/v2"
	"github.com/ricardofn/chirp/internal/bus"
	"github.com/ricardofn/chirp/internal/store"
	"github.com/ricardofn/chirp/internal/typing"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// App is the TUI application shell.
type App struct {
	app      *tview.Application
	st       *store.Store
	notifier *typing.Notifier
	bus      *bus.Bus
	logger   *zap.Logger

	list     *ConversationList
	thread   *MessageView
	composer *tview.InputField
	statusLn *tview.TextView

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(st *store.Store, notifier *typing.Notifier, b *bus.Bus, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		app:      tview.NewApplication(),
		st:       st,
		notifier: notifier,
		bus:      b,
		logger:   logger,
		list:     NewConversationList(),
		thread:   NewMessageView(),
		composer: tview.NewInputField().SetLabel("> "),
		statusLn: tview.NewTextView().SetDynamicColors(true),
		ctx:      ctx,
		cancel:   cancel,
	}
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupLayout() {
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.thread, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	body := tview.NewFlex().
		AddItem(a.list, 0, 1, true).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(body, 0, 1, true).
		AddItem(a.statusLn, 1, 0, false)

	a.app.SetRoot(root, true)
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, col int) {
		if id := a.list.Selected(); id != "" {
			a.st.Open(a.ctx, id)
			a.refresh()
			a.app.SetFocus(a.composer)
		}
	})

	a.composer.SetChangedFunc(func(text string) {
		if text == "" {
			return
		}
		if id := a.st.Active(); id != "" && !store.IsTempHandle(id) {
			a.notifier.Notify(a.ctx, id)
		}
	})

	a.composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := a.composer.GetText()
		id := a.st.Active()
		if text == "" || id == "" {
			return
		}
		a.st.Send(a.ctx, id, text, store.TypeText, nil)
		a.composer.SetText("")
		a.refresh()
	})

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyEscape:
			a.st.Close()
			a.app.SetFocus(a.list)
			a.refresh()
			return nil
		case event.Key() == tcell.KeyTab:
			if a.app.GetFocus() == a.list {
				a.app.SetFocus(a.composer)
			} else {
				a.app.SetFocus(a.list)
			}
			return nil
		case event.Rune() == 'q' && a.app.GetFocus() == a.list:
			a.app.Stop()
			return nil
		}
		return event
	})
}

// Run starts the redraw loop and blocks until the UI exits.
func (a *App) Run() error {
	defer a.cancel()

	events := a.bus.SubscribeContext(a.ctx, "", 256)
	go func() {
		for evt := range events {
			switch evt.Kind {
			case "session.status_changed", "session.expired":
				a.app.QueueUpdateDraw(func() { a.refreshStatus(evt.Kind) })
			default:
				a.app.QueueUpdateDraw(a.refresh)
			}
		}
	}()

	a.refresh()
	return a.app.Run()
}

// Stop terminates the UI event loop.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

func (a *App) refresh() {
	a.list.Update(a.st.Conversations())
	active := a.st.Active()
	if active != "" {
		a.thread.Update(a.st.Messages(active), a.st.UserID())
		if c, ok := a.st.Conversation(active); ok && c.Typing {
			a.thread.SetTitle(" Messages — typing… ")
		} else {
			a.thread.SetTitle(" Messages ")
		}
	} else {
		a.thread.Clear()
	}
}

func (a *App) refreshStatus(kind string) {
	switch kind {
	case "session.expired":
		a.statusLn.SetText("[red]session expired — messages may be stale[-]")
	default:
		a.statusLn.SetText("")
	}
	a.refresh()
}
