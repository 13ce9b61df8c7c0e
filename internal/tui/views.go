package tui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/ricardofn/chirp/internal/store"
	"github.com/rivo/tview"
)

// ConversationList renders the ordered conversation summaries.
type ConversationList struct {
	*tview.Table
	convs []store.Conversation
}

// NewConversationList creates the conversation list table.
func NewConversationList() *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false)
	table.SetBorder(true)
	table.SetTitle(" Conversations ")
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorGreen))
	return &ConversationList{Table: table}
}

// Update refreshes the list with new summaries.
func (cl *ConversationList) Update(convs []store.Conversation) {
	cl.convs = convs
	cl.Clear()
	for row, c := range convs {
		name := c.Partner.Name
		if name == "" {
			name = c.Partner.ID
		}
		if name == "" {
			name = c.ID
		}
		if c.Typing {
			name += " [green]typing…[-]"
		} else if c.Partner.Online {
			name += " [green]●[-]"
		}

		badge := ""
		if c.UnreadCount > 0 {
			badge = fmt.Sprintf("[red](%d)[-] ", c.UnreadCount)
		}
		cl.SetCell(row, 0, tview.NewTableCell(badge+name).SetExpansion(1))
		cl.SetCell(row, 1, tview.NewTableCell(tview.Escape(c.LastMessagePreview)).
			SetTextColor(tcell.ColorGray).SetExpansion(2))
		cl.SetCell(row, 2, tview.NewTableCell(formatTime(c.LastMessageAt)).
			SetTextColor(tcell.ColorGray).SetAlign(tview.AlignRight))
	}
}

// Selected returns the conversation id under the cursor, or "".
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	if row < 0 || row >= len(cl.convs) {
		return ""
	}
	return cl.convs[row].ID
}

// MessageView renders the active conversation's log.
type MessageView struct {
	*tview.TextView
}

// NewMessageView creates the message pane.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true)
	tv.SetBorder(true)
	tv.SetTitle(" Messages ")
	return &MessageView{TextView: tv}
}

// Update rewrites the pane from the log, marking own messages and their
// delivery status.
func (mv *MessageView) Update(msgs []store.Message, selfID string) {
	mv.Clear()
	for _, m := range msgs {
		who := m.SenderName
		if who == "" {
			who = m.SenderID
		}
		color := "[blue]"
		if m.SenderID == selfID {
			who = "me"
			color = "[green]"
		}
		fmt.Fprintf(mv, "%s%s[-] [gray]%s[-] %s%s\n",
			color, who, formatTime(m.Timestamp), tview.Escape(m.Body), statusMark(m))
	}
	mv.ScrollToEnd()
}

func statusMark(m store.Message) string {
	switch m.Status {
	case store.StatusSending:
		return " [gray]…[-]"
	case store.StatusFailed:
		return " [red]✗ failed[-]"
	case store.StatusDelivered:
		return " [gray]✓✓[-]"
	case store.StatusSent:
		return " [gray]✓[-]"
	default:
		return ""
	}
}

func formatTime(unixMs int64) string {
	if unixMs <= 0 {
		return ""
	}
	t := time.UnixMilli(unixMs)
	if time.Since(t) > 24*time.Hour {
		return t.Format("Jan 02")
	}
	return t.Format("15:04")
}
