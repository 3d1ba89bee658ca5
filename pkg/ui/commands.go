package ui

import (
	"time"

	"lanshare/pkg/discovery"
	"lanshare/pkg/dispatcher"

	tea "github.com/charmbracelet/bubbletea"
)

// ChatResultMsg wraps a completed (or failed) dispatcher job for Update.
type ChatResultMsg struct {
	Result dispatcher.ChatResult
}

// PeerUpdateMsg carries a fresh peer snapshot for Update.
type PeerUpdateMsg struct {
	Peers []discovery.PeerView
}

// StatusUpdateMsg is a one-line status or error notice for Update.
type StatusUpdateMsg struct {
	Status  string
	IsError bool
}

type tickMsg struct{}

// ListenForResults waits for the next dispatcher result, or times out so
// the event loop keeps turning even when nothing has arrived yet.
func ListenForResults(d *dispatcher.Dispatcher) tea.Cmd {
	return func() tea.Msg {
		select {
		case r := <-d.Results():
			return ChatResultMsg{Result: r}
		case <-time.After(100 * time.Millisecond):
			return nil
		}
	}
}

// SendPromptCmd enqueues intent against the dispatcher.
func SendPromptCmd(d *dispatcher.Dispatcher, intent dispatcher.Intent) tea.Cmd {
	return func() tea.Msg {
		if _, err := d.Enqueue(intent); err != nil {
			return StatusUpdateMsg{Status: "Error: " + err.Error(), IsError: true}
		}
		return StatusUpdateMsg{Status: "Prompt queued", IsError: false}
	}
}

// UpdatePeers snapshots the discovery service's current peer table.
func UpdatePeers(disc *discovery.Service) tea.Cmd {
	return func() tea.Msg {
		return PeerUpdateMsg{Peers: disc.ListPeers()}
	}
}

// PeriodicPeerUpdate schedules the next peer-list refresh tick.
func PeriodicPeerUpdate() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}
