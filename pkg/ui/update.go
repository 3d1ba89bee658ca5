package ui

import (
	"fmt"
	"strings"
	"time"

	"lanshare/pkg/discovery"
	"lanshare/pkg/dispatcher"

	tea "github.com/charmbracelet/bubbletea"
)

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 1
		inputHeight := 3
		helpHeight := 1
		usedHeight := headerHeight + inputHeight + helpHeight

		m.chatAreaHeight = m.height - usedHeight
		if m.chatAreaHeight < 3 {
			m.chatAreaHeight = 3
		}
		m.updateScrollBounds()
		m.input.Width = msg.Width - 8

	case ChatResultMsg:
		r := msg.Result
		if r.Err != nil {
			m.addEntry(TranscriptEntry{
				Content:     r.Err.Error(),
				PeerID:      r.PeerID,
				DisplayName: r.DisplayName,
				Timestamp:   time.Now(),
				Kind:        EntryError,
			})
		} else {
			m.addEntry(TranscriptEntry{
				Content:     r.Content,
				PeerID:      r.PeerID,
				DisplayName: r.DisplayName,
				Timestamp:   time.Now(),
				Kind:        EntryReply,
			})
		}
		if m.autoScroll {
			m.scrollOffset = 0
		}
		cmds = append(cmds, ListenForResults(m.dispatcher))

	case PeerUpdateMsg:
		m.peers = convertPeersToDisplay(msg.Peers)
		cmds = append(cmds, PeriodicPeerUpdate())

	case StatusUpdateMsg:
		if msg.IsError {
			m.lastError = msg.Status
		} else {
			m.status = msg.Status
			m.lastError = ""
		}

	case tickMsg:
		cmds = append(cmds, UpdatePeers(m.discovery))
	}

	cmds = append(cmds, ListenForResults(m.dispatcher))

	return m, tea.Batch(cmds...)
}

func (m Model) handleChatCommand(command string) (Model, tea.Cmd) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return m, nil
	}

	switch strings.ToLower(parts[0]) {
	case "/help", "/h":
		return m.showHelpMessage()

	case "/peers", "/who":
		return m.showPeersList()

	case "/quit", "/q", "/exit":
		return m, tea.Quit

	case "/group":
		if len(parts) < 2 {
			m.lastError = "Usage: /group <name>"
			return m, nil
		}
		m.activeGroup = parts[1]
		m.status = "Active group: " + m.activeGroup
		return m, nil

	case "/target":
		if len(parts) < 2 {
			m.pinnedPeer = ""
			m.status = "Target cleared, back to round-robin"
			return m, nil
		}
		m.pinnedPeer = parts[1]
		m.status = "Target pinned to " + m.pinnedPeer
		return m, nil

	case "/model":
		if len(parts) < 2 {
			m.pinnedModel = ""
			m.status = "Model pin cleared"
			return m, nil
		}
		m.pinnedModel = parts[1]
		m.status = "Model pinned to " + m.pinnedModel
		return m, nil

	case "/clear":
		m.transcript = nil
		m.scrollOffset = 0
		m.maxScrollOffset = 0
		m.status = "Transcript cleared"
		return m, nil

	default:
		m.lastError = fmt.Sprintf("Unknown command: %s. Type /help for available commands.", parts[0])
		return m, nil
	}
}

func (m Model) showHelpMessage() (Model, tea.Cmd) {
	m.addEntry(TranscriptEntry{
		Content: "Commands:\n/group <name> - set active group\n/target <peer-id> - pin a peer (clear with no argument)\n" +
			"/model <name> - pin a model (clear with no argument)\n/peers - list known peers\n/clear - clear transcript\n/quit - exit",
		Timestamp: time.Now(),
		Kind:      EntrySystem,
	})
	if m.autoScroll {
		m.scrollToBottom()
	}
	return m, nil
}

func (m Model) showPeersList() (Model, tea.Cmd) {
	var b strings.Builder
	if len(m.peers) == 0 {
		b.WriteString("No peers known yet.")
	} else {
		b.WriteString("Known peers:\n")
		for _, p := range m.peers {
			offering := "not sharing"
			if p.Offering {
				offering = "sharing: " + strings.Join(p.Models, ",")
			}
			fmt.Fprintf(&b, "  %s (%s) groups=%v %s\n", p.Name, p.ID, p.Groups, offering)
		}
	}
	m.addEntry(TranscriptEntry{Content: b.String(), Timestamp: time.Now(), Kind: EntrySystem})
	if m.autoScroll {
		m.scrollToBottom()
	}
	return m, nil
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "enter":
		if m.focused == FocusInput && m.input.Value() != "" {
			content := m.input.Value()

			if strings.HasPrefix(content, "/") {
				m.input.SetValue("")
				return m.handleChatCommand(content)
			}

			if m.activeGroup == "" {
				m.lastError = "No active group - use /group <name> first"
				return m, nil
			}

			m.input.SetValue("")
			m.addEntry(TranscriptEntry{Content: content, Timestamp: time.Now(), Kind: EntryPrompt})
			m.status = "Sending..."

			intent := dispatcher.Intent{
				Group:       m.activeGroup,
				PinnedPeer:  m.pinnedPeer,
				PinnedModel: m.pinnedModel,
				Prompt:      content,
				SuppliedKey: m.chatKey,
			}
			return m, SendPromptCmd(m.dispatcher, intent)
		} else if m.focused != FocusInput {
			m.focused = FocusInput
			m.input.Focus()
		}

	case "tab":
		switch m.focused {
		case FocusInput:
			m.focused = FocusTranscript
			m.input.Blur()
		case FocusTranscript:
			m.focused = FocusPeers
		case FocusPeers:
			m.focused = FocusInput
			m.input.Focus()
		}

	default:
		if m.focused == FocusInput {
			var cmd tea.Cmd
			m.input, cmd = m.input.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "k", "up":
			if m.focused == FocusTranscript {
				m.scrollUp(1)
			}
		case "j", "down":
			if m.focused == FocusTranscript {
				m.scrollDown(1)
			}
		case "pgup":
			m.scrollUp(5)
		case "pgdown":
			m.scrollDown(5)
		case "home":
			m.scrollOffset = m.maxScrollOffset
			m.autoScroll = false
		case "end":
			m.scrollToBottom()
		case "?":
			m.showHelp = !m.showHelp
		}
	}

	return m, nil
}

func convertPeersToDisplay(peers []discovery.PeerView) []PeerDisplay {
	display := make([]PeerDisplay, len(peers))
	for i, p := range peers {
		name := p.Status.ID
		if p.Status.Name != nil && *p.Status.Name != "" {
			name = *p.Status.Name
		}
		var models []string
		offering := false
		if p.Status.Ollama != nil {
			offering = p.Status.Ollama.Enabled
			models = p.Status.Ollama.Models
		}
		display[i] = PeerDisplay{
			ID:       p.Status.ID,
			Name:     name,
			Groups:   p.Status.Groups,
			Offering: offering,
			Models:   models,
			Age:      p.Age,
		}
	}
	return display
}
