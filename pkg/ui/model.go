// Package ui is the bubbletea terminal interface a node uses to watch
// peers appear, pick a target, and send chat prompts through the
// dispatcher.
package ui

import (
	"time"

	"lanshare/pkg/discovery"
	"lanshare/pkg/dispatcher"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// Model is the entire state of the TUI.
type Model struct {
	discovery  *discovery.Service
	dispatcher *dispatcher.Dispatcher
	localName  string
	chatKey    string

	transcript  []TranscriptEntry
	peers       []PeerDisplay
	input       textinput.Model
	maxEntries  int

	activeGroup string
	pinnedPeer  string
	pinnedModel string

	scrollOffset    int
	maxScrollOffset int
	autoScroll      bool

	width          int
	height         int
	chatAreaHeight int

	focused  FocusArea
	showHelp bool

	status    string
	lastError string
}

// TranscriptEntry is one line of the chat transcript: either a prompt
// this node sent, a reply it received, an error, or a system notice.
type TranscriptEntry struct {
	Content     string
	PeerID      string
	DisplayName string
	Timestamp   time.Time
	Kind        EntryKind
}

// PeerDisplay is a peer row formatted for the sidebar.
type PeerDisplay struct {
	ID       string
	Name     string
	Groups   []string
	Offering bool
	Models   []string
	Age      time.Duration
}

// FocusArea is which part of the UI currently has focus.
type FocusArea int

const (
	FocusInput FocusArea = iota
	FocusPeers
	FocusTranscript
)

// EntryKind distinguishes transcript rows for styling.
type EntryKind int

const (
	EntryPrompt EntryKind = iota
	EntryReply
	EntryError
	EntrySystem
)

// New creates a Model driving disc and disp, announcing as localName.
// chatKey is the key presented to peers whose proxy requires one.
func New(disc *discovery.Service, disp *dispatcher.Dispatcher, localName, chatKey string) Model {
	input := textinput.New()
	input.Placeholder = "Type a prompt..."
	input.Focus()

	return Model{
		discovery:  disc,
		dispatcher: disp,
		localName:  localName,
		chatKey:    chatKey,
		transcript: []TranscriptEntry{},
		peers:      []PeerDisplay{},
		input:      input,
		maxEntries: 500,
		autoScroll: true,
		focused:    FocusInput,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		ListenForResults(m.dispatcher),
		UpdatePeers(m.discovery),
		PeriodicPeerUpdate(),
	)
}

func (m *Model) addEntry(e TranscriptEntry) {
	m.transcript = append(m.transcript, e)
	if len(m.transcript) > m.maxEntries {
		removeCount := m.maxEntries / 5
		copy(m.transcript, m.transcript[removeCount:])
		m.transcript = m.transcript[:len(m.transcript)-removeCount]
		if m.scrollOffset > removeCount {
			m.scrollOffset -= removeCount
		} else {
			m.scrollOffset = 0
		}
	}
	m.updateScrollBounds()
}

func (m *Model) scrollUp(lines int) {
	m.scrollOffset += lines
	if m.scrollOffset > m.maxScrollOffset {
		m.scrollOffset = m.maxScrollOffset
	}
	if m.scrollOffset > 0 {
		m.autoScroll = false
	}
}

func (m *Model) scrollDown(lines int) {
	m.scrollOffset -= lines
	if m.scrollOffset < 0 {
		m.scrollOffset = 0
		m.autoScroll = true
	}
}

func (m *Model) scrollToBottom() {
	m.scrollOffset = 0
	m.autoScroll = true
}

func (m *Model) updateScrollBounds() {
	if m.chatAreaHeight <= 0 {
		m.maxScrollOffset = 0
		return
	}
	total := len(m.transcript)
	if total <= m.chatAreaHeight {
		m.maxScrollOffset = 0
	} else {
		m.maxScrollOffset = total - m.chatAreaHeight
	}
	if m.scrollOffset > m.maxScrollOffset {
		m.scrollOffset = m.maxScrollOffset
	}
}
