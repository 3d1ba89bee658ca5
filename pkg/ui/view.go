package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("57")).
		Padding(0, 1).
		Width(m.width)

	chatStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Height(m.chatAreaHeight).
		Width(m.width * 3 / 4)

	peerStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Height(m.chatAreaHeight).
		Width(m.width / 4)

	statusText := m.status
	if statusText == "" {
		statusText = "Ready"
	}
	group := m.activeGroup
	if group == "" {
		group = "(none)"
	}
	header := headerStyle.Render(fmt.Sprintf("lanshare - %s - group: %s", statusText, group))

	chatArea := chatStyle.Render(m.renderTranscript())
	peerList := peerStyle.Render(m.renderPeerList())
	inputArea := m.renderInputArea()
	helpText := m.renderHelpText()

	mainArea := lipgloss.JoinHorizontal(lipgloss.Top, chatArea, peerList)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		mainArea,
		inputArea,
		helpText,
	)
}

func (m Model) renderTranscript() string {
	if len(m.transcript) == 0 {
		return "No prompts sent yet.\n\nSet a group with /group <name>, then type a prompt and press Enter."
	}

	availableHeight := m.chatAreaHeight
	if availableHeight <= 2 {
		availableHeight = 5
	}

	total := len(m.transcript)
	var startIndex, endIndex int
	if total <= availableHeight {
		startIndex, endIndex = 0, total
	} else {
		endIndex = total - m.scrollOffset
		startIndex = endIndex - availableHeight
		if startIndex < 0 {
			startIndex, endIndex = 0, availableHeight
		}
		if endIndex > total {
			endIndex = total
			startIndex = total - availableHeight
		}
	}

	var lines []string
	for i := startIndex; i < endIndex; i++ {
		e := m.transcript[i]
		ts := e.Timestamp.Format("15:04")
		switch e.Kind {
		case EntryPrompt:
			lines = append(lines, fmt.Sprintf("[%s] you: %s", ts, e.Content))
		case EntryReply:
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", ts, e.DisplayName, e.Content))
		case EntryError:
			lines = append(lines, fmt.Sprintf("[%s] ! %s: %s", ts, e.DisplayName, e.Content))
		default:
			lines = append(lines, fmt.Sprintf("[%s] * %s", ts, e.Content))
		}
	}

	result := strings.Join(lines, "\n")
	if m.maxScrollOffset > 0 {
		if m.scrollOffset > 0 {
			result += fmt.Sprintf("\n\n^ viewing older entries (%d/%d) - End for latest", m.scrollOffset, m.maxScrollOffset)
		} else {
			result += "\n\n* latest (auto-scroll)"
		}
	}
	return result
}

func (m Model) renderPeerList() string {
	var lines []string
	lines = append(lines, "Peers", "")

	if len(m.peers) == 0 {
		return strings.Join(append(lines, "No peers known yet."), "\n")
	}

	offering := 0
	for _, p := range m.peers {
		indicator := "o"
		if p.Offering {
			indicator = "*"
			offering++
		}
		lines = append(lines, fmt.Sprintf("%s %s", indicator, p.Name))
	}
	lines = append(lines, "", fmt.Sprintf("%d/%d sharing", offering, len(m.peers)))
	return strings.Join(lines, "\n")
}

func (m Model) renderInputArea() string {
	inputStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1).
		Width(m.width - 2)

	focusIndicator := ""
	if m.focused == FocusInput {
		focusIndicator = "> "
	}
	return inputStyle.Render(fmt.Sprintf("%s%s", focusIndicator, m.input.View()))
}

func (m Model) renderHelpText() string {
	var help string
	switch m.focused {
	case FocusInput:
		help = "Enter: send • Tab: switch focus • /help: commands • Ctrl+C: quit"
	case FocusTranscript:
		help = "j/k: scroll • PgUp/PgDn: fast scroll • Home/End: top/bottom • Tab: switch focus"
	case FocusPeers:
		help = "Tab: switch focus • Enter: focus input • Ctrl+C: quit"
	default:
		help = "Tab: switch focus • Enter: send • Ctrl+C: quit"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(help)
}
