package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

// Listing colors, VS Code dark derived.
const (
	Foreground = "#D4D4D4"
	Address    = "#858585"
	Heading    = "#569CD6"
	InlineCode = "#EACD53"
	Selection  = "#264F78"
)

// Candidate decision colors.
var (
	Predicted = charmtone.Guac.Hex()
	Rejected  = charmtone.Squid.Hex()
	Truth     = charmtone.Malibu.Hex()
	Missed    = charmtone.Coral.Hex()
)

// TUI styles.
var (
	AddressStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color(Address))
	PredictedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(Predicted)).Bold(true)
	RejectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(Rejected))
	MissedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color(Missed))
	TitleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(charmtone.Zest.Hex())).
			Background(lipgloss.Color(charmtone.Charple.Hex())).Bold(true).Padding(0, 1)
	SelectedStyle = lipgloss.NewStyle().Background(lipgloss.Color(Selection))
	HelpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color(Address))
)
