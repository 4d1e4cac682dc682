package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Color palette: a single lime accent on grays.
const (
	ColorLime     = "154" // Primary accent (#AFFF00)
	ColorLimeDim  = "106" // Scores, secondary accent
	ColorWhite    = "255" // Headers, important text
	ColorGray     = "245" // Labels
	ColorDarkGray = "238" // Separators, dim text
	ColorRed      = "196" // Errors
	ColorYellow   = "220" // Warnings, highlights
)

// Styles holds the text styles used by Writer.
type Styles struct {
	Header    lipgloss.Style
	Rank      lipgloss.Style
	Score     lipgloss.Style
	Filename  lipgloss.Style
	Highlight lipgloss.Style
	Label     lipgloss.Style
	Dim       lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorWhite)),
		Rank:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorLime)),
		Score:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLimeDim)),
		Filename:  lipgloss.NewStyle().Bold(true),
		Highlight: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(ColorYellow)),
		Label:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorGray)),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color(ColorDarkGray)),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorLime)),
		Warning:   lipgloss.NewStyle().Foreground(lipgloss.Color(ColorYellow)),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color(ColorRed)),
	}
}

// NoColorStyles returns unstyled components for plain output.
func NoColorStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		Header:    plain,
		Rank:      plain,
		Score:     plain,
		Filename:  plain,
		Highlight: plain,
		Label:     plain,
		Dim:       plain,
		Success:   plain,
		Warning:   plain,
		Error:     plain,
	}
}

// GetStyles returns the appropriate styles based on color preference.
func GetStyles(noColor bool) Styles {
	if noColor {
		return NoColorStyles()
	}
	return DefaultStyles()
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if w == nil {
		return false
	}
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if the NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}
