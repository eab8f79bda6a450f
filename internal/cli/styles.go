package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/randalmurphal/triage/internal/logging"
)

var (
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	plainStyle = lipgloss.NewStyle()
)

// styled returns s when w is a terminal, otherwise an unstyled renderer so
// piped output stays plain.
func styled(w io.Writer, s lipgloss.Style) lipgloss.Style {
	if !logging.IsTerminal(w) {
		return plainStyle
	}
	return s
}

func labelFor(w io.Writer) lipgloss.Style { return styled(w, labelStyle) }
func dim(w io.Writer) lipgloss.Style      { return styled(w, dimStyle) }
func okFor(w io.Writer) lipgloss.Style    { return styled(w, okStyle) }
func warnFor(w io.Writer) lipgloss.Style  { return styled(w, warnStyle) }
func errorStyle(w io.Writer) lipgloss.Style {
	return styled(w, errStyle)
}
