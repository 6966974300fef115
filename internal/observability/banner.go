package observability

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
)

const banner = `
    ____  ____  ______________    _____________
   / __ )/ __ \/_  __/ ____/ /   / ____/ ____/_  __/
  / __  / / / / / / / /_  / /   / __/ / __/   / /
 / /_/ / /_/ / / / / __/ / /___/ /___/ /___  / /
/_____/\____/ /_/ /_/   /_____/_____/_____/ /_/

        >> TASKS . BOTS . REPORTS <<
`

// TermWidth returns the width of stdout, or 80 when stdout is not a terminal.
func TermWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// PrintBanner writes the banner centred to width. Colour codes are only
// emitted when color is true.
func PrintBanner(w io.Writer, width int, color bool) {
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		if color {
			fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
			continue
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", padding), l)
	}
}
