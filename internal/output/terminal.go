package output

import (
	"os"

	"github.com/mattn/go-isatty"
)

// checkIsTerminal reports a terminal or a Cygwin/MSYS pty.
func checkIsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
