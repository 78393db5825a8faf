package util

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
)

var (
	spinnerPicture    = spinner.CharSets[9]
	spinnerUpdateTime = 100 * time.Millisecond
)

// RunWithSpinner runs action while a spinner with the prefix is shown.
// The spinner is shown only when stdout is a terminal.
func RunWithSpinner(prefix string, action func() error) error {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return action()
	}

	s := spinner.New(spinnerPicture, spinnerUpdateTime)
	if prefix != "" {
		s.Prefix = fmt.Sprintf("%s ", strings.TrimSpace(prefix))
	}
	s.Start()
	defer s.Stop()

	return action()
}
