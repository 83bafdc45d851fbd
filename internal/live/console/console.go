// Package console reads the terminal front-end's stdin commands.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xpanvictor/cortado/pkg/Logger"
)

// Controls is what a command line can act on.
type Controls interface {
	Ask(text string) error
	Cancel()
	SetPythonAnalysis(enabled bool)
	ToggleMic(ctx context.Context) (bool, error)
	SetVolume(percent int)
}

const Help = `commands:
  <text>            ask a question
  /mic              start or stop the microphone
  /cancel           cancel the running analytics request
  /python on|off    toggle python analysis for analytics requests
  /volume N         set playback volume (0-100)
  /quit             leave`

// Run dispatches lines from r until /quit, EOF or ctx ends.
func Run(ctx context.Context, r io.Reader, out io.Writer, c Controls, logger *Logger.Logger) error {
	log := Logger.OrNop(logger).Named("console")
	lines := make(chan string)
	errc := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			return err
		case line := <-lines:
			quit, err := Dispatch(ctx, line, out, c)
			if err != nil {
				log.Warnf("%q: %v", line, err)
				fmt.Fprintf(out, "! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// Dispatch runs a single command line. It reports whether the user asked to quit.
func Dispatch(ctx context.Context, line string, out io.Writer, c Controls) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.Ask(line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(out, Help)
	case "/cancel":
		c.Cancel()
	case "/mic":
		on, err := c.ToggleMic(ctx)
		if err != nil {
			return false, fmt.Errorf("microphone: %w", err)
		}
		if on {
			fmt.Fprintln(out, "microphone on")
		} else {
			fmt.Fprintln(out, "microphone off")
		}
	case "/python":
		if len(fields) != 2 || (fields[1] != "on" && fields[1] != "off") {
			return false, fmt.Errorf("usage: /python on|off")
		}
		c.SetPythonAnalysis(fields[1] == "on")
	case "/volume":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /volume N")
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 || n > 100 {
			return false, fmt.Errorf("volume must be an integer within 0..100")
		}
		c.SetVolume(n)
	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
	return false, nil
}
