// Package prompt implements discovery prompts on a terminal.
package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"snapshot-service/client/discover"

	"golang.org/x/term"
)

// Terminal numbered-menu prompter over an input and output stream
type Terminal struct {
	in  *bufio.Reader
	out io.Writer
	fd  int // terminal fd for hidden input, -1 when not a terminal
}

// NewTerminal create a prompter reading stdin and writing to out
func NewTerminal(out io.Writer) *Terminal {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fd = -1
	}
	return &Terminal{in: bufio.NewReader(os.Stdin), out: out, fd: fd}
}

// New create a prompter over arbitrary streams; hidden input is read as plain lines
func New(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: bufio.NewReader(in), out: out, fd: -1}
}

// IsInteractive reports whether stdin is a terminal
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// SelectOutput numbered choice among several build outputs; empty or "q" cancels
func (t *Terminal) SelectOutput(root string, candidates []string) (string, bool, error) {
	fmt.Fprintln(t.out, "Several build outputs were found:")
	for i, c := range candidates {
		fmt.Fprintf(t.out, "  %d) %s\n", i+1, discover.RelativeTo(root, c))
	}
	for {
		fmt.Fprintf(t.out, "Select 1-%d (q to cancel): ", len(candidates))
		line, err := t.readLine()
		if err == io.EOF {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		if line == "" || strings.EqualFold(line, "q") {
			return "", false, nil
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(candidates) {
			return candidates[n-1], true, nil
		}
		fmt.Fprintln(t.out, "Invalid selection.")
	}
}

// ChooseDirectory free-form directory entry; empty cancels
func (t *Terminal) ChooseDirectory(root string) (string, bool, error) {
	fmt.Fprintf(t.out, "No build output found in %s.\nEnter the output directory (empty to cancel): ", root)
	line, err := t.readLine()
	if err == io.EOF {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if line == "" {
		return "", false, nil
	}
	return line, true, nil
}

// ConfirmMissingMarker ask whether to publish a directory without index.html
func (t *Terminal) ConfirmMissingMarker(dir string) (discover.MissingMarkerChoice, error) {
	fmt.Fprintf(t.out, "%s has no %s; visitors will not get a landing page.\n", dir, discover.MarkerFile)
	fmt.Fprint(t.out, "[p]roceed, [r]eselect or [c]ancel? ")
	line, err := t.readLine()
	if err == io.EOF {
		return discover.ChoiceCancel, nil
	}
	if err != nil {
		return discover.ChoiceCancel, err
	}
	switch strings.ToLower(line) {
	case "p", "proceed", "y", "yes":
		return discover.ChoiceProceed, nil
	case "r", "reselect":
		return discover.ChoiceReselect, nil
	default:
		return discover.ChoiceCancel, nil
	}
}

// Password read an access secret without echo when attached to a terminal
func (t *Terminal) Password(label string) (string, error) {
	fmt.Fprint(t.out, label)
	if t.fd < 0 {
		return t.readLine()
	}
	b, err := term.ReadPassword(t.fd)
	fmt.Fprintln(t.out)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
