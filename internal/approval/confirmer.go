package approval

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/halvard/caseward/internal/apperr"
)

// Confirmer is the human-confirmation channel. The production implementation
// reads the controlling terminal directly, so piped stdin cannot satisfy it;
// tests substitute a scripted implementation.
type Confirmer interface {
	// Confirm asks a yes/no question. Only an explicit "y" confirms.
	Confirm(prompt string) (bool, error)
	// ReadLine reads one line of visible input.
	ReadLine(prompt string) (string, error)
	// ReadSecret reads one line with echo suppressed (masked with '*').
	ReadSecret(prompt string) (string, error)
}

// TTY implements Confirmer against /dev/tty. It is separate from stdin: an
// automation layer driving the process through a pipe cannot answer it. When
// no controlling terminal exists the operation fails closed with ErrAuth.
type TTY struct{}

func openTTY() (*os.File, error) {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: no controlling terminal, cannot confirm interactively", apperr.ErrAuth)
	}
	return f, nil
}

// Confirm implements Confirmer.
func (TTY) Confirm(prompt string) (bool, error) {
	line, err := (TTY{}).ReadLine(prompt)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}

// ReadLine implements Confirmer.
func (TTY) ReadLine(prompt string) (string, error) {
	tty, err := openTTY()
	if err != nil {
		return "", err
	}
	defer tty.Close()

	fmt.Fprint(os.Stderr, prompt)
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := tty.Read(buf)
		if n == 0 || err != nil {
			break
		}
		if buf[0] == '\n' || buf[0] == '\r' {
			break
		}
		line = append(line, buf[0])
	}
	return strings.TrimSpace(string(line)), nil
}

// ReadSecret implements Confirmer. The terminal is switched to raw mode so
// each keystroke can be masked; echo never reaches the screen.
func (TTY) ReadSecret(prompt string) (string, error) {
	tty, err := openTTY()
	if err != nil {
		return "", err
	}
	defer tty.Close()

	fd := int(tty.Fd())
	old, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return "", fmt.Errorf("%w: terminal mode: %v", apperr.ErrAuth, err)
	}
	raw := *old
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG
	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return "", fmt.Errorf("%w: terminal mode: %v", apperr.ErrAuth, err)
	}
	defer func() {
		_ = unix.IoctlSetTermios(fd, unix.TCSETS, old)
		fmt.Fprintln(os.Stderr)
	}()

	fmt.Fprint(os.Stderr, prompt)
	var secret []byte
	buf := make([]byte, 1)
	for {
		n, readErr := tty.Read(buf)
		if n == 0 || readErr != nil {
			break
		}
		c := buf[0]
		switch {
		case c == '\n' || c == '\r':
			return string(secret), nil
		case c == 0x7f || c == 0x08: // backspace
			if len(secret) > 0 {
				secret = secret[:len(secret)-1]
				fmt.Fprint(os.Stderr, "\b \b")
			}
		case c == 0x03: // Ctrl-C
			return "", fmt.Errorf("%w: cancelled", apperr.ErrAuth)
		case c >= ' ':
			secret = append(secret, c)
			fmt.Fprint(os.Stderr, "*")
		}
	}
	return string(secret), nil
}
