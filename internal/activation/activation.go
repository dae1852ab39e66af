// Package activation detects systemd socket activation for the webhook
// server, so serve mode can run as a socket-activated user unit instead
// of binding its own port.
package activation

import (
	"fmt"
	"net"
	"os"
	"strconv"
)

// Systemd passes activated sockets starting at fd 3
// (0=stdin, 1=stdout, 2=stderr).
const firstFD = 3

// Listener returns the systemd-activated listener, or nil when the
// process was not socket-activated. The webhook server binds a single
// socket; more than one activated fd is a unit misconfiguration and
// reported as an error.
func Listener() (net.Listener, error) {
	numFDs, err := activatedFDs()
	if err != nil {
		return nil, err
	}
	if numFDs == 0 {
		return nil, nil
	}
	if numFDs > 1 {
		return nil, fmt.Errorf("expected a single activated socket, got %d", numFDs)
	}

	file := os.NewFile(uintptr(firstFD), "systemd-socket")
	if file == nil {
		return nil, fmt.Errorf("failed to open activated fd %d", firstFD)
	}
	defer func() {
		// The listener duplicates the descriptor and takes ownership.
		_ = file.Close()
	}()

	ln, err := net.FileListener(file)
	if err != nil {
		return nil, fmt.Errorf("failed to create listener from fd %d: %w", firstFD, err)
	}

	clearEnv()
	return ln, nil
}

// activatedFDs parses the socket activation environment. It returns 0
// when activation is absent or addressed to a different process.
func activatedFDs() (int, error) {
	pidStr := os.Getenv("LISTEN_PID")
	if pidStr == "" {
		return 0, nil
	}
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_PID %q: %w", pidStr, err)
	}
	if pid != os.Getpid() {
		return 0, nil
	}

	fdsStr := os.Getenv("LISTEN_FDS")
	if fdsStr == "" {
		return 0, nil
	}
	numFDs, err := strconv.Atoi(fdsStr)
	if err != nil {
		return 0, fmt.Errorf("invalid LISTEN_FDS %q: %w", fdsStr, err)
	}
	if numFDs < 0 {
		return 0, fmt.Errorf("invalid LISTEN_FDS %d", numFDs)
	}
	return numFDs, nil
}

// clearEnv unsets the activation variables so child processes (git, in
// particular) do not inherit them.
func clearEnv() {
	_ = os.Unsetenv("LISTEN_PID")
	_ = os.Unsetenv("LISTEN_FDS")
	_ = os.Unsetenv("LISTEN_FDNAMES")
}
