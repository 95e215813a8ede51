// Package lock implements the single-instance guard spec §6 requires of
// every pipeline binary: each stage must refuse to run if another
// instance of itself is already running.
//
// Grounded on original_source/utils/src/lib.rs's check_no_concurrent_processes
// (shells out to `pidof`, compares against the running process's own pid).
package lock

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is the error EnsureSingleInstance returns when other
// instances of the named process are found.
type ErrAlreadyRunning struct {
	Name string
	PIDs []int
}

func (e *ErrAlreadyRunning) Error() string {
	parts := make([]string, len(e.PIDs))
	for i, pid := range e.PIDs {
		parts[i] = strconv.Itoa(pid)
	}
	return fmt.Sprintf("lock: %s is already running with pid(s): %s", e.Name, strings.Join(parts, " "))
}

// EnsureSingleInstance shells out to `pidof name` and returns
// *ErrAlreadyRunning if any pid other than the calling process's own is
// found. name should match the binary's own executable name (e.g.
// "changefollower"), matching how pidof is invoked in the original.
func EnsureSingleInstance(name string) error {
	myPID := os.Getpid()

	out, err := exec.Command("pidof", name).Output()
	if err != nil {
		// pidof exits non-zero (with empty stdout) when no process matches;
		// that's the common, non-error case.
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) == 0 {
			return nil
		}
		return fmt.Errorf("lock: failed to run pidof %s: %w", name, err)
	}

	var others []int
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		if pid != myPID {
			others = append(others, pid)
		}
	}
	if len(others) > 0 {
		return &ErrAlreadyRunning{Name: name, PIDs: others}
	}
	return nil
}
