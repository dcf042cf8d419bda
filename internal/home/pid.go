package home

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by ClaimPid when a live server owns the pid file.
var ErrAlreadyRunning = errors.New("server already running")

// ClaimPid records this process in the home's pid file. A stale file left
// by a dead process is replaced. The returned func removes the file.
func (d *Dir) ClaimPid() (func(), error) {
	path := d.PidPath()
	if pid, err := readPid(path); err == nil && pid != os.Getpid() && processAlive(pid) {
		return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return func() { _ = os.Remove(path) }, nil
}

// RunningPid returns the pid of a live server using this home, or 0.
func (d *Dir) RunningPid() int {
	pid, err := readPid(d.PidPath())
	if err != nil || !processAlive(pid) {
		return 0
	}
	return pid
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file contents: %w", err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks for existence without delivering anything. EPERM
	// means the process exists but belongs to someone else.
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
