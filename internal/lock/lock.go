package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotHeld is returned by Inspect when no daemon holds the session.
var ErrNotHeld = errors.New("session lock not held")

// LockHeldError is returned when another daemon holds the session lock.
type LockHeldError struct {
	Holder Holder
	Path   string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session lock held by PID %d as %q (%s)", e.Holder.PID, e.Holder.User, e.Path)
}

// Holder describes the daemon owning a session, as written to the lock file.
type Holder struct {
	PID     int
	User    string
	Socket  string
	Started time.Time
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on sessionDir for the daemon described by
// h. PID and Started are filled in when zero. Returns LockHeldError if
// another process already holds it.
func Acquire(sessionDir string, h Holder) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, "LOCK")

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		_ = f.Close()
		return nil, &LockHeldError{Holder: parse(string(data)), Path: lockPath}
	}

	if h.PID == 0 {
		h.PID = os.Getpid()
	}
	if h.Started.IsZero() {
		h.Started = time.Now().UTC()
	}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteString(format(h)); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Inspect reports the daemon holding sessionDir without taking the lock.
// A leftover file whose lock is free yields ErrNotHeld.
func Inspect(sessionDir string) (Holder, error) {
	lockPath := filepath.Join(sessionDir, "LOCK")
	f, err := os.Open(lockPath)
	if os.IsNotExist(err) {
		return Holder{}, ErrNotHeld
	}
	if err != nil {
		return Holder{}, err
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Holder{}, ErrNotHeld
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}, err
	}
	return parse(string(data)), nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func format(h Holder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", h.PID)
	fmt.Fprintf(&b, "time=%s\n", h.Started.Format(time.RFC3339))
	if h.User != "" {
		fmt.Fprintf(&b, "user=%s\n", h.User)
	}
	if h.Socket != "" {
		fmt.Fprintf(&b, "socket=%s\n", h.Socket)
	}
	return b.String()
}

func parse(content string) Holder {
	var h Holder
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(val)
		case "time":
			h.Started, _ = time.Parse(time.RFC3339, val)
		case "user":
			h.User = val
		case "socket":
			h.Socket = val
		}
	}
	return h
}
