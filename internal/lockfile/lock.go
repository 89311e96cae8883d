// Package lockfile guards a migration run with an exclusive file lock so two
// processes never migrate into the same project at once.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("migration lock already held by another process")

// Info is written into the lock file by the holder.
type Info struct {
	PID       int       `json:"pid"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
}

// HeldError reports who holds the lock. It wraps ErrLocked.
type HeldError struct {
	Path string
	Info *Info // nil if the holder's info could not be read
}

func (e *HeldError) Error() string {
	if e.Info == nil {
		return fmt.Sprintf("%v (%s)", ErrLocked, e.Path)
	}
	return fmt.Sprintf("%v: pid %d migrating %s since %s (%s)",
		ErrLocked, e.Info.PID, e.Info.Target, e.Info.StartedAt.Local().Format(time.DateTime), e.Path)
}

func (e *HeldError) Unwrap() error { return ErrLocked }

// Lock is a held migration lock.
type Lock struct {
	f    *os.File
	path string
}

// Acquire takes the lock at path without blocking and records target in it.
func Acquire(path, target string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			info, _ := ReadInfo(path)
			return nil, &HeldError{Path: path, Info: info}
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	data, err := json.Marshal(Info{PID: os.Getpid(), Target: target, StartedAt: time.Now().UTC()})
	if err == nil {
		if err = f.Truncate(0); err == nil {
			_, err = f.WriteAt(data, 0)
		}
	}
	if err != nil {
		_ = funlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("writing lock info: %w", err)
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock and removes the file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = l.f.Truncate(0)
	err := funlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	_ = os.Remove(l.path)
	return err
}

// ReadInfo reads the holder info from a lock file.
func ReadInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("invalid lock file %s: %w", path, err)
	}
	return &info, nil
}
