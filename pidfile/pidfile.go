// Package pidfile creates the balancer's PID lock file: an exclusive
// advisory write lock on byte 0 guarantees a single running instance, and
// the file body tells an operator which pid holds it.
package pidfile

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/pkg/errors"
)

// File is a held PID lock. The lock lives for the lifetime of the open
// descriptor; Close releases it and removes the file.
type File struct {
	path string
	f    *os.File
}

// Acquire opens (creating if needed) the pid file at path, takes a
// non-blocking exclusive lock on byte 0 and writes the current pid. It
// fails when another process holds the lock.
func Acquire(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open pid file %v", path)
	}
	lock := syscall.Flock_t{
		Type:   syscall.F_WRLCK,
		Whence: io.SeekStart,
		Start:  0,
		Len:    1,
	}
	if err := syscall.FcntlFlock(f.Fd(), syscall.F_SETLK, &lock); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "pid file %v is locked by another instance", path)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to truncate pid file %v", path)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "failed to write pid file %v", path)
	}
	return &File{path: path, f: f}, nil
}

// Close releases the lock and removes the file.
func (p *File) Close() error {
	if err := p.f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close pid file %v", p.path)
	}
	return os.Remove(p.path)
}

// Path returns the location of the pid file.
func (p *File) Path() string {
	return p.path
}
