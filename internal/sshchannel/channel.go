package sshchannel

import (
	"context"
	"strings"
)

// Status is the cached connectivity state of the device. It only reflects
// the last check; nobody should assume freshness beyond that.
type Status int

const (
	StatusUnknown Status = iota
	StatusChecking
	StatusConnected
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ProgressFunc receives transfer progress as a fraction in [0,1] plus a
// short human-readable message.
type ProgressFunc func(fraction float64, message string)

// Channel is the remote-execution contract the rest of the application
// consumes. Commands are serialized one at a time per channel instance.
type Channel interface {
	// CheckConnection probes the device and updates the cached status.
	CheckConnection()
	// Status returns the cached connectivity state.
	Status() Status
	// Execute runs a shell command on the device and returns its combined
	// output and exit code. err is non-nil only for transport failures.
	Execute(cmd string) (output string, exitCode int, err error)
	// ListDirectory returns the entries of a device directory, one path per
	// element. A missing directory yields an empty list, not an error.
	ListDirectory(path string) ([]string, error)
	// CopyToDevice uploads a local file to a device path, reporting progress.
	// Cancelling ctx aborts the transfer.
	CopyToDevice(ctx context.Context, localPath, remotePath string, onProgress ProgressFunc) error
	// DeleteFile removes a file on the device.
	DeleteFile(path string) error
	// StatSize returns the size of a device file; err is non-nil when the
	// file does not exist.
	StatSize(path string) (int64, error)
	// FileExists reports whether a device path exists as a regular file.
	FileExists(path string) (bool, error)
	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// QuotePath single-quotes a path for use inside a remote shell command.
func QuotePath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
