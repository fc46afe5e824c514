package inventory

import (
	"fmt"
	"strings"
	"unicode"
)

// Classification describes where a plugin's artifact lives.
type Classification int

const (
	// LocalOnly means the plugin exists on this machine but not the device.
	LocalOnly Classification = iota
	// Synced means the plugin exists on both sides.
	Synced
	// DeviceOnly means the plugin only exists on the device.
	DeviceOnly
)

func (c Classification) String() string {
	switch c {
	case Synced:
		return "synced"
	case DeviceOnly:
		return "device-only"
	default:
		return "local-only"
	}
}

// Entity is one logical installable plugin, merged from the local and device
// scans. Entities are value types; snapshots handed out by the manager are
// copies and mutating them affects nothing.
type Entity struct {
	Name       string
	LocalPath  string
	LocalSize  int64
	RemotePath string
	RemoteSize int64
}

// Classification is derived from the two presence flags, never stored.
func (e Entity) Classification() Classification {
	switch {
	case e.LocalPath != "" && e.RemotePath != "":
		return Synced
	case e.RemotePath != "":
		return DeviceOnly
	default:
		return LocalOnly
	}
}

// DisplayName renders the name for humans: underscores become spaces and
// each word is capitalized (now_playing -> Now Playing).
func (e Entity) DisplayName() string {
	var b strings.Builder
	capitalizeNext := true
	for _, r := range e.Name {
		switch {
		case r == '_':
			b.WriteRune(' ')
			capitalizeNext = true
		case capitalizeNext && unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
			capitalizeNext = false
		default:
			b.WriteRune(r)
			capitalizeNext = false
		}
	}
	return b.String()
}

// FormatSize renders a byte count the way the browser shows it.
func FormatSize(bytes int64) string {
	switch {
	case bytes < 0:
		return "Unknown"
	case bytes < 1024:
		return fmt.Sprintf("%d B", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}
