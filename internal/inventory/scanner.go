package inventory

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"plugsync/internal/sshchannel"
)

// Item is one raw scan result before reconciliation.
type Item struct {
	Name string
	Path string
	Size int64
}

// ScanLocal lists dir for artifacts ending in suffix. An unreadable
// directory is reported as a diagnostic and yields an empty list; the
// caller still gets a usable (if local-empty) view.
//
// os.ReadDir returns entries sorted by name, so duplicate basenames resolve
// to the lexicographically last path deterministically.
func ScanLocal(dir, suffix string) []Item {
	if dir == "" {
		log.Printf("inventory: no local path configured")
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("inventory: cannot read local directory %s: %v", dir, err)
		return nil
	}

	var items []Item
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			log.Printf("inventory: cannot stat %s: %v", path, err)
			continue
		}
		items = append(items, Item{
			Name: strings.TrimSuffix(entry.Name(), suffix),
			Path: path,
			Size: info.Size(),
		})
	}
	return items
}

// ScanRemote lists the device plugin directory. Without a connected channel
// it returns immediately with an empty list; the channel is never touched.
// One extra round-trip per entry fetches the size, so scan latency grows
// with inventory size.
func ScanRemote(ch sshchannel.Channel, remoteDir, suffix string) []Item {
	if ch.Status() != sshchannel.StatusConnected {
		log.Printf("inventory: skipping remote scan (device not connected)")
		return nil
	}

	listing, err := ch.ListDirectory(remoteDir)
	if err != nil {
		log.Printf("inventory: remote listing failed: %v", err)
		return nil
	}

	var items []Item
	for _, entry := range listing {
		base := filepath.Base(entry)
		if !strings.HasSuffix(base, suffix) {
			continue
		}
		name := strings.TrimSuffix(base, suffix)
		remotePath := remoteDir + "/" + base

		size, err := ch.StatSize(remotePath)
		if err != nil {
			log.Printf("inventory: cannot stat remote %s: %v", remotePath, err)
			size = -1
		}
		items = append(items, Item{Name: name, Path: remotePath, Size: size})
	}
	return items
}
