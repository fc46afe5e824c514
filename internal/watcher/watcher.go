package watcher

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rjeczalik/notify"

	"plugsync/internal/events"
)

const debounceWindow = 500 * time.Millisecond

// Watcher watches the local plugin directory and asks for an inventory
// refresh when an artifact actually changes. Editors and build systems
// fire bursts of events, so changes are debounced and checked against a
// content fingerprint before anyone gets woken up.
type Watcher struct {
	dir       string
	suffix    string
	watchChan chan notify.EventInfo
	stopChan  chan struct{}
	lastPrint uint64
}

func New(dir, suffix string) *Watcher {
	return &Watcher{
		dir:       dir,
		suffix:    suffix,
		watchChan: make(chan notify.EventInfo, 100),
		stopChan:  make(chan struct{}),
	}
}

// Start begins watching. It returns after the watch is registered; events
// are handled on a background goroutine until Stop.
func (w *Watcher) Start() error {
	if err := notify.Watch(w.dir, w.watchChan, notify.All); err != nil {
		return err
	}

	w.lastPrint = Fingerprint(w.dir, w.suffix)

	go w.loop()
	events.GlobalBus.Publish(events.EventWatcherStarted, w.dir)
	return nil
}

// Stop ends the watch. Safe to call once.
func (w *Watcher) Stop() {
	notify.Stop(w.watchChan)
	close(w.stopChan)
	events.GlobalBus.Publish(events.EventWatcherStopped, w.dir)
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case ev := <-w.watchChan:
			if !strings.HasSuffix(ev.Path(), w.suffix) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			print := Fingerprint(w.dir, w.suffix)
			if print == w.lastPrint {
				continue
			}
			w.lastPrint = print
			log.Printf("watcher: local plugins changed, requesting refresh")
			events.GlobalBus.Publish(events.EventRefreshRequested)

		case <-w.stopChan:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// Fingerprint hashes every artifact in dir (name plus content) into one
// xxhash digest. Two identical directories produce the same value, so
// rename-then-rename-back storms are ignored cheaply.
func Fingerprint(dir, suffix string) uint64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}

	digest := xxhash.New()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		_, _ = digest.WriteString(entry.Name())
		f, err := os.Open(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		_, _ = io.Copy(digest, f)
		f.Close()
	}
	return digest.Sum64()
}
