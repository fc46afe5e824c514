package util

import (
	"fmt"
	"sync"
)

// SafePrinter serializes terminal output across goroutines so status lines
// from the worker don't interleave with interactive prompts.
type SafePrinter struct {
	mu        sync.Mutex
	suspended bool
}

// Default is the shared printer used across the application.
var Default = &SafePrinter{}

func (s *SafePrinter) Printf(format string, a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Printf(format, a...)
}

func (s *SafePrinter) Println(a ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Println(a...)
}

// ClearLine clears the current line and returns the cursor to the start.
func (s *SafePrinter) ClearLine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.suspended {
		return
	}
	fmt.Print("\r\x1b[K")
}

// Suspend silences printing while an interactive prompt or the progress
// view owns the terminal. Resume re-enables it.
func (s *SafePrinter) Suspend() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = true
}

func (s *SafePrinter) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suspended = false
}
