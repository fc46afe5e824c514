package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"

	"plugsync/cmd"
	"plugsync/internal/events"
	"plugsync/internal/util"
)

func main() {
	// Ensure .plugsync/logs directory exists for logging
	if err := os.MkdirAll(".plugsync/logs", 0755); err != nil {
		log.Fatalf("failed to create .plugsync/logs directory: %v", err)
	}

	f, err := os.OpenFile(".plugsync/logs/plugsync.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("failed to open log file: %v", err)
	}
	defer f.Close()

	// Diagnostics go to the file; the terminal belongs to prompts and the
	// progress view.
	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Capture original terminal state (if stdin is a TTY) so we can restore on forced exit.
	var origState *term.State
	if fi, _ := os.Stdin.Stat(); (fi.Mode() & os.ModeCharDevice) != 0 {
		if st, err := term.GetState(int(os.Stdin.Fd())); err == nil {
			origState = st
		}
	}

	forceExit := func(code int) {
		if origState != nil {
			_ = term.Restore(int(os.Stdin.Fd()), origState)
		}
		os.Exit(code)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	done := make(chan struct{})
	shutdown := make(chan struct{})
	var shutdownOnce sync.Once

	requestShutdown := func(reason string) {
		log.Printf("shutdown requested: %s", reason)
		cancel()
		shutdownOnce.Do(func() { close(shutdown) })
	}

	// Components can request shutdown through the bus; ctrl+c does the same.
	_ = events.GlobalBus.Subscribe(events.EventShutdownRequested, requestShutdown)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		requestShutdown("signal")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cmd.ExecuteContext(ctx)
		close(done)
	}()

waitLoop:
	for {
		select {
		case <-shutdown:
			select {
			case <-done:
				log.Println("command exited cleanly after shutdown request")
				break waitLoop
			case <-time.After(5 * time.Second):
				log.Println("timeout waiting for command after shutdown request, forcing exit")
				forceExit(1)
			}
		case <-done:
			util.Default.ClearLine()
			break waitLoop
		}
	}

	wg.Wait()

	events.GlobalBus.Publish(events.EventShutdownComplete)

	if origState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), origState)
	}
}
