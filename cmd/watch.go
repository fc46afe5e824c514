package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"plugsync/internal/events"
	"plugsync/internal/plugman"
	"plugsync/internal/util"
	"plugsync/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the local plugin directory and refresh automatically",
	Long: `Keeps the inventory in sync while you rebuild plugins: whenever an
artifact in the local plugin directory changes, the inventory is rescanned
and the result printed.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		mgr, cfg, err := buildManager()
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}
		defer mgr.Shutdown()

		if err := mgr.Refresh(); err != nil {
			fmt.Printf("❌ Refresh failed: %v\n", err)
			return
		}
		printSummary(mgr)

		w := watcher.New(cfg.LocalPath, cfg.Suffix)
		if err := w.Start(); err != nil {
			fmt.Printf("❌ Cannot watch %s: %v\n", cfg.LocalPath, err)
			return
		}
		defer w.Stop()

		refreshReq := make(chan struct{}, 1)
		onRefresh := func() {
			select {
			case refreshReq <- struct{}{}:
			default:
			}
		}
		_ = events.GlobalBus.Subscribe(events.EventRefreshRequested, onRefresh)
		defer func() {
			_ = events.GlobalBus.Unsubscribe(events.EventRefreshRequested, onRefresh)
		}()

		util.Default.Printf("👀 Watching %s (ctrl+c to stop)\n", cfg.LocalPath)

		for {
			select {
			case <-ctx.Done():
				return
			case <-refreshReq:
				if mgr.IsBusy() {
					continue
				}
				if err := mgr.Refresh(); err != nil {
					util.Default.Printf("⚠️  Refresh failed: %v\n", err)
					continue
				}
				printSummary(mgr)
			}
		}
	},
}

func printSummary(mgr *plugman.Manager) {
	entities := mgr.Inventory()
	util.Default.Printf("📦 %d plugins (%s)\n", len(entities), mgr.ChannelStatus())
	for _, e := range entities {
		util.Default.Printf("   %-20s %s\n", e.Name, e.Classification())
	}
}
