package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"plugsync/internal/history"
	"plugsync/internal/inventory"
	"plugsync/internal/plugman"
	"plugsync/internal/tui"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local and device plugins",
	Run: func(cmd *cobra.Command, args []string) {
		mgr, _, err := buildManager()
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}
		defer mgr.Shutdown()

		if err := mgr.Refresh(); err != nil {
			fmt.Printf("❌ Refresh failed: %v\n", err)
			return
		}

		entities := mgr.Inventory()
		if len(entities) == 0 {
			fmt.Println("No plugins found locally or on the device")
			return
		}

		fmt.Printf("%-20s %-12s %-10s %-10s\n", "NAME", "STATUS", "LOCAL", "DEVICE")
		for _, e := range entities {
			fmt.Printf("%-20s %-12s %-10s %-10s\n",
				e.Name, e.Classification(),
				sizeOrDash(e.LocalPath, e.LocalSize),
				sizeOrDash(e.RemotePath, e.RemoteSize))
		}
	},
}

var installCmd = &cobra.Command{
	Use:   "install NAME",
	Short: "Install a plugin to the device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mgr, _, err := buildManager()
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}
		defer mgr.Shutdown()

		if err := mgr.Refresh(); err != nil {
			fmt.Printf("❌ Refresh failed: %v\n", err)
			return
		}

		runTrackedOperation(mgr, args[0], mgr.Install)
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall NAME",
	Short: "Uninstall a plugin from the device",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mgr, _, err := buildManager()
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}
		defer mgr.Shutdown()

		if err := mgr.Refresh(); err != nil {
			fmt.Printf("❌ Refresh failed: %v\n", err)
			return
		}

		runTrackedOperation(mgr, args[0], mgr.Uninstall)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show device connectivity and inventory summary",
	Run: func(cmd *cobra.Command, args []string) {
		mgr, _, err := buildManager()
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}
		defer mgr.Shutdown()

		if err := mgr.Refresh(); err != nil {
			fmt.Printf("❌ Refresh failed: %v\n", err)
			return
		}

		var local, synced, device int
		for _, e := range mgr.Inventory() {
			switch e.Classification() {
			case inventory.LocalOnly:
				local++
			case inventory.Synced:
				synced++
			case inventory.DeviceOnly:
				device++
			}
		}

		state := mgr.OpState()
		fmt.Printf("Device:   %s\n", connectivityLabel(mgr))
		fmt.Printf("Plugins:  %d synced, %d local-only, %d device-only\n", synced, local, device)
		fmt.Printf("Last op:  %s\n", state.Message)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent install/uninstall operations",
	Run: func(cmd *cobra.Command, args []string) {
		journal, err := history.Open(history.DefaultPath())
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}

		records, err := journal.Recent(20)
		if err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}
		if len(records) == 0 {
			fmt.Println("No recorded operations yet")
			return
		}

		for _, r := range records {
			mark := "✅"
			if !r.Success {
				mark = "❌"
			}
			fmt.Printf("%s %-9s %-20s %s (%s)\n",
				mark, r.Kind, r.Plugin,
				r.CreatedAt.Format("2006-01-02 15:04:05"),
				time.Duration(r.ElapsedMS)*time.Millisecond)
		}
	},
}

// runTrackedOperation starts an operation and watches it to completion.
// Guard rejections print immediately; accepted operations hand the
// terminal to the progress monitor.
func runTrackedOperation(mgr *plugman.Manager, name string, start func(string) error) {
	if err := start(name); err != nil {
		fmt.Printf("❌ %v\n", err)
		return
	}

	final, err := tui.WatchOperation(mgr)
	if err != nil {
		fmt.Printf("⚠️  Progress display failed: %v\n", err)
		final = waitForCompletion(mgr)
	}

	if final.Complete && final.Success {
		fmt.Printf("✅ %s\n", final.Message)
	} else if final.Complete {
		fmt.Printf("❌ %s\n", final.Message)
	}
}

// waitForCompletion polls until the workflow finishes; fallback for when
// the TUI cannot take over the terminal.
func waitForCompletion(mgr *plugman.Manager) plugman.OpState {
	for {
		state := mgr.OpState()
		if state.Complete {
			return state
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func connectivityLabel(mgr *plugman.Manager) string {
	if mgr.IsBusy() {
		return "busy"
	}
	return mgr.ChannelStatus().String()
}
