package cmd

import (
	"context"
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"plugsync/internal/config"
	"plugsync/internal/history"
	"plugsync/internal/inventory"
	"plugsync/internal/plugman"
	"plugsync/internal/sshchannel"
)

var rootCmd = &cobra.Command{
	Use:   "plugsync",
	Short: "Car Thing plugin deployer",
	Long: `A CLI tool for managing plugins on a Car Thing device over SSH.
Scans the local build directory and the device, shows what is installed
where, and installs or uninstalls plugins with live progress.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if !config.ConfigExists() {
			fmt.Println("Config file not found")
			fmt.Println("USAGE:")
			fmt.Println("Make sure you have the config file by running.")
			fmt.Println("plugsync init")
			return
		}

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

		for {
			select {
			case <-ctx.Done():
				fmt.Println("⏹ Cancelled")
				return
			default:
			}
			if !showBrowserMenu(mgr) {
				return
			}
		}
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize config file",
	Long:  `Generate a default plugsync.yaml config file in the current directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := config.WriteDefaultConfig(); err != nil {
			fmt.Printf("❌ %v\n", err)
			return
		}
		fmt.Printf("✅ Wrote %s\n", config.GetConfigPath())
		fmt.Println("💡 Point localPath at your plugin build directory and set the device password")
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
}

// buildManager loads the config, opens the channel and wires the journal.
func buildManager() (*plugman.Manager, *config.Config, error) {
	cfg, err := config.LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}

	ch, err := sshchannel.NewClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot build SSH channel: %v", err)
	}

	mgr := plugman.NewManager(cfg, ch)

	if journal, err := history.Open(history.DefaultPath()); err != nil {
		fmt.Printf("⚠️  Operation journal unavailable: %v\n", err)
	} else {
		mgr.AttachRecorder(journal)
	}

	return mgr, cfg, nil
}

// showBrowserMenu shows the interactive plugin browser. Returns false when
// the user chose to exit.
func showBrowserMenu(mgr *plugman.Manager) bool {
	entities := mgr.Inventory()

	items := make([]string, 0, len(entities)+2)
	for _, e := range entities {
		items = append(items, fmt.Sprintf("%-24s %-12s local:%-10s device:%s",
			e.DisplayName(), e.Classification(),
			sizeOrDash(e.LocalPath, e.LocalSize),
			sizeOrDash(e.RemotePath, e.RemoteSize)))
	}
	items = append(items, "🔄 Refresh", "🚪 Exit")

	prompt := promptui.Select{
		Label: "Plugins",
		Items: items,
		Size:  12,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return false
	}

	switch idx {
	case len(entities): // refresh
		if err := mgr.Refresh(); err != nil {
			fmt.Printf("❌ Refresh failed: %v\n", err)
		}
		return true
	case len(entities) + 1: // exit
		return false
	}

	return showPluginActions(mgr, entities[idx])
}

func showPluginActions(mgr *plugman.Manager, e inventory.Entity) bool {
	actions := []string{"Install to device", "Uninstall from device", "Back"}
	prompt := promptui.Select{
		Label: e.DisplayName(),
		Items: actions,
	}
	idx, _, err := prompt.Run()
	if err != nil {
		return false
	}

	switch idx {
	case 0:
		runTrackedOperation(mgr, e.Name, mgr.Install)
	case 1:
		runTrackedOperation(mgr, e.Name, mgr.Uninstall)
	}
	return true
}

func sizeOrDash(path string, size int64) string {
	if path == "" {
		return "-"
	}
	return inventory.FormatSize(size)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under ctx so shutdown requests
// propagate into long-running commands.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
