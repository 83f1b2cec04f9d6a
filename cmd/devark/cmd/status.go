package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thebtf/devark/internal/installer"
	"github.com/thebtf/devark/internal/worker"
	"github.com/thebtf/devark/pkg/hooks"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show installed hooks and daemon state",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		inst, err := installer.New("", installBinDir)
		if err != nil {
			return err
		}
		printHookStatus(out, inst)
		printDaemonStatus(out, cfg.WorkerPort)
		return nil
	},
}

func printHookStatus(out io.Writer, inst *installer.Installer) {
	for _, tool := range []installer.Tool{installer.ToolCursor, installer.ToolClaudeCode} {
		installed, err := inst.Status(tool)
		switch {
		case err != nil:
			fmt.Fprintf(out, "%-12s error: %v\n", tool, err)
		case len(installed) == 0:
			fmt.Fprintf(out, "%-12s not installed\n", tool)
		default:
			fmt.Fprintf(out, "%-12s %s\n", tool, strings.Join(installed, ", "))
		}
	}
}

func printDaemonStatus(out io.Writer, port int) {
	if !hooks.IsWorkerRunning(port) {
		fmt.Fprintf(out, "%-12s not running (port %d)\n", "daemon", port)
		return
	}
	var st worker.Stats
	if err := hooks.GetJSON(port, "/api/stats", 2*time.Second, &st); err != nil {
		fmt.Fprintf(out, "%-12s running, stats unavailable: %v\n", "daemon", err)
		return
	}
	fmt.Fprintf(out, "%-12s running %s on port %d, up %s\n", "daemon", st.Version, port, st.Uptime)
	fmt.Fprintf(out, "%-12s %s\n", "provider", st.Provider)
	fmt.Fprintf(out, "%-12s %s (%d processed)\n", "hook dir", st.HookDir, st.Processed)
	if st.ActiveSession != nil {
		fmt.Fprintf(out, "%-12s %s (%s, %d prompts)\n", "session", st.ActiveSession.ID, st.ActiveSession.Platform, st.ActiveSession.PromptCount)
	}
	if st.LastScore != nil {
		fmt.Fprintf(out, "%-12s %.1f\n", "last score", *st.LastScore)
	}
	if st.LastSync != nil {
		fmt.Fprintf(out, "%-12s %d uploaded, success=%t\n", "last sync", st.LastSync.SessionsUploaded, st.LastSync.Success)
	}
}
