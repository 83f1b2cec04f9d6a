package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/thebtf/devark/internal/installer"
)

var (
	installHooks      []string
	installStatusLine bool
	installBinDir     string
)

var installCmd = &cobra.Command{
	Use:       "install [cursor|claude_code|all]",
	Short:     "Install devark hooks into Cursor and/or Claude Code",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"cursor", "claude_code", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstaller(cmd.OutOrStdout(), args, func(inst *installer.Installer, tool installer.Tool) installer.Result {
			res := inst.Install(tool, installHooks...)
			if res.Success && installStatusLine && tool == installer.ToolClaudeCode {
				sl := inst.InstallStatusLine()
				res.Errors = append(res.Errors, sl.Errors...)
				if sl.Success {
					res.Installed = append(res.Installed, "statusLine")
				}
			}
			return res
		})
	},
}

var uninstallCmd = &cobra.Command{
	Use:       "uninstall [cursor|claude_code|all]",
	Short:     "Remove devark hooks, keeping every other hook",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"cursor", "claude_code", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstaller(cmd.OutOrStdout(), args, func(inst *installer.Installer, tool installer.Tool) installer.Result {
			return inst.Uninstall(tool)
		})
	},
}

func init() {
	installCmd.Flags().StringSliceVar(&installHooks, "hooks", nil, "hook types to install (default: all for the tool)")
	installCmd.Flags().BoolVar(&installStatusLine, "statusline", false, "also install the Claude Code status line")
	for _, c := range []*cobra.Command{installCmd, uninstallCmd} {
		c.Flags().StringVar(&installBinDir, "bin-dir", "", "directory holding the devark binaries (default: this executable's directory)")
	}
}

// toolsFor expands the tool argument.
func toolsFor(args []string) ([]installer.Tool, error) {
	arg := "all"
	if len(args) > 0 {
		arg = strings.ToLower(args[0])
	}
	switch arg {
	case "all":
		return []installer.Tool{installer.ToolCursor, installer.ToolClaudeCode}, nil
	case "cursor":
		return []installer.Tool{installer.ToolCursor}, nil
	case "claude_code", "claude", "claude-code":
		return []installer.Tool{installer.ToolClaudeCode}, nil
	}
	return nil, fmt.Errorf("%w: %s", installer.ErrUnknownTool, arg)
}

func runInstaller(out io.Writer, args []string, apply func(*installer.Installer, installer.Tool) installer.Result) error {
	tools, err := toolsFor(args)
	if err != nil {
		return err
	}
	inst, err := installer.New("", installBinDir)
	if err != nil {
		return err
	}

	failed := false
	for _, tool := range tools {
		res := apply(inst, tool)
		printResult(out, res)
		if !res.Success {
			failed = true
		}
	}
	if failed {
		return errors.New("some hooks were not changed")
	}
	return nil
}

func printResult(out io.Writer, res installer.Result) {
	mark := "✓"
	if !res.Success {
		mark = "✗"
	}
	fmt.Fprintf(out, "%s %s (%s)\n", mark, res.Tool, res.Path)
	if len(res.Installed) > 0 {
		fmt.Fprintf(out, "  installed: %s\n", strings.Join(res.Installed, ", "))
	}
	if res.Removed > 0 {
		fmt.Fprintf(out, "  removed %d previous entries\n", res.Removed)
	}
	for _, e := range res.Errors {
		hook := e.Hook
		if hook == "" {
			hook = "config"
		}
		fmt.Fprintf(out, "  %s: %s\n", hook, e.Message)
	}
}
