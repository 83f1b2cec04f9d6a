// Package main is the end-of-turn hook. For Claude Code the final assistant
// turn is recovered from the session transcript.
package main

import (
	"fmt"
	"os"

	"github.com/thebtf/devark/pkg/hooks"
	"github.com/thebtf/devark/pkg/models"
)

func main() {
	hooks.RunHook("stop", func(ctx *hooks.HookContext, input *hooks.Input) error {
		// Claude re-enters Stop while a stop hook keeps the turn alive; the turn is recorded once.
		if input.StopHookActive {
			return nil
		}
		source := input.Source(os.Args[1:])
		rec := input.ResponseRecord(source, true)

		if source == models.SourceClaudeCode && input.TranscriptPath != "" {
			turn, err := hooks.ParseTranscriptFile(input.TranscriptPath)
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			rec.Response = turn.Text
			rec.ToolCalls = turn.ToolCalls
			rec.ToolResults = turn.ToolResults
			rec.FilesModified = turn.FilesModified
			if rec.Reason == "" {
				rec.Reason = models.ReasonCompleted
			}
		}

		_, err := hooks.WriteResponseRecord(ctx.DropDir, rec)
		return err
	})
}
