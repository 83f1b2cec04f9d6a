// Package main is the prompt hook for Cursor (beforeSubmitPrompt) and Claude Code (UserPromptSubmit).
package main

import (
	"os"
	"strings"

	"github.com/thebtf/devark/pkg/hooks"
)

func main() {
	hooks.RunHook("prompt-submit", func(ctx *hooks.HookContext, input *hooks.Input) error {
		rec := input.PromptRecord(input.Source(os.Args[1:]))
		if strings.TrimSpace(rec.Prompt) == "" {
			return nil
		}
		_, err := hooks.WritePrompt(ctx.DropDir, rec)
		return err
	})
}
