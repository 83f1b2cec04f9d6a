// Package main is the Cursor afterAgentResponse hook.
package main

import (
	"os"
	"strings"

	"github.com/thebtf/devark/pkg/hooks"
)

func main() {
	hooks.RunHook("agent-response", func(ctx *hooks.HookContext, input *hooks.Input) error {
		if strings.TrimSpace(input.Text) == "" {
			return nil
		}
		rec := input.ResponseRecord(input.Source(os.Args[1:]), false)
		_, err := hooks.WriteResponseRecord(ctx.DropDir, rec)
		return err
	})
}
