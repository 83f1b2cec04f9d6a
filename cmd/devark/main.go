// devark captures prompts from AI coding tools, scores them, coaches on
// responses, and syncs sanitized sessions.
package main

import (
	"os"

	"github.com/thebtf/devark/cmd/devark/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
