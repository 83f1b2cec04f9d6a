// Package hooks provides the drop-file contract and runners shared by devark hook binaries.
package hooks

import (
	"fmt"
	"io"
	"os"

	json "github.com/goccy/go-json"
)

// MaxHookInput caps how much stdin a hook will read.
const MaxHookInput = 1 << 20

// Exit codes reported to the host tool.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// HookResponse is the response sent back to the host tool.
type HookResponse struct {
	Continue bool `json:"continue"`
}

// WriteResponse writes a hook response to stdout.
func WriteResponse(success bool) {
	data, _ := json.Marshal(HookResponse{Continue: success})
	fmt.Println(string(data))
}

// WriteError logs to stderr. Hooks never block the host, so the response still continues.
func WriteError(hookName string, err error) {
	fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", hookName, err)
	WriteResponse(true)
}

// HookContext provides common context for hook handlers.
type HookContext struct {
	HookName string
	DropDir  string
	RawInput []byte
}

// HookHandler handles hook-specific logic on decoded input.
type HookHandler[T any] func(ctx *HookContext, input *T) error

// RunHook reads stdin, decodes it into T and runs handler. Failures are
// reported on stderr but never abort the host tool's turn.
func RunHook[T any](hookName string, handler HookHandler[T]) {
	code := runHook(hookName, os.Stdin, handler)
	WriteResponse(true)
	os.Exit(code)
}

func runHook[T any](hookName string, r io.Reader, handler HookHandler[T]) int {
	if os.Getenv("DEVARK_INTERNAL") == "1" {
		return ExitSuccess
	}

	inputData, err := io.ReadAll(io.LimitReader(r, MaxHookInput))
	if err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", hookName, err)
		return ExitSuccess
	}

	var input T
	if err := json.Unmarshal(inputData, &input); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", hookName, err)
		return ExitSuccess
	}

	ctx := &HookContext{
		HookName: hookName,
		DropDir:  DropDir(),
		RawInput: inputData,
	}
	if err := handler(ctx, &input); err != nil {
		fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", hookName, err)
	}
	return ExitSuccess
}

// StatuslineHandler renders a status line. input is nil when stdin could not be decoded.
type StatuslineHandler[T any] func(input *T, port int) string

// RunStatuslineHook prints handler output directly, without JSON wrapping.
func RunStatuslineHook[T any](handler StatuslineHandler[T]) {
	fmt.Println(renderStatusline(os.Stdin, handler))
}

func renderStatusline[T any](r io.Reader, handler StatuslineHandler[T]) string {
	inputData, err := io.ReadAll(io.LimitReader(r, MaxHookInput))
	if err != nil {
		return handler(nil, 0)
	}
	var input T
	if err := json.Unmarshal(inputData, &input); err != nil {
		return handler(nil, 0)
	}
	return handler(&input, GetWorkerPort())
}
