// Package main renders the devark status line for Claude Code.
package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/thebtf/devark/pkg/hooks"
)

// StatusInput is the JSON input from Claude Code's statusline feature.
type StatusInput struct {
	SessionID string `json:"session_id"`
	CWD       string `json:"cwd"`
	Model     struct {
		ID          string `json:"id"`
		DisplayName string `json:"display_name"`
	} `json:"model"`
	Workspace struct {
		CurrentDir string `json:"current_dir"`
		ProjectDir string `json:"project_dir"`
	} `json:"workspace"`
}

// WorkerStats is the subset of /api/stats the status line shows.
type WorkerStats struct {
	Ready         bool     `json:"ready"`
	Syncing       bool     `json:"syncing"`
	LastScore     *float64 `json:"lastScore"`
	ActiveSession *struct {
		Goal        string `json:"goal"`
		Progress    int    `json:"progress"`
		PromptCount int    `json:"promptCount"`
	} `json:"activeSession"`
	Coaching *struct {
		Suggestions []struct {
			Title string `json:"title"`
		} `json:"suggestions"`
	} `json:"coaching"`
}

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorRed    = "\033[31m"
)

type palette struct{ on bool }

func (p palette) paint(color, s string) string {
	if !p.on {
		return s
	}
	return color + s + colorReset
}

func main() {
	hooks.RunStatuslineHook(render)
}

func render(_ *StatusInput, port int) string {
	colors := palette{on: os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"}
	if port == 0 {
		port = hooks.GetWorkerPort()
	}
	var stats WorkerStats
	if err := hooks.GetJSON(port, "/api/stats", 150*time.Millisecond, &stats); err != nil {
		return format(nil, colors)
	}
	return format(&stats, colors)
}

func format(stats *WorkerStats, p palette) string {
	prefix := p.paint(colorCyan, "[devark]")
	if stats == nil {
		return prefix + " " + p.paint(colorGray, "○ offline")
	}
	if !stats.Ready {
		return prefix + " " + p.paint(colorYellow, "◐ starting")
	}

	parts := []string{}
	if stats.LastScore != nil {
		color := colorGreen
		switch {
		case *stats.LastScore < 4:
			color = colorRed
		case *stats.LastScore < 7:
			color = colorYellow
		}
		parts = append(parts, p.paint(color, fmt.Sprintf("score:%.1f", *stats.LastScore)))
	}
	if s := stats.ActiveSession; s != nil {
		parts = append(parts, fmt.Sprintf("prompts:%d", s.PromptCount))
		if s.Goal != "" {
			parts = append(parts, fmt.Sprintf("goal:%s %d%%", truncate(s.Goal, 24), s.Progress))
		}
	}
	if c := stats.Coaching; c != nil && len(c.Suggestions) > 0 {
		parts = append(parts, p.paint(colorYellow, "tip:"+truncate(c.Suggestions[0].Title, 32)))
	}
	if stats.Syncing {
		parts = append(parts, p.paint(colorYellow, "syncing..."))
	}

	out := prefix + " " + p.paint(colorGreen, "●")
	if len(parts) > 0 {
		out += " " + strings.Join(parts, " | ")
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
