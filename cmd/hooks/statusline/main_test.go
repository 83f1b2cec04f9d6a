package main

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	plain := palette{}
	tests := []struct {
		name  string
		stats string
		want  string
	}{
		{"starting", `{"ready":false}`, "[devark] ◐ starting"},
		{"idle", `{"ready":true}`, "[devark] ●"},
		{"full", `{"ready":true,"lastScore":7.46,"activeSession":{"goal":"ship the login flow","progress":40,"promptCount":3},
"coaching":{"suggestions":[{"title":"Add tests for the retry path"}]},"syncing":true}`,
			"[devark] ● score:7.5 | prompts:3 | goal:ship the login flow 40% | tip:Add tests for the retry path | syncing..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stats WorkerStats
			require.NoError(t, json.Unmarshal([]byte(tt.stats), &stats))
			assert.Equal(t, tt.want, format(&stats, plain))
		})
	}

	assert.Equal(t, "[devark] ○ offline", format(nil, plain))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}

func TestPaletteColors(t *testing.T) {
	assert.Equal(t, colorRed+"x"+colorReset, palette{on: true}.paint(colorRed, "x"))
}
