package session

import (
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts for prompt and response text.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenCounter uses the cl100k_base encoding, falling back to a
// four-characters-per-token estimate when the codec cannot be loaded.
type tiktokenCounter struct {
	codec tokenizer.Codec
	once  sync.Once
}

// NewTokenCounter returns a cl100k_base counter.
func NewTokenCounter() TokenCounter {
	return &tiktokenCounter{}
}

func (t *tiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	t.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			log.Warn().Err(err).Msg("tokenizer unavailable, using character estimate")
			return
		}
		t.codec = codec
	})
	if t.codec != nil {
		ids, _, err := t.codec.Encode(text)
		if err == nil {
			return len(ids)
		}
	}
	return utf8.RuneCountInString(text) / 4
}
