// Package tokenizer counts and clips text by model tokens, used to keep
// retrieved priming context inside a generation budget.
package tokenizer

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding suits current GPT-class models and is a close enough proxy
// for the other providers' tokenizers.
const DefaultEncoding = "cl100k_base"

// TikToken wraps tiktoken-go.
type TikToken struct {
	encoding *tiktoken.Tiktoken
}

// NewTikToken creates a tokenizer for the given encoding name. Common
// encodings: "cl100k_base" (GPT-4/3.5), "o200k_base" (GPT-4o). Empty picks
// the default. Returns an error if the encoding is not recognized.
func NewTikToken(encodingName string) (*TikToken, error) {
	if encodingName == "" {
		encodingName = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: unknown encoding %q: %w", encodingName, err)
	}
	return &TikToken{encoding: enc}, nil
}

// CountTokens returns the number of tokens in the given text.
func (t *TikToken) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	return len(t.encoding.Encode(text, nil, nil)), nil
}

// Truncate returns text clipped to at most limit tokens. A non-positive
// limit returns text unchanged.
func (t *TikToken) Truncate(text string, limit int) string {
	if limit <= 0 || text == "" {
		return text
	}
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= limit {
		return text
	}
	return t.encoding.Decode(tokens[:limit])
}
