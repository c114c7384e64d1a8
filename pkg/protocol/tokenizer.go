package protocol

import (
	"strconv"
	"strings"
)

// Tokenizer splits a command line into tokens. Tokens are separated by the
// configured separator characters; a double-quoted run is a single token, with
// `\"` as an escaped quote. An unterminated quote consumes to end of input.
type Tokenizer struct {
	sep    string
	tokens []string
	index  int
}

// NewTokenizer returns a tokenizer splitting on the given separator set.
func NewTokenizer(sep string) *Tokenizer {
	return &Tokenizer{sep: sep}
}

func (t *Tokenizer) isSep(ch byte) bool {
	return strings.IndexByte(t.sep, ch) >= 0
}

// Parse tokenizes s, replacing any previously parsed state.
func (t *Tokenizer) Parse(s string) {
	t.tokens = t.tokens[:0]
	t.index = 0

	quoteOpen := false
	tokenStart := -1
	var last byte

	for i := 0; i < len(s); i++ {
		cur := s[i]

		if tokenStart != -1 {
			endTok := false
			tokenEnd := 0

			if !quoteOpen {
				if i == len(s)-1 && !t.isSep(cur) {
					endTok = true
					tokenEnd = i + 1
				} else if t.isSep(cur) {
					endTok = true
					tokenEnd = i
				}
			} else if cur == '"' && last != '\\' {
				endTok = true
				quoteOpen = false
				tokenEnd = i
			}

			if endTok {
				t.tokens = append(t.tokens, unescape(s[tokenStart:tokenEnd]))
				tokenStart = -1
			}
		} else if !t.isSep(cur) {
			if cur == '"' && last != '\\' {
				// quoted token; an opening quote at end of input yields
				// an empty final token
				tokenStart = i + 1
				if tokenStart > len(s)-1 {
					tokenStart = i
				}
				quoteOpen = true
			} else if i == len(s)-1 {
				t.tokens = append(t.tokens, s[i:])
			} else {
				tokenStart = i
			}
		}

		last = cur
	}

	// unterminated quote: everything up to end of line is the token
	if tokenStart != -1 {
		t.tokens = append(t.tokens, unescape(s[tokenStart:]))
	}
}

func unescape(s string) string {
	if !strings.Contains(s, `\"`) {
		return s
	}
	return strings.ReplaceAll(s, `\"`, `"`)
}

// Count returns the number of tokens not yet consumed.
func (t *Tokenizer) Count() int {
	return len(t.tokens) - t.index
}

// HasNext reports whether another token is available.
func (t *Tokenizer) HasNext() bool {
	return t.index < len(t.tokens)
}

// Next consumes and returns the next token, or "" when exhausted.
func (t *Tokenizer) Next() string {
	if t.index == len(t.tokens) {
		return ""
	}
	tok := t.tokens[t.index]
	t.index++
	return tok
}

// NextInt consumes the next token and converts it to an int (0 on failure).
func (t *Tokenizer) NextInt() int {
	n, _ := strconv.Atoi(t.Next())
	return n
}

// NextFloat consumes the next token and converts it to a float64.
func (t *Tokenizer) NextFloat() float64 {
	f, _ := strconv.ParseFloat(t.Next(), 64)
	return f
}

// TillEnd consumes all remaining tokens and joins them with a space,
// reassembling free-text trailers such as chat messages.
func (t *Tokenizer) TillEnd() string {
	if t.index == len(t.tokens) {
		return ""
	}
	s := strings.Join(t.tokens[t.index:], " ")
	t.index = len(t.tokens)
	return s
}

// At returns token i without consuming anything ("" when out of range).
func (t *Tokenizer) At(i int) string {
	if i < 0 || i >= len(t.tokens) {
		return ""
	}
	return t.tokens[i]
}
