package onnx

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// Special token ids shared by the bert-base-uncased family of vocabularies.
const (
	unkTokenID = 100
	clsTokenID = 101
	sepTokenID = 102
)

// Tokenizer is a lowercase WordPiece tokenizer loaded from a HuggingFace
// tokenizer.json file.
type Tokenizer struct {
	vocab map[string]int64
	unk   int64
	cls   int64
	sep   int64
}

// LoadTokenizer reads the WordPiece vocabulary from a tokenizer.json file.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer: %w", err)
	}

	var file struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode tokenizer: %w", err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, fmt.Errorf("tokenizer %s has an empty vocabulary", path)
	}
	return NewTokenizer(file.Model.Vocab), nil
}

// NewTokenizer builds a tokenizer over vocab. Special tokens are looked up by
// name and fall back to the bert-base-uncased ids.
func NewTokenizer(vocab map[string]int64) *Tokenizer {
	t := &Tokenizer{vocab: vocab, unk: unkTokenID, cls: clsTokenID, sep: sepTokenID}
	if id, ok := vocab["[UNK]"]; ok {
		t.unk = id
	}
	if id, ok := vocab["[CLS]"]; ok {
		t.cls = id
	}
	if id, ok := vocab["[SEP]"]; ok {
		t.sep = id
	}
	return t
}

// Encode tokenizes text into a fixed-length sequence framed by [CLS] and
// [SEP]. The returned mask marks real tokens with 1 and padding with 0.
func (t *Tokenizer) Encode(text string, maxLen int) (ids, mask []int64) {
	ids = make([]int64, maxLen)
	mask = make([]int64, maxLen)
	if maxLen < 2 {
		return ids, mask
	}

	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}

	ids[0], mask[0] = t.cls, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = t.sep, 1
	return ids, mask
}

// Tokenize converts text to WordPiece token ids without special tokens.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var tokens []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		tokens = append(tokens, t.wordPiece(word)...)
	}
	return tokens
}

// wordPiece greedily matches the longest vocabulary prefix. A word with any
// unmatched remainder becomes a single [UNK].
func (t *Tokenizer) wordPiece(word string) []int64 {
	if id, ok := t.vocab[word]; ok {
		return []int64{id}
	}

	runes := []rune(word)
	var pieces []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		matched := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				pieces = append(pieces, id)
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []int64{t.unk}
		}
		start = end
	}
	return pieces
}

// splitWords splits on whitespace and isolates punctuation as its own word.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}
