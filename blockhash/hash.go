// Package blockhash splits a tokenized prompt into an ordered sequence of
// fixed-size block hashes, the unit the rest of the system reasons about.
//
// The tokenizer itself is out of scope (spec.md §1 treats it as a black
// box): Tokenize is a simple deterministic stand-in, not a real subword
// tokenizer. Anything downstream only needs same-input-same-output, which
// Tokenize and HashPrompt both guarantee.
package blockhash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// DefaultBlockSize is the reference configuration's tokens-per-block (spec.md §3).
const DefaultBlockSize = 16

// ErrEmptyPrompt is returned when tokenization yields no tokens at all.
var ErrEmptyPrompt = errors.New("blockhash: empty prompt")

// Hash identifies a block's content by the digest of its token run.
// Opaque and byte-stable for a given token sequence (spec.md §6).
type Hash string

// Sequence is the ordered, full-blocks-only hash sequence produced by a
// prompt, plus the total token count the prompt actually contained.
type Sequence struct {
	Hashes      []Hash
	TotalTokens int
}

// Tokenize is the deterministic stand-in for a real tokenizer: it splits on
// whitespace. Two equal prompts always produce equal token slices.
func Tokenize(prompt string) []string {
	return strings.Fields(prompt)
}

// HashPrompt splits tokens into blockSize-token chunks and, for each full
// chunk in order, hashes every token from the start of the prompt through
// the end of that chunk (see hashChunk). A trailing partial chunk is dropped
// from Hashes but still counted in TotalTokens. Fails only when tokens is
// empty.
func HashPrompt(tokens []string, blockSize int) (Sequence, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if len(tokens) == 0 {
		return Sequence{}, ErrEmptyPrompt
	}

	numFull := len(tokens) / blockSize
	hashes := make([]Hash, 0, numFull)
	for i := 0; i < numFull; i++ {
		chunk := tokens[:(i+1)*blockSize]
		hashes = append(hashes, hashChunk(chunk))
	}

	return Sequence{Hashes: hashes, TotalTokens: len(tokens)}, nil
}

// hashChunk hashes the pipe-delimited token run. Hierarchical: the hash of
// the first i+1 blocks is computed over all tokens up to that point, so two
// sequences sharing a prefix produce identical hashes for the shared blocks.
func hashChunk(tokens []string) Hash {
	h := sha256.New()
	for i, tok := range tokens {
		if i > 0 {
			h.Write([]byte{'|'})
		}
		h.Write([]byte(tok))
	}
	return Hash(hex.EncodeToString(h.Sum(nil)))
}
