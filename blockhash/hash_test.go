package blockhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPrompt_Deterministic(t *testing.T) {
	tokens := Tokenize("the quick brown fox jumps over the lazy dog and then some more words here ok")
	seqA, err := HashPrompt(tokens, 4)
	require.NoError(t, err)
	seqB, err := HashPrompt(tokens, 4)
	require.NoError(t, err)
	assert.Equal(t, seqA, seqB)
}

func TestHashPrompt_SharedPrefixSharesHashes(t *testing.T) {
	a := Tokenize("one two three four five six seven eight nine")
	b := Tokenize("one two three four five six seven eight TEN")

	seqA, err := HashPrompt(a, 4)
	require.NoError(t, err)
	seqB, err := HashPrompt(b, 4)
	require.NoError(t, err)

	require.Len(t, seqA.Hashes, 2)
	require.Len(t, seqB.Hashes, 2)
	assert.Equal(t, seqA.Hashes[0], seqB.Hashes[0])
	assert.Equal(t, seqA.Hashes[1], seqB.Hashes[1])
}

func TestHashPrompt_PartialBlockDroppedButCounted(t *testing.T) {
	tokens := Tokenize("one two three four five six seven") // 7 tokens, block size 4
	seq, err := HashPrompt(tokens, 4)
	require.NoError(t, err)
	assert.Len(t, seq.Hashes, 1) // only one full block
	assert.Equal(t, 7, seq.TotalTokens)
}

func TestHashPrompt_ShorterThanOneBlock(t *testing.T) {
	tokens := Tokenize("hi")
	seq, err := HashPrompt(tokens, 16)
	require.NoError(t, err)
	assert.Empty(t, seq.Hashes)
	assert.Equal(t, 2, seq.TotalTokens)
}

func TestHashPrompt_EmptyFails(t *testing.T) {
	_, err := HashPrompt(nil, 16)
	assert.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestHashPrompt_DefaultBlockSize(t *testing.T) {
	tokens := make([]string, DefaultBlockSize)
	for i := range tokens {
		tokens[i] = "tok"
	}
	seq, err := HashPrompt(tokens, 0)
	require.NoError(t, err)
	assert.Len(t, seq.Hashes, 1)
}
