package paper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_SimpleDocument(t *testing.T) {
	c := NewDefaultChunker()

	content := `# Introduction

This is the introduction section.

## Method

Some content describing the method.

## Results

Some content describing the results.
`

	chunks := c.Chunk("attention-2017", content)
	require.NotEmpty(t, chunks)

	for i, chunk := range chunks {
		assert.Equal(t, "attention-2017", chunk.PaperID)
		assert.NotEmpty(t, chunk.Content)
		assert.Equal(t, i, chunk.Index, "indices follow document order")
		assert.Greater(t, chunk.TokenCount, 0)
	}
}

func TestChunker_PreservesCodeBlocks(t *testing.T) {
	c, err := NewChunker(ChunkConfig{
		TargetTokens: 50, // small target to force splitting
		MaxTokens:    100,
		MinTokens:    10,
	})
	require.NoError(t, err)

	content := "# Algorithm\n\n" + "```python\ndef train(model, data):\n    # inner comment\n    for batch in data:\n        model.step(batch)\n```\n\nMore text after the listing."

	chunks := c.Chunk("p1", content)

	var foundCodeBlock bool
	for _, chunk := range chunks {
		if strings.Contains(chunk.Content, "```python") {
			foundCodeBlock = true
			assert.Contains(t, chunk.Content, "def train")
			assert.True(t, strings.Count(chunk.Content, "```") >= 2, "fences stay paired")
		}
	}
	assert.True(t, foundCodeBlock, "should have a chunk with the code block")
}

func TestChunker_SectionNames(t *testing.T) {
	c := NewDefaultChunker()

	content := `# Paper Title

Abstract text.

## Approach

Approach paragraph.

## Evaluation

Evaluation paragraph.
`

	chunks := c.Chunk("p1", content)
	require.NotEmpty(t, chunks)

	// Section names come from the headings, not invented.
	for _, chunk := range chunks {
		if chunk.Section != "" {
			assert.Contains(t, content, chunk.Section)
		}
	}
}

func TestChunker_SplitsLargeSections(t *testing.T) {
	c, err := NewChunker(ChunkConfig{
		TargetTokens: 50,
		MaxTokens:    80,
		MinTokens:    10,
	})
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString("# Big Section\n\n")
	for i := 0; i < 30; i++ {
		sb.WriteString("This paragraph repeats enough text to exceed the section budget. ")
		sb.WriteString("It keeps going with more filler words for the estimator.\n\n")
	}

	chunks := c.Chunk("p1", sb.String())
	require.Greater(t, len(chunks), 1)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.TokenCount, 80+charsPerToken,
			"chunks stay near the max budget")
	}
}

func TestChunker_HardSplitWithoutBreaks(t *testing.T) {
	c, err := NewChunker(ChunkConfig{
		TargetTokens: 20,
		MaxTokens:    30,
		MinTokens:    5,
	})
	require.NoError(t, err)

	// No sentence breaks, no paragraph breaks.
	content := strings.Repeat("x", 1000)
	chunks := c.Chunk("p1", content)
	require.Greater(t, len(chunks), 1)

	var total int
	for _, chunk := range chunks {
		assert.LessOrEqual(t, chunk.TokenCount, 30)
		total += len(chunk.Content)
	}
	assert.Equal(t, 1000, total, "hard split loses no content")
}

func TestChunker_MergesSmallChunks(t *testing.T) {
	c := NewDefaultChunker()

	content := "# A\n\nshort\n\n# B\n\nalso short\n\n# C\n\ntiny"
	chunks := c.Chunk("p1", content)

	// Three tiny sections collapse rather than producing three fragments.
	assert.Len(t, chunks, 1)
}

func TestChunkConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ChunkConfig
		wantErr string
	}{
		{
			name: "valid",
			cfg:  ChunkConfig{TargetTokens: 100, MaxTokens: 150, MinTokens: 20},
		},
		{
			name:    "min not positive",
			cfg:     ChunkConfig{TargetTokens: 100, MaxTokens: 150, MinTokens: 0},
			wantErr: "MinTokens",
		},
		{
			name:    "min above target",
			cfg:     ChunkConfig{TargetTokens: 100, MaxTokens: 150, MinTokens: 100},
			wantErr: "less than TargetTokens",
		},
		{
			name:    "target above max",
			cfg:     ChunkConfig{TargetTokens: 200, MaxTokens: 150, MinTokens: 20},
			wantErr: "must not exceed MaxTokens",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("First point. Second point? Third point! Trailing fragment")
	require.Len(t, sentences, 4)
	assert.Equal(t, "First point.", sentences[0])
	assert.Equal(t, "Trailing fragment", sentences[3])
}
