package block

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpans(t *testing.T) {
	const bs = 4096

	t.Run("WithinOneBlock", func(t *testing.T) {
		spans := Spans(100, 200, bs)
		assert.Equal(t, []Span{{Index: 0, Start: 100, Len: 200, Pos: 0}}, spans)
	})

	t.Run("CrossesBlocks", func(t *testing.T) {
		spans := Spans(4000, 8192, bs)
		assert.Equal(t, []Span{
			{Index: 0, Start: 4000, Len: 96, Pos: 0},
			{Index: 1, Start: 0, Len: 4096, Pos: 96},
			{Index: 2, Start: 0, Len: 4000, Pos: 4192},
		}, spans)
		assert.False(t, spans[0].Full(bs))
		assert.True(t, spans[1].Full(bs))
	})

	t.Run("Aligned", func(t *testing.T) {
		spans := Spans(8192, 8192, bs)
		assert.Len(t, spans, 2)
		assert.True(t, spans[0].Full(bs))
		assert.True(t, spans[1].Full(bs))
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Nil(t, Spans(123, 0, bs))
	})
}

func TestValidateBlockSize(t *testing.T) {
	assert.NoError(t, ValidateBlockSize(DefaultBlockSize))
	assert.NoError(t, ValidateBlockSize(MinBlockSize))
	assert.NoError(t, ValidateBlockSize(MaxBlockSize))
	assert.ErrorIs(t, ValidateBlockSize(0), ErrInvalidBlockSize)
	assert.ErrorIs(t, ValidateBlockSize(5000), ErrInvalidBlockSize)
	assert.ErrorIs(t, ValidateBlockSize(2048), ErrInvalidBlockSize)
	assert.ErrorIs(t, ValidateBlockSize(8<<20), ErrInvalidBlockSize)
}

func TestAppendExtent(t *testing.T) {
	var ext []Extent
	ext = AppendExtent(ext, Extent{Offset: 0, Length: 4096})
	ext = AppendExtent(ext, Extent{Offset: 4096, Length: 4096})
	ext = AppendExtent(ext, Extent{Offset: 8192, Length: 4096, Hole: true, Zero: true})
	ext = AppendExtent(ext, Extent{Offset: 12288, Length: 0})
	ext = AppendExtent(ext, Extent{Offset: 12288, Length: 4096, Hole: true, Zero: true})

	assert.Equal(t, []Extent{
		{Offset: 0, Length: 8192},
		{Offset: 8192, Length: 8192, Hole: true, Zero: true},
	}, ext)
	assert.Equal(t, "[8192+8192 hole]", ext[1].String())
}

func TestIsZero(t *testing.T) {
	assert.True(t, IsZero(nil))
	assert.True(t, IsZero(make([]byte, 10)))
	assert.False(t, IsZero([]byte{0, 0, 1}))
}
