package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunksPreservesOrder(t *testing.T) {
	b := make([]byte, 10)
	for i := range b {
		b[i] = byte(i)
	}

	chunks := Chunks(b, 4)

	require.Len(t, chunks, 3)
	assert.Equal(t, []byte{0, 1, 2, 3}, chunks[0])
	assert.Equal(t, []byte{4, 5, 6, 7}, chunks[1])
	assert.Equal(t, []byte{8, 9}, chunks[2])
	assert.Equal(t, b, bytes.Join(chunks, nil))
}

func TestChunksExactMultiple(t *testing.T) {
	chunks := Chunks(make([]byte, 8), 4)
	require.Len(t, chunks, 2)
}

func TestChunksEmptyInput(t *testing.T) {
	assert.Nil(t, Chunks(nil, 4))
	assert.Nil(t, Chunks([]byte{1}, 0))
}

func TestPCMToWAVHeader(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}

	wav := PCMToWAV(pcm, 16000, 1)

	require.Len(t, wav, 48)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint32(16000), binary.LittleEndian.Uint32(wav[24:28]))
	assert.Equal(t, uint32(32000), binary.LittleEndian.Uint32(wav[28:32])) // byte rate, mono 16-bit
	assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(wav[40:44]))
	assert.Equal(t, pcm, wav[44:])
}
