// Package audio provides byte-level framing helpers for provider wire
// formats. Resampling and codec conversion are provider-defined; the
// session core only frames and forwards buffers.
package audio

import "encoding/binary"

// Chunks splits b into consecutive slices of at most size bytes,
// preserving order. Returns nil for empty input.
func Chunks(b []byte, size int) [][]byte {
	if len(b) == 0 || size <= 0 {
		return nil
	}
	out := make([][]byte, 0, (len(b)+size-1)/size)
	for len(b) > size {
		out = append(out, b[:size])
		b = b[size:]
	}
	return append(out, b)
}

// PCMToWAV wraps raw 16-bit little-endian PCM in a WAV container for
// providers that require container framing.
func PCMToWAV(pcm []byte, sampleRate, channels int) []byte {
	dataLen := len(pcm)
	buf := make([]byte, 44+dataLen)

	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], 16) // bits per sample
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	copy(buf[44:], pcm)

	return buf
}
