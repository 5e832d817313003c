package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

var ErrMalformedChunk = errors.New("malformed chunk")

// FrameCodec converts interleaved little-endian 16-bit PCM into mono
// samples by keeping one channel of every frame. It holds no state and is
// safe to share between sessions.
type FrameCodec struct {
	Channels int
	Keep     int
}

func NewFrameCodec(channels, keep int) (FrameCodec, error) {
	if channels <= 0 {
		return FrameCodec{}, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if keep < 0 || keep >= channels {
		return FrameCodec{}, fmt.Errorf("channel %d out of range for %d channels", keep, channels)
	}
	return FrameCodec{Channels: channels, Keep: keep}, nil
}

// FrameSize is the byte length of one interleaved frame.
func (c FrameCodec) FrameSize() int { return c.Channels * BytesPerSample }

// Decode returns the kept channel of chunk. A chunk whose length is not a
// whole number of frames fails with ErrMalformedChunk.
func (c FrameCodec) Decode(chunk []byte) ([]int16, error) {
	frameSize := c.FrameSize()
	if frameSize <= 0 {
		return nil, fmt.Errorf("%w: codec has no channels", ErrMalformedChunk)
	}
	if len(chunk)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedChunk, len(chunk), frameSize)
	}
	n := len(chunk) / frameSize
	out := make([]int16, n)
	off := c.Keep * BytesPerSample
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(chunk[i*frameSize+off:]))
	}
	return out, nil
}

// Encode packs mono samples as little-endian 16-bit PCM.
func Encode(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// EncodeBase64 is Encode followed by standard base64, the form most
// streaming backends accept inside JSON.
func EncodeBase64(samples []int16) string {
	return base64.StdEncoding.EncodeToString(Encode(samples))
}
