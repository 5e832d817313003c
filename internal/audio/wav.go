package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// WAVHeaderSize is the size of the canonical 44-byte PCM header.
const WAVHeaderSize = 44

// WAVHeader is the canonical RIFF/WAVE header for 16-bit PCM.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // file size - 8
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// NewWAVHeader describes dataSize bytes of interleaved 16-bit PCM.
func NewWAVHeader(dataSize uint32, sampleRate, channels int) WAVHeader {
	blockAlign := uint16(channels * BytesPerSample)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

func (h WAVHeader) WriteTo(w io.Writer) (int64, error) {
	if err := binary.Write(w, binary.LittleEndian, h); err != nil {
		return 0, fmt.Errorf("write wav header: %w", err)
	}
	return WAVHeaderSize, nil
}

// WAVInfo is the format block of a parsed WAV file.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// ParseWAV walks the RIFF chunks of data and returns the format together
// with the PCM payload. Only uncompressed 16-bit PCM is accepted.
func ParseWAV(data []byte) (WAVInfo, []byte, error) {
	var info WAVInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return info, nil, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	r := bytes.NewReader(data[12:])
	haveFmt := false
	for {
		var id [4]byte
		var size uint32
		if err := binary.Read(r, binary.LittleEndian, &id); err != nil {
			return info, nil, fmt.Errorf("invalid WAV file: missing data chunk")
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return info, nil, fmt.Errorf("invalid WAV file: truncated chunk header")
		}

		switch string(id[:]) {
		case "fmt ":
			var f struct {
				AudioFormat   uint16
				NumChannels   uint16
				SampleRate    uint32
				ByteRate      uint32
				BlockAlign    uint16
				BitsPerSample uint16
			}
			if size < 16 {
				return info, nil, fmt.Errorf("invalid WAV file: fmt chunk too short")
			}
			if err := binary.Read(r, binary.LittleEndian, &f); err != nil {
				return info, nil, fmt.Errorf("invalid WAV file: %w", err)
			}
			if f.AudioFormat != 1 {
				return info, nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", f.AudioFormat)
			}
			if f.BitsPerSample != 16 {
				return info, nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", f.BitsPerSample)
			}
			info = WAVInfo{SampleRate: int(f.SampleRate), Channels: int(f.NumChannels), BitsPerSample: int(f.BitsPerSample)}
			haveFmt = true
			if _, err := r.Seek(int64(size-16+size%2), io.SeekCurrent); err != nil {
				return info, nil, fmt.Errorf("invalid WAV file: %w", err)
			}
		case "data":
			if !haveFmt {
				return info, nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			start := len(data) - r.Len()
			end := start + int(size)
			if end > len(data) {
				end = len(data)
			}
			return info, data[start:end], nil
		default:
			if _, err := r.Seek(int64(size+size%2), io.SeekCurrent); err != nil {
				return info, nil, fmt.Errorf("invalid WAV file: %w", err)
			}
		}
	}
}
