// Package wav serialises sample buffers into the 16-bit mono PCM RIFF/WAVE
// container used as the voxgate transport payload, and parses that container
// back.
//
// The byte layout is fixed: a 44-byte header followed by little-endian
// samples. Encode output is bit-for-bit reproducible for a given input so that
// downstream players and transcription services see identical payloads.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/MrWong99/voxgate/pkg/audio"
)

const (
	// HeaderSize is the length of the canonical PCM header in bytes.
	HeaderSize = 44

	bitsPerSample = 16
	channels      = 1
	formatPCM     = 1
)

// ErrInvalid is returned (wrapped) by [Decode] and [ParseHeader] when the
// input is not a canonical 16-bit mono PCM WAV payload.
var ErrInvalid = errors.New("wav: invalid payload")

// Header holds the fields of a canonical PCM header.
type Header struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	ByteRate      int
	BlockAlign    int
	DataSize      int
}

// SampleCount returns the number of samples announced by the data chunk.
func (h Header) SampleCount() int {
	if h.BlockAlign == 0 {
		return 0
	}
	return h.DataSize / h.BlockAlign
}

// Encode converts buf to a WAV payload. An empty buffer yields a header-only
// payload with a zero-length data chunk.
func Encode(buf audio.Buffer) []byte {
	dataSize := len(buf.Samples) * 2
	out := make([]byte, HeaderSize+dataSize)

	// RIFF chunk descriptor
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize)) // file size − 8
	copy(out[8:12], "WAVE")

	// fmt sub-chunk
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], formatPCM)
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(buf.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(buf.SampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)

	// data sub-chunk
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))

	for i, s := range buf.Samples {
		binary.LittleEndian.PutUint16(out[HeaderSize+i*2:], uint16(audio.ToPCM16(s)))
	}
	return out
}

// ParseHeader validates and decodes the 44-byte header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need at least %d bytes, got %d", ErrInvalid, HeaderSize, len(data))
	}
	switch {
	case string(data[0:4]) != "RIFF":
		return Header{}, fmt.Errorf("%w: missing RIFF tag", ErrInvalid)
	case string(data[8:12]) != "WAVE":
		return Header{}, fmt.Errorf("%w: missing WAVE tag", ErrInvalid)
	case string(data[12:16]) != "fmt ":
		return Header{}, fmt.Errorf("%w: missing fmt chunk", ErrInvalid)
	case string(data[36:40]) != "data":
		return Header{}, fmt.Errorf("%w: missing data chunk", ErrInvalid)
	}

	h := Header{
		Channels:      int(binary.LittleEndian.Uint16(data[22:24])),
		SampleRate:    int(binary.LittleEndian.Uint32(data[24:28])),
		ByteRate:      int(binary.LittleEndian.Uint32(data[28:32])),
		BlockAlign:    int(binary.LittleEndian.Uint16(data[32:34])),
		BitsPerSample: int(binary.LittleEndian.Uint16(data[34:36])),
		DataSize:      int(binary.LittleEndian.Uint32(data[40:44])),
	}
	if format := binary.LittleEndian.Uint16(data[20:22]); format != formatPCM {
		return Header{}, fmt.Errorf("%w: audio format %d, only PCM is supported", ErrInvalid, format)
	}
	if h.Channels != channels || h.BitsPerSample != bitsPerSample {
		return Header{}, fmt.Errorf("%w: %d channel(s) at %d bits, want mono 16-bit", ErrInvalid, h.Channels, h.BitsPerSample)
	}
	if h.SampleRate <= 0 {
		return Header{}, fmt.Errorf("%w: sample rate %d", ErrInvalid, h.SampleRate)
	}
	return h, nil
}

// Decode parses a payload produced by [Encode] back into a normalised
// buffer. Re-encoding the result is byte-identical to data.
func Decode(data []byte) (audio.Buffer, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return audio.Buffer{}, err
	}
	if len(data)-HeaderSize < h.DataSize {
		return audio.Buffer{}, fmt.Errorf("%w: data chunk announces %d bytes, have %d", ErrInvalid, h.DataSize, len(data)-HeaderSize)
	}

	n := h.SampleCount()
	samples := make([]float32, n)
	for i := range n {
		v := int16(binary.LittleEndian.Uint16(data[HeaderSize+i*2:]))
		samples[i] = audio.FromPCM16(v)
	}
	return audio.Buffer{Samples: samples, SampleRate: h.SampleRate}, nil
}
