// Package audio has the small amount of PCM/WAV handling the bot needs to
// hand raw capture to speech services.
package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultPCM is what the capture sources emit: 16 kHz mono s16le.
var DefaultPCM = PCMFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

func (f PCMFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// Seconds converts a PCM byte count into playback duration.
func (f PCMFormat) Seconds(n int64) float64 {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return float64(n) / float64(bps)
}

// WAVHeader returns the 44-byte RIFF header for dataLen bytes of PCM.
func WAVHeader(f PCMFormat, dataLen uint32) []byte {
	var b bytes.Buffer
	blockAlign := uint16(f.Channels * f.BitsPerSample / 8)

	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(36)+dataLen)
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&b, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(&b, binary.LittleEndian, uint32(f.BytesPerSecond()))
	_ = binary.Write(&b, binary.LittleEndian, blockAlign)
	_ = binary.Write(&b, binary.LittleEndian, uint16(f.BitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, dataLen)
	return b.Bytes()
}

// WAVReader prefixes a PCM stream of known size with a WAV header.
func WAVReader(f PCMFormat, pcm io.Reader, size int64) io.Reader {
	return io.MultiReader(bytes.NewReader(WAVHeader(f, uint32(size))), pcm)
}
