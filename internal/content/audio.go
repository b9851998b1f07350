package content

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// AudioParser transcribes WAV audio to text with a local whisper.cpp
// model for the fast round. Audio is never eligible for the deep round
// (spec.md §4.5), so mode is accepted but ignored.
type AudioParser struct {
	ModelPath string
}

func (AudioParser) Extensions() []string { return []string{"wav"} }

func (p AudioParser) Parse(_ context.Context, path string, _ IndexingMode) (ParsedContent, error) {
	if p.ModelPath == "" {
		return ParsedContent{}, fmt.Errorf("content: audio parser has no whisper model configured")
	}
	model, err := whisper.New(p.ModelPath)
	if err != nil {
		return ParsedContent{}, fmt.Errorf("load whisper model: %w", err)
	}
	defer model.Close()

	samples, err := loadWAVSamples(path)
	if err != nil {
		return ParsedContent{}, fmt.Errorf("load wav: %w", err)
	}

	wctx, err := model.NewContext()
	if err != nil {
		return ParsedContent{}, fmt.Errorf("create whisper context: %w", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return ParsedContent{}, fmt.Errorf("transcribe: %w", err)
	}

	var sb strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if err != nil {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(seg.Text)
	}
	return ParsedContent{Text: strings.TrimSpace(sb.String())}, nil
}

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// loadWAVSamples reads a 16-bit PCM WAV file into mono float32 samples
// in [-1, 1], the input shape whisper.cpp expects.
func loadWAVSamples(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var h wavHeader
	if err := binary.Read(f, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("read wav header: %w", err)
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	data := make([]byte, h.Subchunk2Size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, fmt.Errorf("read audio data: %w", err)
	}

	var samples []float32
	switch h.BitsPerSample {
	case 16:
		for i := 0; i+1 < len(data); i += 2 {
			s := int16(binary.LittleEndian.Uint16(data[i : i+2]))
			samples = append(samples, float32(s)/32768.0)
		}
	default:
		return nil, fmt.Errorf("unsupported bits per sample: %d", h.BitsPerSample)
	}

	if h.NumChannels == 2 {
		mono := make([]float32, len(samples)/2)
		for i := range mono {
			mono[i] = (samples[i*2] + samples[i*2+1]) / 2.0
		}
		samples = mono
	}
	return samples, nil
}
