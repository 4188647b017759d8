package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Format identifies an audio container by name, as used in upload filenames
type Format string

// Containers recognised by DetectFormat
const (
	FormatUnknown Format = ""
	FormatWebM    Format = "webm"
	FormatOgg     Format = "ogg"
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatMP4     Format = "mp4"
	FormatFLAC    Format = "flac"
)

var (
	magicEBML = []byte{0x1A, 0x45, 0xDF, 0xA3}
	magicOgg  = []byte("OggS")
	magicRIFF = []byte("RIFF")
	magicWAVE = []byte("WAVE")
	magicID3  = []byte("ID3")
	magicFLAC = []byte("fLaC")
	magicFtyp = []byte("ftyp")
)

// DetectFormat sniffs the container from the leading bytes of data.
// It returns FormatUnknown when nothing matches.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicEBML):
		return FormatWebM
	case bytes.HasPrefix(data, magicOgg):
		return FormatOgg
	case len(data) >= 12 && bytes.Equal(data[0:4], magicRIFF) && bytes.Equal(data[8:12], magicWAVE):
		return FormatWAV
	case bytes.HasPrefix(data, magicID3):
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG audio frame sync
		return FormatMP3
	case bytes.HasPrefix(data, magicFLAC):
		return FormatFLAC
	case len(data) >= 8 && bytes.Equal(data[4:8], magicFtyp):
		return FormatMP4
	default:
		return FormatUnknown
	}
}

// ParseFormat validates a configured container name
func ParseFormat(name string) (Format, error) {
	switch f := Format(name); f {
	case FormatWebM, FormatOgg, FormatWAV, FormatMP3, FormatMP4, FormatFLAC:
		return f, nil
	default:
		return FormatUnknown, fmt.Errorf("unsupported audio container %q", name)
	}
}

// Filename returns an upload filename carrying the container extension
func (f Format) Filename() string {
	return "audio." + string(f)
}

// ContentType returns the MIME type of the container
func (f Format) ContentType() string {
	switch f {
	case FormatWebM:
		return "audio/webm"
	case FormatOgg:
		return "audio/ogg"
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	case FormatMP4:
		return "audio/mp4"
	case FormatFLAC:
		return "audio/flac"
	default:
		return "application/octet-stream"
	}
}

// WAVInfo holds the fields of a canonical 44-byte WAV header
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
}

// ReadWAVInfo extracts metadata from a WAV buffer without touching samples.
// The transcription client logs it; the buffer itself is forwarded unchanged.
func ReadWAVInfo(data []byte) (*WAVInfo, error) {
	if len(data) < 44 {
		return nil, fmt.Errorf("WAV data too short: need at least 44 bytes, got %d", len(data))
	}

	if DetectFormat(data) != FormatWAV {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF/WAVE header")
	}

	if string(data[12:16]) != "fmt " {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	info := &WAVInfo{
		Channels:      binary.LittleEndian.Uint16(data[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(data[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(data[34:36]),
		DataSize:      binary.LittleEndian.Uint32(data[40:44]),
	}

	if info.SampleRate == 0 || info.Channels == 0 || info.BitsPerSample == 0 {
		return nil, fmt.Errorf("invalid WAV header: rate=%d channels=%d bits=%d",
			info.SampleRate, info.Channels, info.BitsPerSample)
	}

	bytesPerSecond := float64(info.SampleRate) * float64(info.Channels) * float64(info.BitsPerSample) / 8
	info.Duration = float64(info.DataSize) / bytesPerSecond

	return info, nil
}
