package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const (
	CanonicalSampleRate = 16000
	CanonicalChannels   = 1
	CanonicalBitDepth   = 16

	wavFormatPCM = 1
)

var errNotWAV = errors.New("not a RIFF/WAVE file")

// Format describes the fmt chunk of a WAV file.
type Format struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// Canonical reports whether f is the on-disk contract between the converter
// and every downstream step: mono 16 kHz 16-bit PCM.
func (f Format) Canonical() bool {
	return f.AudioFormat == wavFormatPCM &&
		f.Channels == CanonicalChannels &&
		f.SampleRate == CanonicalSampleRate &&
		f.BitsPerSample == CanonicalBitDepth
}

// ReadFormat parses the WAV header of path. Non-WAV files return errNotWAV.
func ReadFormat(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := io.ReadFull(f, riff[:]); err != nil {
		return Format{}, errNotWAV
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, errNotWAV
	}

	for {
		var hdr [8]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			return Format{}, fmt.Errorf("%w: fmt chunk missing", errNotWAV)
		}
		size := binary.LittleEndian.Uint32(hdr[4:8])
		if string(hdr[0:4]) != "fmt " {
			// chunks are word aligned
			skip := int64(size) + int64(size&1)
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return Format{}, err
			}
			continue
		}
		if size < 16 {
			return Format{}, fmt.Errorf("%w: fmt chunk too short", errNotWAV)
		}
		var body [16]byte
		if _, err := io.ReadFull(f, body[:]); err != nil {
			return Format{}, fmt.Errorf("%w: fmt chunk truncated", errNotWAV)
		}
		return Format{
			AudioFormat:   binary.LittleEndian.Uint16(body[0:2]),
			Channels:      binary.LittleEndian.Uint16(body[2:4]),
			SampleRate:    binary.LittleEndian.Uint32(body[4:8]),
			BitsPerSample: binary.LittleEndian.Uint16(body[14:16]),
		}, nil
	}
}

// WritePCM writes 16-bit little endian PCM samples as a WAV file.
func WritePCM(path string, sampleRate uint32, channels uint16, samples []int16) error {
	var buf bytes.Buffer
	dataSize := uint32(len(samples) * 2)
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(wavFormatPCM))
	binary.Write(&buf, binary.LittleEndian, channels)
	binary.Write(&buf, binary.LittleEndian, sampleRate)
	binary.Write(&buf, binary.LittleEndian, sampleRate*uint32(blockAlign))
	binary.Write(&buf, binary.LittleEndian, blockAlign)
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataSize)
	binary.Write(&buf, binary.LittleEndian, samples)

	return os.WriteFile(path, buf.Bytes(), 0o644)
}
