package backend

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-audio/wav"
	mflac "github.com/mewkiz/flac"
)

// StreamInfo is the technical description of a FLAC or WAV stream.
type StreamInfo struct {
	SampleRate     int
	Channels       int
	BitDepth       int
	TotalSamples   uint64
	DurationMillis int
}

// ReadFLACStreamInfo parses only the STREAMINFO block of a FLAC file.
func ReadFLACStreamInfo(path string) (*StreamInfo, error) {
	stream, err := mflac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open flac stream: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		return nil, fmt.Errorf("flac stream %s: missing STREAMINFO", path)
	}
	out := &StreamInfo{
		SampleRate:   int(info.SampleRate),
		Channels:     int(info.NChannels),
		BitDepth:     int(info.BitsPerSample),
		TotalSamples: info.NSamples,
	}
	if info.NSamples > 0 {
		out.DurationMillis = int(info.NSamples * 1000 / uint64(info.SampleRate))
	}
	return out, nil
}

// readWAVMetadata reads the fmt chunk and RIFF INFO tags. Files that are not
// RIFF/WAVE go through the generic tag reader instead.
func readWAVMetadata(path string) (*AudioMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return readGenericMetadata(path, "wav")
	}
	meta := &AudioMetadata{
		Codec:      "wav",
		Lossless:   true,
		SampleRate: int(d.SampleRate),
		BitDepth:   int(d.BitDepth),
		Channels:   int(d.NumChans),
	}
	if dur, err := d.Duration(); err == nil && dur > 0 {
		meta.DurationMillis = int(dur.Milliseconds())
	}

	d.ReadMetadata()
	if info := d.Metadata; info != nil {
		meta.Title = strings.TrimSpace(info.Title)
		meta.Artist = strings.TrimSpace(info.Artist)
		meta.Album = strings.TrimSpace(info.Product)
		meta.Year = strings.TrimSpace(info.CreationDate)
		meta.TrackNumber, meta.TrackTotal = parsePosition(info.TrackNbr)
	}
	return meta, nil
}

// bitrateKbps estimates the average bitrate from the file size.
func bitrateKbps(size int64, durationMillis int) int {
	if size <= 0 || durationMillis <= 0 {
		return 0
	}
	return int(size * 8 / int64(durationMillis))
}
