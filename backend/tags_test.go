package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// writeMinimalFLAC writes a FLAC file holding only a STREAMINFO block.
func writeMinimalFLAC(t *testing.T, path string, sampleRate, channels, bitDepth int, samples uint64) {
	t.Helper()
	info := make([]byte, 34)
	binary.BigEndian.PutUint16(info[0:], 4096)
	binary.BigEndian.PutUint16(info[2:], 4096)
	packed := uint64(sampleRate)<<44 | uint64(channels-1)<<41 | uint64(bitDepth-1)<<36 | samples
	binary.BigEndian.PutUint64(info[10:], packed)

	data := []byte("fLaC")
	data = append(data, 0x80, 0, 0, byte(len(info)))
	data = append(data, info...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write flac: %v", err)
	}
}

// writeBareMP3 writes an untagged file with an MPEG frame header.
func writeBareMP3(t *testing.T, path string) {
	t.Helper()
	data := append([]byte{0xFF, 0xFB, 0x90, 0x00}, make([]byte, 412)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write mp3: %v", err)
	}
}

func yesterdayUpdate() TagUpdate {
	return TagUpdate{
		Title:       "Yesterday",
		Artist:      "The Beatles",
		Album:       "Help!",
		Date:        "1965-08-06",
		ISRC:        "GBAYE0601477",
		UPC:         "0094638241621",
		TrackNumber: 13,
		TrackTotal:  14,
		ProviderIDs: map[string]string{"DEEZER_TRACKID": "3135556"},
	}
}

func TestFLACTagsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "13 Yesterday.flac")
	writeMinimalFLAC(t, path, 44100, 2, 16, 44100*125)

	if err := WriteTags(path, yesterdayUpdate()); err != nil {
		t.Fatalf("WriteTags returned error: %v", err)
	}
	meta, err := ReadAudioMetadata(path)
	if err != nil {
		t.Fatalf("ReadAudioMetadata returned error: %v", err)
	}
	if meta.Title != "Yesterday" || meta.Artist != "The Beatles" || meta.Album != "Help!" {
		t.Fatalf("unexpected text tags: %+v", meta)
	}
	if meta.TrackNumber != 13 || meta.TrackTotal != 14 {
		t.Fatalf("track position = %d/%d, want 13/14", meta.TrackNumber, meta.TrackTotal)
	}
	if meta.ISRC != "GBAYE0601477" || meta.UPC != "0094638241621" {
		t.Fatalf("identifiers = %q/%q", meta.ISRC, meta.UPC)
	}
	if !meta.Lossless || meta.Codec != "flac" {
		t.Fatalf("codec = %q lossless=%v", meta.Codec, meta.Lossless)
	}
	if meta.SampleRate != 44100 || meta.BitDepth != 16 || meta.Channels != 2 {
		t.Fatalf("stream info = %d Hz %d bit %d ch", meta.SampleRate, meta.BitDepth, meta.Channels)
	}
	if meta.DurationMillis != 125000 {
		t.Fatalf("duration = %d ms, want 125000", meta.DurationMillis)
	}

	// A second write replaces values instead of appending them.
	update := yesterdayUpdate()
	update.Title = "Yesterday (Remastered 2009)"
	if err := WriteTags(path, update); err != nil {
		t.Fatalf("second WriteTags returned error: %v", err)
	}
	f, err := flac.ParseFile(path)
	if err != nil {
		t.Fatalf("parse flac: %v", err)
	}
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			t.Fatalf("parse comment: %v", err)
		}
		titles, _ := cmt.Get(flacvorbis.FIELD_TITLE)
		if len(titles) != 1 || titles[0] != "Yesterday (Remastered 2009)" {
			t.Fatalf("TITLE values = %v", titles)
		}
		ids, _ := cmt.Get("DEEZER_TRACKID")
		if len(ids) != 1 || ids[0] != "3135556" {
			t.Fatalf("DEEZER_TRACKID values = %v", ids)
		}
	}
}

func TestMP3TagsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "yesterday.mp3")
	writeBareMP3(t, path)

	if err := WriteTags(path, yesterdayUpdate()); err != nil {
		t.Fatalf("WriteTags returned error: %v", err)
	}
	meta, err := ReadAudioMetadata(path)
	if err != nil {
		t.Fatalf("ReadAudioMetadata returned error: %v", err)
	}
	if meta.Title != "Yesterday" || meta.Artist != "The Beatles" || meta.Album != "Help!" {
		t.Fatalf("unexpected text tags: %+v", meta)
	}
	if meta.TrackNumber != 13 || meta.TrackTotal != 14 {
		t.Fatalf("track position = %d/%d, want 13/14", meta.TrackNumber, meta.TrackTotal)
	}
	if meta.ISRC != "GBAYE0601477" || meta.UPC != "0094638241621" {
		t.Fatalf("identifiers = %q/%q", meta.ISRC, meta.UPC)
	}
	if meta.Codec != "mp3" || meta.Lossless {
		t.Fatalf("codec = %q lossless=%v", meta.Codec, meta.Lossless)
	}
}

func TestReadAudioMetadataUntaggedGenericFormats(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		lossless bool
	}{
		{"ogg", "track.ogg", false},
		{"wav", "track.wav", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, make([]byte, 256), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			meta, err := ReadAudioMetadata(path)
			if err != nil {
				t.Fatalf("ReadAudioMetadata returned error: %v", err)
			}
			if meta.Codec != tt.name || meta.Lossless != tt.lossless || meta.Title != "" {
				t.Fatalf("unexpected metadata: %+v", meta)
			}
		})
	}
}

func TestWriteTagsUnsupportedFormat(t *testing.T) {
	err := WriteTags(filepath.Join(t.TempDir(), "track.ogg"), yesterdayUpdate())
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestTagUpdateFromMatch(t *testing.T) {
	update := TagUpdateFromMatch(MatchResult{Candidate: CandidateTrack{
		Provider:  ProviderTidal,
		TrackID:   "77646",
		TrackName: "Yesterday",
	}})
	if update.Title != "Yesterday" || update.ProviderIDs["TIDAL_TRACKID"] != "77646" {
		t.Fatalf("unexpected update: %+v", update)
	}
}

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in       string
		num, tot int
	}{
		{"", 0, 0},
		{"7", 7, 0},
		{"7/12", 7, 12},
		{" 3 / 9 ", 3, 9},
		{"A1", 0, 0},
		{"-2", 0, 0},
	}
	for _, tt := range tests {
		n, total := parsePosition(tt.in)
		if n != tt.num || total != tt.tot {
			t.Errorf("parsePosition(%q) = %d/%d, want %d/%d", tt.in, n, total, tt.num, tt.tot)
		}
	}
}

// writePCMWAV writes a silent 16-bit mono WAV of the given length.
func writePCMWAV(t *testing.T, path string, sampleRate, millis int) {
	t.Helper()
	dataSize := sampleRate * 2 * millis / 1000
	var buf bytes.Buffer
	le := binary.LittleEndian
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, le, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, le, uint32(16))
	_ = binary.Write(&buf, le, uint16(1)) // PCM
	_ = binary.Write(&buf, le, uint16(1))
	_ = binary.Write(&buf, le, uint32(sampleRate))
	_ = binary.Write(&buf, le, uint32(sampleRate*2))
	_ = binary.Write(&buf, le, uint16(2))
	_ = binary.Write(&buf, le, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, le, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write wav: %v", err)
	}
}

func TestReadAudioMetadataWAVStreamInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.wav")
	writePCMWAV(t, path, 8000, 1000)

	meta, err := ReadAudioMetadata(path)
	if err != nil {
		t.Fatalf("ReadAudioMetadata returned error: %v", err)
	}
	if meta.Codec != "wav" || !meta.Lossless {
		t.Fatalf("unexpected codec: %+v", meta)
	}
	if meta.SampleRate != 8000 || meta.Channels != 1 || meta.BitDepth != 16 {
		t.Fatalf("unexpected stream info: %+v", meta)
	}
	if meta.DurationMillis < 990 || meta.DurationMillis > 1010 {
		t.Fatalf("DurationMillis = %d, want about 1000", meta.DurationMillis)
	}
}
