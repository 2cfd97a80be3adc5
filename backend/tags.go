package backend

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// ErrUnsupportedFormat is returned for files none of the tag readers understand.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// AudioMetadata is what the scanner knows about one audio file from its tags
// and stream headers.
type AudioMetadata struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumArtist string `json:"album_artist,omitempty"`
	// AlbumID is a release identifier (MusicBrainz album id) when tagged.
	AlbumID        string `json:"album_id,omitempty"`
	Year           string `json:"year,omitempty"`
	TrackNumber    int    `json:"track_number,omitempty"`
	TrackTotal     int    `json:"track_total,omitempty"`
	DiscNumber     int    `json:"disc_number,omitempty"`
	ISRC           string `json:"isrc,omitempty"`
	UPC            string `json:"upc,omitempty"`
	DurationMillis int    `json:"duration_ms,omitempty"`
	Bitrate        int    `json:"bitrate,omitempty"`
	SampleRate     int    `json:"sample_rate,omitempty"`
	BitDepth       int    `json:"bit_depth,omitempty"`
	Channels       int    `json:"channels,omitempty"`
	Codec          string `json:"codec"`
	Lossless       bool   `json:"lossless"`
	HasCover       bool   `json:"has_cover,omitempty"`
}

// ReadAudioMetadata reads tags from path. MP3 uses ID3v2, FLAC uses its
// Vorbis comment and STREAMINFO blocks, everything else goes through the
// generic tag reader.
func ReadAudioMetadata(path string) (*AudioMetadata, error) {
	ext := normalizeExtension(filepath.Ext(path))
	var (
		meta *AudioMetadata
		err  error
	)
	switch ext {
	case "mp3":
		meta, err = readID3Metadata(path)
	case "flac":
		meta, err = readFLACMetadata(path)
	case "wav":
		meta, err = readWAVMetadata(path)
	default:
		meta, err = readGenericMetadata(path, ext)
	}
	if err != nil {
		return nil, err
	}
	if info, statErr := os.Stat(path); statErr == nil && meta.Bitrate == 0 {
		meta.Bitrate = bitrateKbps(info.Size(), meta.DurationMillis)
	}
	return meta, nil
}

func readID3Metadata(path string) (*AudioMetadata, error) {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("read id3 tags: %w", err)
	}
	defer t.Close()

	meta := &AudioMetadata{
		Title:       strings.TrimSpace(t.Title()),
		Artist:      strings.TrimSpace(t.Artist()),
		Album:       strings.TrimSpace(t.Album()),
		AlbumArtist: id3Text(t, "TPE2"),
		Year:        strings.TrimSpace(t.Year()),
		ISRC:        id3Text(t, "TSRC"),
		Codec:       "mp3",
	}
	meta.TrackNumber, meta.TrackTotal = parsePosition(id3Text(t, "TRCK"))
	meta.DiscNumber, _ = parsePosition(id3Text(t, "TPOS"))
	if ms, err := strconv.Atoi(id3Text(t, "TLEN")); err == nil && ms > 0 {
		meta.DurationMillis = ms
	}

	for _, frame := range t.GetFrames(t.CommonID("User defined text information frame")) {
		udtf, ok := frame.(id3v2.UserDefinedTextFrame)
		if !ok {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(udtf.Description)) {
		case "BARCODE", "UPC":
			meta.UPC = strings.TrimSpace(udtf.Value)
		case "MUSICBRAINZ ALBUM ID":
			meta.AlbumID = strings.TrimSpace(udtf.Value)
		}
	}
	meta.HasCover = len(t.GetFrames(t.CommonID("Attached picture"))) > 0
	return meta, nil
}

func id3Text(t *id3v2.Tag, id string) string {
	return strings.TrimSpace(t.GetTextFrame(id).Text)
}

func readFLACMetadata(path string) (*AudioMetadata, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse flac: %w", err)
	}

	meta := &AudioMetadata{Codec: "flac", Lossless: true}
	for _, block := range f.Meta {
		switch block.Type {
		case flac.VorbisComment:
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return nil, fmt.Errorf("parse vorbis comment: %w", err)
			}
			applyVorbisComment(meta, cmt)
		case flac.Picture:
			if pic, err := flacpicture.ParseFromMetaDataBlock(*block); err == nil && len(pic.ImageData) > 0 {
				meta.HasCover = true
			}
		}
	}

	if info, err := ReadFLACStreamInfo(path); err == nil {
		meta.SampleRate = info.SampleRate
		meta.BitDepth = info.BitDepth
		meta.Channels = info.Channels
		meta.DurationMillis = info.DurationMillis
	}
	return meta, nil
}

func applyVorbisComment(meta *AudioMetadata, cmt *flacvorbis.MetaDataBlockVorbisComment) {
	first := func(key string) string {
		values, err := cmt.Get(key)
		if err != nil || len(values) == 0 {
			return ""
		}
		return strings.TrimSpace(values[0])
	}
	meta.Title = first(flacvorbis.FIELD_TITLE)
	meta.Artist = first(flacvorbis.FIELD_ARTIST)
	meta.Album = first(flacvorbis.FIELD_ALBUM)
	meta.AlbumArtist = first("ALBUMARTIST")
	meta.Year = first(flacvorbis.FIELD_DATE)
	meta.ISRC = first(flacvorbis.FIELD_ISRC)
	meta.AlbumID = first("MUSICBRAINZ_ALBUMID")

	meta.TrackNumber, meta.TrackTotal = parsePosition(first(flacvorbis.FIELD_TRACKNUMBER))
	if meta.TrackTotal == 0 {
		for _, key := range []string{"TRACKTOTAL", "TOTALTRACKS"} {
			if n, err := strconv.Atoi(first(key)); err == nil && n > 0 {
				meta.TrackTotal = n
				break
			}
		}
	}
	meta.DiscNumber, _ = parsePosition(first("DISCNUMBER"))
	for _, key := range []string{"BARCODE", "UPC"} {
		if v := first(key); v != "" {
			meta.UPC = v
			break
		}
	}
}

var losslessCodecs = map[string]bool{"flac": true, "wav": true, "alac": true, "aiff": true, "ape": true}

func readGenericMetadata(path, ext string) (*AudioMetadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		if errors.Is(err, tag.ErrNoTagsFound) {
			return &AudioMetadata{Codec: ext, Lossless: losslessCodecs[ext]}, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnsupportedFormat, filepath.Base(path), err)
	}

	codec := strings.ToLower(string(m.FileType()))
	if codec == "" || codec == strings.ToLower(string(tag.UnknownFileType)) {
		codec = ext
	}
	meta := &AudioMetadata{
		Title:       strings.TrimSpace(m.Title()),
		Artist:      strings.TrimSpace(m.Artist()),
		Album:       strings.TrimSpace(m.Album()),
		AlbumArtist: strings.TrimSpace(m.AlbumArtist()),
		Codec:       codec,
		Lossless:    losslessCodecs[codec],
		HasCover:    m.Picture() != nil,
	}
	if y := m.Year(); y > 0 {
		meta.Year = strconv.Itoa(y)
	}
	meta.TrackNumber, meta.TrackTotal = m.Track()
	meta.DiscNumber, _ = m.Disc()

	for key, value := range m.Raw() {
		s, ok := value.(string)
		if !ok {
			continue
		}
		switch strings.ToUpper(key) {
		case "ISRC", "TSRC":
			meta.ISRC = strings.TrimSpace(s)
		case "BARCODE", "UPC":
			meta.UPC = strings.TrimSpace(s)
		case "MUSICBRAINZ_ALBUMID", "MUSICBRAINZ ALBUM ID":
			meta.AlbumID = strings.TrimSpace(s)
		}
	}
	return meta, nil
}

// parsePosition parses "3" or "3/12".
func parsePosition(s string) (int, int) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0
	}
	num, total, _ := strings.Cut(s, "/")
	n, _ := strconv.Atoi(strings.TrimSpace(num))
	t, _ := strconv.Atoi(strings.TrimSpace(total))
	return max(n, 0), max(t, 0)
}
