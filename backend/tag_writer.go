package backend

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
)

// TagUpdate is the set of tags written back to a file after a match.
// Empty fields leave the existing tag untouched.
type TagUpdate struct {
	Title       string
	Artist      string
	Album       string
	Date        string
	ISRC        string
	UPC         string
	TrackNumber int
	TrackTotal  int
	// ProviderIDs are written as user text frames / comments named "<PROVIDER>_TRACKID".
	ProviderIDs map[string]string
}

// TagUpdateFromMatch takes the catalog's view of an accepted match.
func TagUpdateFromMatch(m MatchResult) TagUpdate {
	c := m.Candidate
	update := TagUpdate{
		Title:       c.TrackName,
		Artist:      c.ArtistName,
		Album:       c.AlbumName,
		Date:        c.ReleaseDate,
		ISRC:        c.ISRC,
		UPC:         c.UPC,
		TrackNumber: c.TrackNumber,
		TrackTotal:  c.TrackTotalCount,
	}
	if c.Provider != "" && c.TrackID != "" {
		update.ProviderIDs = map[string]string{strings.ToUpper(c.Provider) + "_TRACKID": c.TrackID}
	}
	return update
}

// WriteTags writes update into the file at path. MP3 and FLAC are supported.
func WriteTags(path string, update TagUpdate) error {
	switch normalizeExtension(filepath.Ext(path)) {
	case "mp3":
		return writeID3Tags(path, update)
	case "flac":
		return writeFLACTags(path, update)
	default:
		return fmt.Errorf("%w: cannot write tags to %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

func position(n, total int) string {
	if n <= 0 {
		return ""
	}
	if total > 0 {
		return fmt.Sprintf("%d/%d", n, total)
	}
	return strconv.Itoa(n)
}

func writeID3Tags(path string, u TagUpdate) error {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open id3 tags: %w", err)
	}
	defer t.Close()

	t.SetDefaultEncoding(id3v2.EncodingUTF8)
	if u.Title != "" {
		t.SetTitle(u.Title)
	}
	if u.Artist != "" {
		t.SetArtist(u.Artist)
	}
	if u.Album != "" {
		t.SetAlbum(u.Album)
	}
	if u.Date != "" {
		t.SetYear(u.Date)
	}
	if u.ISRC != "" {
		t.AddTextFrame("TSRC", t.DefaultEncoding(), u.ISRC)
	}
	if pos := position(u.TrackNumber, u.TrackTotal); pos != "" {
		t.AddTextFrame("TRCK", t.DefaultEncoding(), pos)
	}

	user := map[string]string{}
	if u.UPC != "" {
		user["BARCODE"] = u.UPC
	}
	for k, v := range u.ProviderIDs {
		if v != "" {
			user[k] = v
		}
	}
	if len(user) > 0 {
		txxx := t.CommonID("User defined text information frame")
		var keep []id3v2.UserDefinedTextFrame
		for _, frame := range t.GetFrames(txxx) {
			udtf, ok := frame.(id3v2.UserDefinedTextFrame)
			if !ok {
				continue
			}
			if _, replaced := user[strings.ToUpper(udtf.Description)]; !replaced {
				keep = append(keep, udtf)
			}
		}
		t.DeleteFrames(txxx)
		for _, udtf := range keep {
			t.AddUserDefinedTextFrame(udtf)
		}
		for _, key := range slices.Sorted(maps.Keys(user)) {
			t.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
				Encoding:    t.DefaultEncoding(),
				Description: key,
				Value:       user[key],
			})
		}
	}

	if err := t.Save(); err != nil {
		return fmt.Errorf("save id3 tags: %w", err)
	}
	return nil
}

func writeFLACTags(path string, u TagUpdate) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return fmt.Errorf("parse flac: %w", err)
	}

	var (
		cmt      *flacvorbis.MetaDataBlockVorbisComment
		cmtIndex = -1
	)
	for i, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmt, err = flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				return fmt.Errorf("parse vorbis comment: %w", err)
			}
			cmtIndex = i
			break
		}
	}
	if cmt == nil {
		cmt = flacvorbis.New()
	}

	fields := map[string]string{
		flacvorbis.FIELD_TITLE:  u.Title,
		flacvorbis.FIELD_ARTIST: u.Artist,
		flacvorbis.FIELD_ALBUM:  u.Album,
		flacvorbis.FIELD_DATE:   u.Date,
		flacvorbis.FIELD_ISRC:   u.ISRC,
		"BARCODE":               u.UPC,
	}
	if u.TrackNumber > 0 {
		fields[flacvorbis.FIELD_TRACKNUMBER] = strconv.Itoa(u.TrackNumber)
	}
	if u.TrackTotal > 0 {
		fields["TRACKTOTAL"] = strconv.Itoa(u.TrackTotal)
	}
	for k, v := range u.ProviderIDs {
		fields[k] = v
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}

	// Existing values for the written keys are replaced, not appended to.
	kept := cmt.Comments[:0]
	for _, comment := range cmt.Comments {
		key, _, _ := strings.Cut(comment, "=")
		if _, replaced := fields[strings.ToUpper(key)]; !replaced {
			kept = append(kept, comment)
		}
	}
	cmt.Comments = kept
	for _, key := range slices.Sorted(maps.Keys(fields)) {
		if err := cmt.Add(key, fields[key]); err != nil {
			return fmt.Errorf("add %s: %w", key, err)
		}
	}

	block := cmt.Marshal()
	if cmtIndex >= 0 {
		f.Meta[cmtIndex] = &block
	} else {
		f.Meta = append(f.Meta, &block)
	}
	if err := f.Save(path); err != nil {
		return fmt.Errorf("save flac: %w", err)
	}
	return nil
}
