package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Provider names accepted by LoadCandidates.
const (
	ProviderDeezer      = "deezer"
	ProviderTidal       = "tidal"
	ProviderMusicBrainz = "musicbrainz"
	ProviderGeneric     = "generic"
)

// DeezerTrack is a track object as returned by Deezer's /track and /album/{id}/tracks endpoints.
type DeezerTrack struct {
	ID            int64  `json:"id"`
	Title         string `json:"title"`
	TitleVersion  string `json:"title_version"`
	ISRC          string `json:"isrc"`
	Duration      int    `json:"duration"`
	TrackPosition int    `json:"track_position"`
	DiskNumber    int    `json:"disk_number"`
	ReleaseDate   string `json:"release_date"`
	Artist        struct {
		Name string `json:"name"`
	} `json:"artist"`
	Album struct {
		ID          int64  `json:"id"`
		Title       string `json:"title"`
		UPC         string `json:"upc"`
		ReleaseDate string `json:"release_date"`
		NbTracks    int    `json:"nb_tracks"`
	} `json:"album"`
}

// Candidate implements CandidateSource.
func (d DeezerTrack) Candidate() CandidateTrack {
	title := d.Title
	if v := strings.TrimSpace(d.TitleVersion); v != "" && !strings.Contains(title, v) {
		title = title + " " + v
	}
	date := d.ReleaseDate
	if date == "" {
		date = d.Album.ReleaseDate
	}
	return CandidateTrack{
		Provider:        ProviderDeezer,
		TrackID:         idString(d.ID),
		AlbumID:         idString(d.Album.ID),
		TrackName:       title,
		AlbumName:       d.Album.Title,
		ArtistName:      d.Artist.Name,
		ISRC:            d.ISRC,
		UPC:             d.Album.UPC,
		Duration:        float64(d.Duration),
		TrackNumber:     d.TrackPosition,
		TrackTotalCount: d.Album.NbTracks,
		ReleaseDate:     date,
	}
}

// TidalTrack is a track object from Tidal's /tracks endpoints.
type TidalTrack struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Version      string `json:"version"`
	ISRC         string `json:"isrc"`
	Duration     int    `json:"duration"`
	TrackNumber  int    `json:"trackNumber"`
	VolumeNumber int    `json:"volumeNumber"`
	Artists      []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"artists"`
	Album struct {
		ID             int64  `json:"id"`
		Title          string `json:"title"`
		UPC            string `json:"upc"`
		ReleaseDate    string `json:"releaseDate"`
		NumberOfTracks int    `json:"numberOfTracks"`
	} `json:"album"`
}

// Candidate implements CandidateSource.
func (t TidalTrack) Candidate() CandidateTrack {
	title := t.Title
	if v := strings.TrimSpace(t.Version); v != "" {
		title = fmt.Sprintf("%s (%s)", title, v)
	}
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return CandidateTrack{
		Provider:        ProviderTidal,
		TrackID:         idString(t.ID),
		AlbumID:         idString(t.Album.ID),
		TrackName:       title,
		AlbumName:       t.Album.Title,
		ArtistName:      strings.Join(names, ", "),
		ISRC:            t.ISRC,
		UPC:             t.Album.UPC,
		Duration:        float64(t.Duration),
		TrackNumber:     t.TrackNumber,
		TrackTotalCount: t.Album.NumberOfTracks,
		ReleaseDate:     t.Album.ReleaseDate,
	}
}

// MusicBrainzRecording is a recording from the MusicBrainz web service
// (inc=artist-credits+isrcs+releases+media).
type MusicBrainzRecording struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Length       int      `json:"length"` // milliseconds
	ISRCs        []string `json:"isrcs"`
	ArtistCredit []struct {
		Name       string `json:"name"`
		JoinPhrase string `json:"joinphrase"`
	} `json:"artist-credit"`
	Releases []struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Date    string `json:"date"`
		Barcode string `json:"barcode"`
		Media   []struct {
			Position   int `json:"position"`
			TrackCount int `json:"track-count"`
			Track      []struct {
				Number   string `json:"number"`
				Position int    `json:"position"`
			} `json:"track"`
		} `json:"media"`
	} `json:"releases"`
}

// Candidate implements CandidateSource. The first listed release supplies
// the album fields.
func (r MusicBrainzRecording) Candidate() CandidateTrack {
	var artist strings.Builder
	for _, credit := range r.ArtistCredit {
		artist.WriteString(credit.Name)
		artist.WriteString(credit.JoinPhrase)
	}
	c := CandidateTrack{
		Provider:   ProviderMusicBrainz,
		TrackID:    r.ID,
		TrackName:  r.Title,
		ArtistName: strings.TrimSpace(artist.String()),
		Duration:   float64(r.Length) / 1000,
	}
	if len(r.ISRCs) > 0 {
		c.ISRC = r.ISRCs[0]
	}
	if len(r.Releases) > 0 {
		rel := r.Releases[0]
		c.AlbumID = rel.ID
		c.AlbumName = rel.Title
		c.ReleaseDate = rel.Date
		c.UPC = rel.Barcode
		if len(rel.Media) > 0 {
			medium := rel.Media[0]
			c.TrackTotalCount = medium.TrackCount
			if len(medium.Track) > 0 {
				c.TrackNumber = medium.Track[0].Position
			}
		}
	}
	return c
}

// AdaptCandidates converts provider records into comparable candidates.
func AdaptCandidates[T CandidateSource](records []T) []CandidateTrack {
	out := make([]CandidateTrack, 0, len(records))
	for _, r := range records {
		out = append(out, r.Candidate())
	}
	return out
}

// LoadCandidates reads a provider JSON export. The file holds either an array
// of records or an object wrapping them in "data" (Deezer), "items" (Tidal),
// "recordings" (MusicBrainz search) or "tracks".
func LoadCandidates(path, provider string) ([]CandidateTrack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	raw, err := unwrapRecords(data)
	if err != nil {
		return nil, fmt.Errorf("candidates %s: %w", path, err)
	}

	switch strings.ToLower(strings.TrimSpace(provider)) {
	case ProviderDeezer:
		return decodeCandidates[DeezerTrack](raw)
	case ProviderTidal:
		return decodeCandidates[TidalTrack](raw)
	case ProviderMusicBrainz:
		return decodeCandidates[MusicBrainzRecording](raw)
	case ProviderGeneric, "":
		return decodeCandidates[CandidateTrack](raw)
	default:
		return nil, fmt.Errorf("unknown provider %q (want deezer, tidal, musicbrainz or generic)", provider)
	}
}

func decodeCandidates[T CandidateSource](raw json.RawMessage) ([]CandidateTrack, error) {
	var records []T
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return AdaptCandidates(records), nil
}

// unwrapRecords returns the JSON array of records inside data.
func unwrapRecords(data []byte) (json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}
	if data[0] == '[' {
		return data, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	for _, key := range []string{"data", "items", "recordings", "tracks"} {
		if inner, ok := envelope[key]; ok {
			inner = bytes.TrimSpace(inner)
			if len(inner) > 0 && inner[0] == '[' {
				return inner, nil
			}
			// {"tracks": {"items": [...]}}
			return unwrapRecords(inner)
		}
	}
	return nil, fmt.Errorf("no record array found (want a list or data/items/recordings/tracks)")
}

func idString(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
