// package formatter provides functions to export catalog data to various
// formats (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"

	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/shared"
)

// PlaylistExport bundles a playlist with its resolved tracks in play order.
type PlaylistExport struct {
	Playlist *models.Playlist
	Tracks   []*models.Track
}

// ExportToCSV converts a PlaylistExport to CSV format with columns: ID,
// Title, Artist, Album, Duration
func ExportToCSV(export *PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Title", "Artist", "Album", "Duration"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, track := range export.Tracks {
		duration := 0
		if track.Duration != nil {
			duration = *track.Duration
		}
		record := []string{
			track.RemoteID,
			track.Title,
			track.ArtistName,
			track.AlbumName,
			strconv.Itoa(duration),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ExportToMarkdown converts a PlaylistExport to Markdown format with optional
// cover image
func ExportToMarkdown(export *PlaylistExport, imageFilename string) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("# %s\n\n", export.Playlist.Name))

	if imageFilename != "" {
		buf.WriteString(fmt.Sprintf("![Cover](%s)\n\n", imageFilename))
	}

	if export.Playlist.Comment != "" {
		buf.WriteString(fmt.Sprintf("**Comment**: %s\n\n", export.Playlist.Comment))
	}
	if export.Playlist.Owner != "" {
		buf.WriteString(fmt.Sprintf("**Owner**: %s\n", export.Playlist.Owner))
	}

	buf.WriteString(fmt.Sprintf("**Tracks**: %d\n", len(export.Tracks)))
	buf.WriteString(fmt.Sprintf("**Visibility**: %s\n\n", shared.VisibilityString(export.Playlist.Public)))

	buf.WriteString("## Tracks\n\n")
	for i, track := range export.Tracks {
		duration := 0
		if track.Duration != nil {
			duration = *track.Duration
		}
		albumPart := ""
		if track.AlbumName != "" {
			albumPart = fmt.Sprintf(" (%s)", track.AlbumName)
		}
		buf.WriteString(fmt.Sprintf("%d. %s - %s%s [%s]\n",
			i+1, track.ArtistName, track.Title, albumPart, shared.FormatDuration(duration)))
	}

	return buf.Bytes(), nil
}

// ExportToText converts a PlaylistExport to plain text format
func ExportToText(export *PlaylistExport) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf("Playlist: %s\n", export.Playlist.Name))
	if export.Playlist.Comment != "" {
		buf.WriteString(fmt.Sprintf("Comment: %s\n", export.Playlist.Comment))
	}
	buf.WriteString(fmt.Sprintf("Tracks: %d\n\n", len(export.Tracks)))

	for i, track := range export.Tracks {
		buf.WriteString(fmt.Sprintf("%d. %s - %s\n", i+1, track.ArtistName, track.Title))
	}

	return buf.Bytes(), nil
}

// AlbumsToCSV renders an album listing with columns: ID, Name, Artist, Year,
// Genre, Tracks
func AlbumsToCSV(albums []*models.Album, artistNames map[string]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"ID", "Name", "Artist", "Year", "Genre", "Tracks"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, album := range albums {
		year := ""
		if album.Year != nil {
			year = strconv.Itoa(*album.Year)
		}
		record := []string{
			album.RemoteID,
			album.Name,
			artistNames[album.ArtistID],
			year,
			album.Genre,
			strconv.Itoa(len(album.TrackIDs)),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// ArtistsToText renders the artist index grouped the way the server groups it.
func ArtistsToText(indexes []*models.Index, artists map[string]*models.Artist) []byte {
	var buf bytes.Buffer
	for _, idx := range indexes {
		buf.WriteString(fmt.Sprintf("%s\n", idx.Name))
		for _, id := range idx.ArtistIDs {
			artist, ok := artists[id]
			if !ok {
				continue
			}
			buf.WriteString(fmt.Sprintf("  %s (%d albums)\n", artist.Name, len(artist.AlbumIDs)))
		}
	}
	return buf.Bytes()
}

// ToMetadataJSON generates a JSON representation of playlist metadata
// (without tracks)
func ToMetadataJSON(playlist *models.Playlist) ([]byte, error) {
	return shared.MarshalJSON(playlist, true)
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	TracksFile   string
	MetadataFile string
}

// WriteCSVExport exports a playlist to CSV format with accompanying metadata
// JSON file.
//
// Defaults to playlist ID as the base filename & creates {base}_tracks.csv
// and {base}_metadata.json
func WriteCSVExport(export *PlaylistExport, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = export.Playlist.RemoteID
	}

	csvData, err := ExportToCSV(export)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	tracksFile := baseFilepath + "_tracks.csv"
	if err := os.WriteFile(tracksFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	metadataJSON, err := ToMetadataJSON(export.Playlist)
	if err != nil {
		return nil, fmt.Errorf("failed to generate metadata JSON: %w", err)
	}

	metadataFile := baseFilepath + "_metadata.json"
	if err := os.WriteFile(metadataFile, metadataJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write metadata file: %w", err)
	}

	return &CSVExportResult{TracksFile: tracksFile, MetadataFile: metadataFile}, nil
}
