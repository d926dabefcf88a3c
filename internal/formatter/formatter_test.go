package formatter

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coveborn/periscope/internal/models"
)

func sampleExport() *PlaylistExport {
	public := true
	d1, d2 := 201, 3725
	return &PlaylistExport{
		Playlist: &models.Playlist{
			ServerID: "s1", RemoteID: "pl1",
			Name: "Road Trip", Comment: "windows down", Owner: "anna", Public: &public,
			TrackIDs: []string{"t1", "t2"},
		},
		Tracks: []*models.Track{
			{RemoteID: "t1", Title: "Opener", ArtistName: "Aardvark", AlbumName: "First", Duration: &d1},
			{RemoteID: "t2", Title: "Long One", ArtistName: "Basalt", Duration: &d2},
		},
	}
}

func TestExportToCSV(t *testing.T) {
	data, err := ExportToCSV(sampleExport())
	if err != nil {
		t.Fatalf("ExportToCSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("reading produced CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(records))
	}
	if got := strings.Join(records[0], ","); got != "ID,Title,Artist,Album,Duration" {
		t.Errorf("header = %q", got)
	}
	if records[1][0] != "t1" || records[1][1] != "Opener" || records[1][4] != "201" {
		t.Errorf("row 1 = %v", records[1])
	}
	if records[2][3] != "" {
		t.Errorf("row 2 album = %q, want empty", records[2][3])
	}
}

func TestExportToMarkdown(t *testing.T) {
	data, err := ExportToMarkdown(sampleExport(), "cover.jpg")
	if err != nil {
		t.Fatalf("ExportToMarkdown: %v", err)
	}
	out := string(data)

	for _, want := range []string{
		"# Road Trip",
		"![Cover](cover.jpg)",
		"**Comment**: windows down",
		"**Owner**: anna",
		"**Tracks**: 2",
		"**Visibility**: public",
		"1. Aardvark - Opener (First) [3:21]",
		"2. Basalt - Long One [1:02:05]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestExportToMarkdown_NoImage(t *testing.T) {
	data, err := ExportToMarkdown(sampleExport(), "")
	if err != nil {
		t.Fatalf("ExportToMarkdown: %v", err)
	}
	if strings.Contains(string(data), "![Cover]") {
		t.Error("image reference present without a filename")
	}
}

func TestExportToText(t *testing.T) {
	data, err := ExportToText(sampleExport())
	if err != nil {
		t.Fatalf("ExportToText: %v", err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "Playlist: Road Trip\n") {
		t.Errorf("header = %q", out)
	}
	if !strings.Contains(out, "1. Aardvark - Opener\n") {
		t.Errorf("track line missing:\n%s", out)
	}
}

func TestAlbumsToCSV(t *testing.T) {
	year := 2004
	albums := []*models.Album{
		{RemoteID: "al1", Name: "First", ArtistID: "ar1", Year: &year, Genre: "Rock", TrackIDs: []string{"t1", "t2"}},
		{RemoteID: "al2", Name: "Unknown Year", ArtistID: "ar9"},
	}
	data, err := AlbumsToCSV(albums, map[string]string{"ar1": "Aardvark"})
	if err != nil {
		t.Fatalf("AlbumsToCSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("reading produced CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d", len(records))
	}
	if records[1][2] != "Aardvark" || records[1][3] != "2004" || records[1][5] != "2" {
		t.Errorf("row 1 = %v", records[1])
	}
	if records[2][2] != "" || records[2][3] != "" {
		t.Errorf("row 2 = %v, want unresolved artist and year empty", records[2])
	}
}

func TestArtistsToText(t *testing.T) {
	indexes := []*models.Index{
		{Name: "A", ArtistIDs: []string{"ar1", "missing"}},
		{Name: "B", ArtistIDs: []string{"ar2"}},
	}
	artists := map[string]*models.Artist{
		"ar1": {RemoteID: "ar1", Name: "Aardvark", AlbumIDs: []string{"al1", "al2"}},
		"ar2": {RemoteID: "ar2", Name: "Basalt"},
	}
	out := string(ArtistsToText(indexes, artists))

	want := "A\n  Aardvark (2 albums)\nB\n  Basalt (0 albums)\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestWriteCSVExport(t *testing.T) {
	base := filepath.Join(t.TempDir(), "roadtrip")
	result, err := WriteCSVExport(sampleExport(), base)
	if err != nil {
		t.Fatalf("WriteCSVExport: %v", err)
	}

	if result.TracksFile != base+"_tracks.csv" {
		t.Errorf("TracksFile = %q", result.TracksFile)
	}
	if result.MetadataFile != base+"_metadata.json" {
		t.Errorf("MetadataFile = %q", result.MetadataFile)
	}

	tracks, err := os.ReadFile(result.TracksFile)
	if err != nil {
		t.Fatalf("reading tracks file: %v", err)
	}
	if !strings.Contains(string(tracks), "Opener") {
		t.Error("tracks file missing content")
	}

	meta, err := os.ReadFile(result.MetadataFile)
	if err != nil {
		t.Fatalf("reading metadata file: %v", err)
	}
	if !strings.Contains(string(meta), "Road Trip") {
		t.Error("metadata file missing playlist name")
	}
}
