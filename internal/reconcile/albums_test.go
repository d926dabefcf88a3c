package reconcile

import (
	"testing"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

func TestReconciler_Artist(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetArtist, testServerID, map[string]string{"id": "ar1"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<artist id="ar1" name="Aardvark" coverArt="c1">
			<album id="al1" name="First" coverArt="c1" year="2001" genre="Rock"/>
			<album id="al2" name="Second" coverArt="c2" year="2004"/>
		</artist>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		artist, ok := tx.Artist(testServerID, "ar1")
		if !ok {
			t.Fatal("artist missing")
		}
		if artist.Name != "Aardvark" || artist.NeedsRefresh {
			t.Errorf("artist = %+v", artist)
		}
		if len(artist.AlbumIDs) != 2 || artist.AlbumIDs[0] != "al1" || artist.AlbumIDs[1] != "al2" {
			t.Errorf("AlbumIDs = %v", artist.AlbumIDs)
		}
		album, _ := tx.Album(testServerID, "al1")
		if album == nil || album.ArtistID != "ar1" || album.Genre != "Rock" {
			t.Errorf("al1 = %+v", album)
		}
		if album.Year == nil || *album.Year != 2001 {
			t.Errorf("al1 year = %v", album.Year)
		}
		if _, ok := tx.Cover(testServerID, "c2"); !ok {
			t.Error("cover c2 missing")
		}
		return nil
	})
}

func TestReconciler_Artist_RefreshReplacesAlbumList(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	store.Seed(
		&models.Artist{ServerID: testServerID, RemoteID: "ar1", Name: "Aardvark", AlbumIDs: []string{"al1", "al2"}},
		&models.Album{ServerID: testServerID, RemoteID: "al1", Name: "First", ArtistID: "ar1"},
		&models.Album{ServerID: testServerID, RemoteID: "al2", Name: "Second", ArtistID: "ar1"},
	)

	req := subsonic.NewRequest(subsonic.OpGetArtist, testServerID, map[string]string{"id": "ar1"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<artist id="ar1" name="Aardvark">
			<album id="al2" name="Second"/>
		</artist>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		artist, _ := tx.Artist(testServerID, "ar1")
		if len(artist.AlbumIDs) != 1 || artist.AlbumIDs[0] != "al2" {
			t.Errorf("AlbumIDs = %v, want [al2]", artist.AlbumIDs)
		}
		// Only structural index refreshes delete; the entity itself stays.
		if _, ok := tx.Album(testServerID, "al1"); !ok {
			t.Error("getArtist deleted an album entity")
		}
		return nil
	})
}

func TestReconciler_Artist_StubMarkedForRefresh(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	// A song element naming an unknown artist produces a stub parent.
	req := subsonic.NewRequest(subsonic.OpGetAlbum, testServerID, map[string]string{"id": "al1"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<album id="al1" name="Orphaned" artistId="ar7">
			<song id="t1" title="Lone" albumId="al1" artistId="ar7"/>
		</album>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		artist, ok := tx.Artist(testServerID, "ar7")
		if !ok {
			t.Fatal("stub artist missing")
		}
		if !artist.NeedsRefresh {
			t.Error("nameless stub not marked for refresh")
		}
		return nil
	})
}

func TestReconciler_Album(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetAlbum, testServerID, map[string]string{"id": "al1"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<album id="al1" name="First" artistId="ar1" artist="Aardvark" coverArt="c1">
			<song id="t1" title="Opener" albumId="al1" track="1" duration="201" coverArt="c1" suffix="mp3" size="4840000"/>
			<song id="t2" title="Closer" albumId="al1" track="2" duration="188" coverArt="c1" suffix="mp3"/>
		</album>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		album, ok := tx.Album(testServerID, "al1")
		if !ok {
			t.Fatal("album missing")
		}
		if album.NeedsRefresh {
			t.Error("fully fetched album still marked for refresh")
		}
		if len(album.TrackIDs) != 2 || album.TrackIDs[0] != "t1" || album.TrackIDs[1] != "t2" {
			t.Errorf("TrackIDs = %v", album.TrackIDs)
		}
		track, _ := tx.Track(testServerID, "t1")
		if track.Duration == nil || *track.Duration != 201 {
			t.Errorf("t1 duration = %v", track.Duration)
		}
		if track.Size == nil || *track.Size != 4840000 {
			t.Errorf("t1 size = %v", track.Size)
		}
		return nil
	})

	// Two songs and the album share one cover id: exactly one cover entity.
	if n := countKind(store, testServerID, models.KindCover); n != 1 {
		t.Errorf("covers = %d, want 1", n)
	}
}

func TestReconciler_AlbumList(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetAlbumList, testServerID,
		map[string]string{"type": "newest", "size": "20"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<albumList2>
			<album id="al3" title="Third" artistId="ar2" artist="Ashes"/>
			<album id="al1" name="First" artistId="ar1" artist="Aardvark"/>
		</albumList2>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		srv, _ := tx.Server(testServerID)
		got := srv.Home[models.AlbumListNewest]
		if len(got) != 2 || got[0] != "al3" || got[1] != "al1" {
			t.Errorf("Home[newest] = %v", got)
		}
		// Older servers name list entries via title.
		album, _ := tx.Album(testServerID, "al3")
		if album == nil || album.Name != "Third" {
			t.Errorf("al3 = %+v", album)
		}
		return nil
	})
}

func TestReconciler_AlbumList_ReplacesAggregate(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetAlbumList, testServerID, map[string]string{"type": "recent"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<albumList2><album id="al1" name="First"/></albumList2>
	</subsonic-response>`)
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<albumList2><album id="al2" name="Second"/></albumList2>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		srv, _ := tx.Server(testServerID)
		got := srv.Home[models.AlbumListRecent]
		if len(got) != 1 || got[0] != "al2" {
			t.Errorf("Home[recent] = %v, want [al2]", got)
		}
		if _, ok := tx.Album(testServerID, "al1"); !ok {
			t.Error("album dropped from aggregate was deleted")
		}
		return nil
	})
}
