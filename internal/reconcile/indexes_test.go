package reconcile

import (
	"testing"
	"time"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

const indexesTwoGroups = `<subsonic-response status="ok" version="1.16.1">
	<indexes lastModified="1700000000000">
		<index name="A">
			<artist id="ar1" name="Aardvark"/>
			<artist id="ar2" name="Ashes"/>
		</index>
		<index name="B">
			<artist id="ar3" name="Basalt"/>
		</index>
	</indexes>
</subsonic-response>`

func TestReconciler_Indexes(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetIndexes, testServerID, nil)
	applyXML(t, r, req, indexesTwoGroups)

	if n := countKind(store, testServerID, models.KindArtist); n != 3 {
		t.Fatalf("artists = %d, want 3", n)
	}
	store.View(func(tx *graph.Tx) error {
		group, ok := tx.Index(testServerID, "A")
		if !ok {
			t.Fatal("index group A missing")
		}
		if len(group.ArtistIDs) != 2 || group.ArtistIDs[0] != "ar1" || group.ArtistIDs[1] != "ar2" {
			t.Errorf("group A artists = %v", group.ArtistIDs)
		}
		artist, _ := tx.Artist(testServerID, "ar3")
		if artist == nil || artist.Name != "Basalt" || artist.NeedsRefresh {
			t.Errorf("ar3 = %+v", artist)
		}
		return nil
	})

	want := time.UnixMilli(1700000000000)
	if got := getServer(t, store).LastIndexUpdate; !got.Equal(want) {
		t.Errorf("LastIndexUpdate = %v, want %v", got, want)
	}
}

func TestReconciler_Indexes_Idempotent(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetIndexes, testServerID, nil)
	applyXML(t, r, req, indexesTwoGroups)
	applyXML(t, r, req, indexesTwoGroups)

	if n := countKind(store, testServerID, models.KindArtist); n != 3 {
		t.Errorf("artists after second apply = %d, want 3", n)
	}
	if n := countKind(store, testServerID, models.KindIndex); n != 2 {
		t.Errorf("index groups after second apply = %d, want 2", n)
	}
}

func TestReconciler_Indexes_IncrementalNeverDeletes(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	store.Seed(
		&models.Artist{ServerID: testServerID, RemoteID: "ar9", Name: "Keeper"},
		&models.Index{ServerID: testServerID, Name: "K", ArtistIDs: []string{"ar9"}},
	)

	req := subsonic.NewRequest(subsonic.OpGetIndexes, testServerID,
		map[string]string{"ifModifiedSince": "1700000000000"})
	applyXML(t, r, req, indexesTwoGroups)

	store.View(func(tx *graph.Tx) error {
		if _, ok := tx.Artist(testServerID, "ar9"); !ok {
			t.Error("incremental fetch deleted an absent artist")
		}
		if _, ok := tx.Index(testServerID, "K"); !ok {
			t.Error("incremental fetch deleted an absent index group")
		}
		return nil
	})
	if n := countKind(store, testServerID, models.KindArtist); n != 4 {
		t.Errorf("artists = %d, want 4", n)
	}
}

func TestReconciler_Indexes_NotModifiedIsNoop(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	applyXML(t, r, subsonic.NewRequest(subsonic.OpGetIndexes, testServerID, nil), indexesTwoGroups)
	before := getServer(t, store).LastIndexUpdate

	// A server with nothing new answers an incremental fetch with a bare ok
	// envelope, no indexes element at all.
	req := subsonic.NewRequest(subsonic.OpGetIndexes, testServerID,
		map[string]string{"ifModifiedSince": "1700000000000"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1"></subsonic-response>`)

	if n := countKind(store, testServerID, models.KindArtist); n != 3 {
		t.Errorf("artists = %d, want 3", n)
	}
	if n := countKind(store, testServerID, models.KindIndex); n != 2 {
		t.Errorf("index groups = %d, want 2", n)
	}
	if got := getServer(t, store).LastIndexUpdate; !got.Equal(before) {
		t.Errorf("LastIndexUpdate = %v, want unchanged %v", got, before)
	}
}

func TestReconciler_Indexes_FullRefreshPrunes(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	store.Seed(
		&models.Artist{ServerID: testServerID, RemoteID: "ar9", Name: "Gone", AlbumIDs: []string{"al9"}},
		&models.Album{ServerID: testServerID, RemoteID: "al9", Name: "Gone LP", ArtistID: "ar9", TrackIDs: []string{"t8", "t9"}},
		&models.Track{ServerID: testServerID, RemoteID: "t8", Title: "Plain", AlbumID: "al9"},
		&models.Track{ServerID: testServerID, RemoteID: "t9", Title: "Downloaded", AlbumID: "al9", LocalTrackID: "loc1"},
		&models.Track{ServerID: models.LocalLibraryID, RemoteID: "loc1", IsLocal: true, RemoteTrackID: "t9", PairedServerID: testServerID},
		&models.Index{ServerID: testServerID, Name: "G", ArtistIDs: []string{"ar9"}},
	)

	req := subsonic.NewRequest(subsonic.OpGetIndexes, testServerID, nil)
	applyXML(t, r, req, indexesTwoGroups)

	store.View(func(tx *graph.Tx) error {
		if _, ok := tx.Artist(testServerID, "ar9"); ok {
			t.Error("pruned artist survived full refresh")
		}
		if _, ok := tx.Album(testServerID, "al9"); ok {
			t.Error("pruned album survived full refresh")
		}
		if _, ok := tx.Track(testServerID, "t8"); ok {
			t.Error("unpaired track survived album prune")
		}
		if _, ok := tx.Index(testServerID, "G"); ok {
			t.Error("stale index group survived full refresh")
		}
		return nil
	})

	// The paired track outlives its album; the pairing stays symmetric.
	paired := getTrack(t, store, testServerID, "t9")
	if paired.AlbumID != "" {
		t.Errorf("paired track AlbumID = %q, want detached", paired.AlbumID)
	}
	if paired.LocalTrackID != "loc1" {
		t.Errorf("paired track LocalTrackID = %q", paired.LocalTrackID)
	}
	local := getTrack(t, store, models.LocalLibraryID, "loc1")
	if local.RemoteTrackID != "t9" || local.PairedServerID != testServerID {
		t.Errorf("local pairing = (%q, %q)", local.RemoteTrackID, local.PairedServerID)
	}
}

func TestReconciler_Indexes_ArtistsResponse(t *testing.T) {
	// The ID3 variant decodes to the same element shapes under a different
	// payload name.
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetArtists, testServerID, nil)
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<artists>
			<index name="C"><artist id="ar5" name="Cobalt"/></index>
		</artists>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		if _, ok := tx.Artist(testServerID, "ar5"); !ok {
			t.Error("artist from getArtists response missing")
		}
		return nil
	})
	if getServer(t, store).LastIndexUpdate.IsZero() {
		t.Error("LastIndexUpdate not stamped without lastModified attribute")
	}
}
