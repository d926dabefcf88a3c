package reconcile

import (
	"testing"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

func playlistBody(entries string) string {
	return `<subsonic-response status="ok" version="1.16.1">
		<playlist id="pl1" name="Road Trip" owner="anna" public="true">` + entries + `
		</playlist>
	</subsonic-response>`
}

func TestReconciler_Playlists(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetPlaylists, testServerID, nil)
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<playlists>
			<playlist id="pl1" name="Road Trip" owner="anna" public="true"/>
			<playlist id="pl2" name="Focus" comment="quiet" public="false"/>
		</playlists>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		pl, ok := tx.Playlist(testServerID, "pl1")
		if !ok || pl.Name != "Road Trip" || pl.Owner != "anna" {
			t.Errorf("pl1 = %+v, ok = %v", pl, ok)
		}
		if pl.Public == nil || !*pl.Public {
			t.Errorf("pl1 public = %v", pl.Public)
		}
		pl2, _ := tx.Playlist(testServerID, "pl2")
		if pl2 == nil || pl2.Comment != "quiet" {
			t.Errorf("pl2 = %+v", pl2)
		}
		if pl2.Public == nil || *pl2.Public {
			t.Errorf("pl2 public = %v", pl2.Public)
		}
		return nil
	})
}

func TestReconciler_Playlists_CatalogPrunesStale(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	idx := 0
	store.Seed(
		&models.Playlist{ServerID: testServerID, RemoteID: "pl9", Name: "Stale", TrackIDs: []string{"t1"}},
		&models.Track{ServerID: testServerID, RemoteID: "t1", Title: "Member", PlaylistID: "pl9", PlaylistIndex: &idx},
	)

	req := subsonic.NewRequest(subsonic.OpGetPlaylists, testServerID, nil)
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<playlists><playlist id="pl1" name="Road Trip"/></playlists>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		if _, ok := tx.Playlist(testServerID, "pl9"); ok {
			t.Error("stale playlist survived catalog refresh")
		}
		return nil
	})
	track := getTrack(t, store, testServerID, "t1")
	if track.PlaylistID != "" || track.PlaylistIndex != nil {
		t.Errorf("membership not cleared: (%q, %v)", track.PlaylistID, track.PlaylistIndex)
	}
}

func TestReconciler_Playlist_OrdinalMembership(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetPlaylist, testServerID, map[string]string{"id": "pl1"})
	applyXML(t, r, req, playlistBody(`
		<entry id="t1" title="First"/>
		<entry id="t2" title="Second"/>`))

	store.View(func(tx *graph.Tx) error {
		pl, _ := tx.Playlist(testServerID, "pl1")
		if len(pl.TrackIDs) != 2 || pl.TrackIDs[0] != "t1" || pl.TrackIDs[1] != "t2" {
			t.Fatalf("TrackIDs = %v", pl.TrackIDs)
		}
		for i, id := range pl.TrackIDs {
			track, _ := tx.Track(testServerID, id)
			if track.PlaylistID != "pl1" {
				t.Errorf("%s PlaylistID = %q", id, track.PlaylistID)
			}
			if track.PlaylistIndex == nil || *track.PlaylistIndex != i {
				t.Errorf("%s ordinal = %v, want %d", id, track.PlaylistIndex, i)
			}
		}
		return nil
	})
}

func TestReconciler_Playlist_RefreshClearsStaleMembership(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetPlaylist, testServerID, map[string]string{"id": "pl1"})
	applyXML(t, r, req, playlistBody(`
		<entry id="t1" title="First"/>
		<entry id="t2" title="Second"/>`))
	applyXML(t, r, req, playlistBody(`
		<entry id="t2" title="Second"/>
		<entry id="t3" title="Third"/>`))

	store.View(func(tx *graph.Tx) error {
		pl, _ := tx.Playlist(testServerID, "pl1")
		if len(pl.TrackIDs) != 2 || pl.TrackIDs[0] != "t2" || pl.TrackIDs[1] != "t3" {
			t.Fatalf("TrackIDs = %v", pl.TrackIDs)
		}
		t1, ok := tx.Track(testServerID, "t1")
		if !ok {
			t.Fatal("dropped member deleted; only membership should clear")
		}
		if t1.PlaylistID != "" || t1.PlaylistIndex != nil {
			t.Errorf("t1 membership = (%q, %v), want cleared", t1.PlaylistID, t1.PlaylistIndex)
		}
		t2, _ := tx.Track(testServerID, "t2")
		if t2.PlaylistIndex == nil || *t2.PlaylistIndex != 0 {
			t.Errorf("t2 ordinal = %v, want 0", t2.PlaylistIndex)
		}
		t3, _ := tx.Track(testServerID, "t3")
		if t3.PlaylistIndex == nil || *t3.PlaylistIndex != 1 {
			t.Errorf("t3 ordinal = %v, want 1", t3.PlaylistIndex)
		}
		return nil
	})
}

func TestReconciler_Playlist_DuplicateEntryKeepsFirstOrdinal(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetPlaylist, testServerID, map[string]string{"id": "pl1"})
	applyXML(t, r, req, playlistBody(`
		<entry id="t1" title="First"/>
		<entry id="t1" title="First"/>
		<entry id="t2" title="Second"/>`))

	store.View(func(tx *graph.Tx) error {
		pl, _ := tx.Playlist(testServerID, "pl1")
		if len(pl.TrackIDs) != 2 {
			t.Fatalf("TrackIDs = %v, want deduplicated", pl.TrackIDs)
		}
		t2, _ := tx.Track(testServerID, "t2")
		if t2.PlaylistIndex == nil || *t2.PlaylistIndex != 1 {
			t.Errorf("t2 ordinal = %v, want 1", t2.PlaylistIndex)
		}
		return nil
	})
}

func TestReconciler_CreatePlaylist_BodylessAck(t *testing.T) {
	// Older servers acknowledge createPlaylist without a playlist element.
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpCreatePlaylist, testServerID, map[string]string{"name": "New"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1"/>`)

	if n := countKind(store, testServerID, models.KindPlaylist); n != 0 {
		t.Errorf("playlists = %d, want 0 until the follow-up fetch", n)
	}
}

func TestReconciler_CreatePlaylist_WithBody(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpCreatePlaylist, testServerID, map[string]string{"name": "Road Trip"})
	applyXML(t, r, req, playlistBody(`<entry id="t1" title="First"/>`))

	store.View(func(tx *graph.Tx) error {
		pl, ok := tx.Playlist(testServerID, "pl1")
		if !ok || len(pl.TrackIDs) != 1 {
			t.Errorf("pl1 = %+v, ok = %v", pl, ok)
		}
		return nil
	})
}

func TestReconciler_DeletePlaylist(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	idx := 0
	store.Seed(
		&models.Playlist{ServerID: testServerID, RemoteID: "pl1", Name: "Road Trip", TrackIDs: []string{"t1"}},
		&models.Track{ServerID: testServerID, RemoteID: "t1", Title: "First", PlaylistID: "pl1", PlaylistIndex: &idx},
	)

	req := subsonic.NewRequest(subsonic.OpDeletePlaylist, testServerID, map[string]string{"id": "pl1"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1"/>`)

	store.View(func(tx *graph.Tx) error {
		if _, ok := tx.Playlist(testServerID, "pl1"); ok {
			t.Error("playlist survived deletion")
		}
		return nil
	})
	track := getTrack(t, store, testServerID, "t1")
	if track.PlaylistID != "" || track.PlaylistIndex != nil {
		t.Errorf("membership not cleared: (%q, %v)", track.PlaylistID, track.PlaylistIndex)
	}
}
