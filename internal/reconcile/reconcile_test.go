package reconcile

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/shared"
	"github.com/coveborn/periscope/internal/subsonic"
)

const testServerID = "srv1"

var testClock = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestReconciler(t *testing.T, opts Options) (*Reconciler, *graph.MemoryStore) {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return testClock }
	}
	store := graph.NewMemoryStore()
	store.Seed(&models.Server{ID: testServerID, Name: "test", URL: "http://music.local"})
	return New(store, shared.NewLogger(io.Discard), opts), store
}

func decodeXML(t *testing.T, body string) *subsonic.Envelope {
	t.Helper()
	env, err := subsonic.Decode([]byte(body), "text/xml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return env
}

func applyXML(t *testing.T, r *Reconciler, req *subsonic.Request, body string) {
	t.Helper()
	if err := r.Apply(req, decodeXML(t, body), nil, ""); err != nil {
		t.Fatalf("Apply(%s): %v", req.Op, err)
	}
}

func getTrack(t *testing.T, store *graph.MemoryStore, serverID, id string) *models.Track {
	t.Helper()
	var track *models.Track
	store.View(func(tx *graph.Tx) error {
		track, _ = tx.Track(serverID, id)
		return nil
	})
	if track == nil {
		t.Fatalf("track %s/%s not in graph", serverID, id)
	}
	return track
}

func getServer(t *testing.T, store *graph.MemoryStore) *models.Server {
	t.Helper()
	var srv *models.Server
	store.View(func(tx *graph.Tx) error {
		srv, _ = tx.Server(testServerID)
		return nil
	})
	if srv == nil {
		t.Fatal("server not in graph")
	}
	return srv
}

func countKind(store *graph.MemoryStore, serverID string, kind models.EntityKind) int {
	n := 0
	store.View(func(tx *graph.Tx) error {
		n = len(tx.List(serverID, kind))
		return nil
	})
	return n
}

func TestReconciler_ApplyUnknownOperation(t *testing.T) {
	r, _ := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.Operation(999), testServerID, nil)
	err := r.Apply(req, decodeXML(t, `<subsonic-response status="ok" version="1.16.1"/>`), nil, "")
	if !errors.Is(err, ErrUnknownOperation) {
		t.Fatalf("err = %v, want ErrUnknownOperation", err)
	}
}

func TestReconciler_PingCapturesVersion(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpPing, testServerID, nil)
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1"/>`)

	if got := getServer(t, store).APIVersion; got != "1.16.1" {
		t.Errorf("APIVersion = %q, want 1.16.1", got)
	}
}

func TestReconciler_License(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{
			name: "valid",
			body: `<subsonic-response status="ok" version="1.16.1"><license valid="true" email="box@example.com"/></subsonic-response>`,
			want: true,
		},
		{
			name: "invalid",
			body: `<subsonic-response status="ok" version="1.16.1"><license valid="false"/></subsonic-response>`,
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := newTestReconciler(t, Options{})
			req := subsonic.NewRequest(subsonic.OpGetLicense, testServerID, nil)
			applyXML(t, r, req, tt.body)

			srv := getServer(t, store)
			if srv.LicenseValid == nil || *srv.LicenseValid != tt.want {
				t.Errorf("LicenseValid = %v, want %v", srv.LicenseValid, tt.want)
			}
			if !srv.LastLicenseCheck.Equal(testClock) {
				t.Errorf("LastLicenseCheck = %v, want %v", srv.LastLicenseCheck, testClock)
			}
		})
	}
}

func TestReconciler_User(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetUser, testServerID, map[string]string{"username": "anna"})
	applyXML(t, r, req,
		`<subsonic-response status="ok" version="1.16.1"><user username="anna" email="anna@example.com" adminRole="true"/></subsonic-response>`)

	srv := getServer(t, store)
	if srv.UserEmail != "anna@example.com" {
		t.Errorf("UserEmail = %q", srv.UserEmail)
	}
	if srv.UserAdmin == nil || !*srv.UserAdmin {
		t.Errorf("UserAdmin = %v, want true", srv.UserAdmin)
	}
}

func TestReconciler_Rating(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	store.Seed(&models.Track{ServerID: testServerID, RemoteID: "t1", Title: "Song"})

	req := subsonic.NewRequest(subsonic.OpSetRating, testServerID, map[string]string{"id": "t1", "rating": "4"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1"/>`)

	track := getTrack(t, store, testServerID, "t1")
	if track.Rating == nil || *track.Rating != 4 {
		t.Errorf("Rating = %v, want 4", track.Rating)
	}
}

func TestReconciler_RatingUnknownIDIsNoop(t *testing.T) {
	r, _ := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpSetRating, testServerID, map[string]string{"id": "al9", "rating": "5"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1"/>`)
}

func TestReconciler_FailedRoutineLeavesGraphUntouched(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	store.Seed(&models.Artist{ServerID: testServerID, RemoteID: "ar1", Name: "Original"})

	// Wrong payload element for the operation forces the routine to fail
	// after the version was already staged.
	req := subsonic.NewRequest(subsonic.OpGetArtist, testServerID, map[string]string{"id": "ar1"})
	err := r.Apply(req, decodeXML(t,
		`<subsonic-response status="ok" version="9.9.9"><album id="al1" name="Wrong"/></subsonic-response>`), nil, "")
	if err == nil {
		t.Fatal("Apply succeeded with mismatched payload")
	}

	if got := getServer(t, store).APIVersion; got == "9.9.9" {
		t.Error("failed pass leaked the staged version")
	}
	store.View(func(tx *graph.Tx) error {
		if _, ok := tx.Album(testServerID, "al1"); ok {
			t.Error("failed pass leaked a staged album")
		}
		return nil
	})
}

func TestReconciler_NowPlaying(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpGetNowPlaying, testServerID, nil)
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<nowPlaying>
			<entry id="t1" title="First" username="anna" playerName="web" minutesAgo="2"/>
			<entry id="t2" title="Second" username="ben" minutesAgo="0"/>
		</nowPlaying>
	</subsonic-response>`)

	if n := countKind(store, testServerID, models.KindNowPlaying); n != 2 {
		t.Fatalf("now-playing entries = %d, want 2", n)
	}
	store.View(func(tx *graph.Tx) error {
		for _, e := range tx.List(testServerID, models.KindNowPlaying) {
			np := e.(*models.NowPlaying)
			if np.TrackID != "t1" && np.TrackID != "t2" {
				t.Errorf("entry references unknown track %q", np.TrackID)
			}
			if !np.SeenAt.Equal(testClock) {
				t.Errorf("SeenAt = %v, want %v", np.SeenAt, testClock)
			}
		}
		return nil
	})
	if got := getTrack(t, store, testServerID, "t1").Title; got != "First" {
		t.Errorf("entry track title = %q, want First", got)
	}
}

func TestReconciler_Search(t *testing.T) {
	r, store := newTestReconciler(t, Options{})
	req := subsonic.NewRequest(subsonic.OpSearch, testServerID, map[string]string{"query": "beat"})
	applyXML(t, r, req, `<subsonic-response status="ok" version="1.16.1">
		<searchResult3>
			<artist id="ar1" name="Beatsmith"/>
			<album id="al1" name="Beaten Paths" artistId="ar1" artist="Beatsmith"/>
			<song id="t1" title="Heartbeat" albumId="al1" album="Beaten Paths" artistId="ar1" artist="Beatsmith"/>
		</searchResult3>
	</subsonic-response>`)

	store.View(func(tx *graph.Tx) error {
		artist, ok := tx.Artist(testServerID, "ar1")
		if !ok || artist.Name != "Beatsmith" {
			t.Errorf("artist = %+v, ok = %v", artist, ok)
		}
		album, ok := tx.Album(testServerID, "al1")
		if !ok || album.ArtistID != "ar1" {
			t.Errorf("album = %+v, ok = %v", album, ok)
		}
		track, ok := tx.Track(testServerID, "t1")
		if !ok || track.AlbumID != "al1" {
			t.Errorf("track = %+v, ok = %v", track, ok)
		}
		return nil
	})
}
