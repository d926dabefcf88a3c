package graph

import (
	"errors"
	"testing"

	"github.com/coveborn/periscope/internal/models"
)

func seededStore(t *testing.T, entities ...models.Entity) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	store.Seed(entities...)
	return store
}

func TestMemoryStore_UpdateCommits(t *testing.T) {
	store := NewMemoryStore()

	err := store.Update(func(tx *Tx) error {
		return tx.Put(&models.Artist{ServerID: "srv-1", RemoteID: "ar-1", Name: "Alice"})
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	store.View(func(tx *Tx) error {
		artist, ok := tx.Artist("srv-1", "ar-1")
		if !ok || artist.Name != "Alice" {
			t.Errorf("Artist() = %v, %v; want Alice", artist, ok)
		}
		return nil
	})
}

func TestMemoryStore_UpdateRollsBackOnError(t *testing.T) {
	store := seededStore(t, &models.Artist{ServerID: "srv-1", RemoteID: "ar-1", Name: "Alice"})
	boom := errors.New("boom")

	err := store.Update(func(tx *Tx) error {
		artist, _ := tx.Artist("srv-1", "ar-1")
		artist.Name = "Mallory"
		if err := tx.Put(artist); err != nil {
			return err
		}
		if err := tx.Put(&models.Artist{ServerID: "srv-1", RemoteID: "ar-2", Name: "Bob"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	store.View(func(tx *Tx) error {
		artist, _ := tx.Artist("srv-1", "ar-1")
		if artist.Name != "Alice" {
			t.Errorf("name = %q, failed pass must not mutate the graph", artist.Name)
		}
		if _, ok := tx.Artist("srv-1", "ar-2"); ok {
			t.Error("entity from failed pass leaked into the graph")
		}
		return nil
	})
}

func TestTx_GetReturnsPrivateCopy(t *testing.T) {
	store := seededStore(t, &models.Album{
		ServerID: "srv-1", RemoteID: "al-1", Name: "Blue", TrackIDs: []string{"tr-1"},
	})

	// Mutating a fetched entity without Put must not change committed state.
	store.View(func(tx *Tx) error {
		album, _ := tx.Album("srv-1", "al-1")
		album.Name = "Mutated"
		album.TrackIDs[0] = "mutated"
		return nil
	})

	store.View(func(tx *Tx) error {
		album, _ := tx.Album("srv-1", "al-1")
		if album.Name != "Blue" || album.TrackIDs[0] != "tr-1" {
			t.Errorf("committed album changed: %+v", album)
		}
		return nil
	})
}

func TestTx_RepeatedGetsShareStagedCopy(t *testing.T) {
	store := seededStore(t, &models.Artist{ServerID: "srv-1", RemoteID: "ar-1", Name: "Alice"})

	store.Update(func(tx *Tx) error {
		first, _ := tx.Artist("srv-1", "ar-1")
		first.Name = "Renamed"
		second, _ := tx.Artist("srv-1", "ar-1")
		if second.Name != "Renamed" {
			t.Errorf("second Get saw %q, want the staged mutation", second.Name)
		}
		return nil
	})
}

func TestTx_PutRejectsEmptyRemoteID(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(func(tx *Tx) error {
		return tx.Put(&models.Artist{ServerID: "srv-1"})
	})
	if err == nil {
		t.Error("Put with empty remote id should fail")
	}
}

func TestTx_ViewIsReadOnly(t *testing.T) {
	store := NewMemoryStore()
	store.View(func(tx *Tx) error {
		if err := tx.Put(&models.Artist{ServerID: "srv-1", RemoteID: "ar-1"}); err == nil {
			t.Error("Put inside View should fail")
		}
		if err := tx.Delete(models.Key{ServerID: "srv-1", Kind: models.KindArtist, RemoteID: "ar-1"}); err == nil {
			t.Error("Delete inside View should fail")
		}
		return nil
	})
}

func TestTx_List(t *testing.T) {
	store := seededStore(t,
		&models.Album{ServerID: "srv-1", RemoteID: "al-2", Name: "Second"},
		&models.Album{ServerID: "srv-1", RemoteID: "al-1", Name: "First"},
		&models.Album{ServerID: "srv-2", RemoteID: "al-3", Name: "Other"},
	)

	store.View(func(tx *Tx) error {
		albums := tx.List("srv-1", models.KindAlbum)
		if len(albums) != 2 {
			t.Fatalf("List() = %d entities, want 2", len(albums))
		}
		if albums[0].EntityKey().RemoteID != "al-1" {
			t.Error("List() should sort by remote id")
		}
		return nil
	})
}

func TestMemoryStore_CommitHookAbortsCommit(t *testing.T) {
	store := NewMemoryStore()
	hookErr := errors.New("disk full")
	store.SetCommitHook(func(cs Changeset) error { return hookErr })

	err := store.Update(func(tx *Tx) error {
		return tx.Put(&models.Artist{ServerID: "srv-1", RemoteID: "ar-1"})
	})
	if !errors.Is(err, hookErr) {
		t.Fatalf("Update() error = %v, want hook error", err)
	}

	store.View(func(tx *Tx) error {
		if _, ok := tx.Artist("srv-1", "ar-1"); ok {
			t.Error("entity committed although hook failed")
		}
		return nil
	})
}

func TestMemoryStore_CommitHookSeesChangeset(t *testing.T) {
	store := seededStore(t, &models.Artist{ServerID: "srv-1", RemoteID: "ar-old"})

	var got Changeset
	store.SetCommitHook(func(cs Changeset) error {
		got = cs
		return nil
	})

	store.Update(func(tx *Tx) error {
		if err := tx.Put(&models.Artist{ServerID: "srv-1", RemoteID: "ar-new"}); err != nil {
			return err
		}
		return tx.Delete(models.Key{ServerID: "srv-1", Kind: models.KindArtist, RemoteID: "ar-old"})
	})

	if len(got.Put) != 1 || got.Put[0].EntityKey().RemoteID != "ar-new" {
		t.Errorf("changeset Put = %v", got.Put)
	}
	if len(got.Delete) != 1 || got.Delete[0].RemoteID != "ar-old" {
		t.Errorf("changeset Delete = %v", got.Delete)
	}
}

func TestMemoryStore_ReadsStayOutOfChangeset(t *testing.T) {
	store := seededStore(t,
		&models.Server{ID: "srv-1", Name: "Music"},
		&models.Artist{ServerID: "srv-1", RemoteID: "ar-1"},
	)

	var got Changeset
	store.SetCommitHook(func(cs Changeset) error {
		got = cs
		return nil
	})

	err := store.Update(func(tx *Tx) error {
		if _, ok := tx.Server("srv-1"); !ok {
			t.Fatal("seeded server missing")
		}
		if _, ok := tx.Artist("srv-1", "ar-1"); !ok {
			t.Fatal("seeded artist missing")
		}
		return tx.Put(&models.Album{ServerID: "srv-1", RemoteID: "al-1", ArtistID: "ar-1"})
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	if len(got.Put) != 1 || got.Put[0].EntityKey().RemoteID != "al-1" {
		t.Errorf("changeset Put = %v, want only the written album", got.Put)
	}
	if len(got.Delete) != 0 {
		t.Errorf("changeset Delete = %v, want none", got.Delete)
	}
}

func TestTx_UnwrittenMutationDoesNotCommit(t *testing.T) {
	store := seededStore(t, &models.Artist{ServerID: "srv-1", RemoteID: "ar-1", Name: "Original"})

	err := store.Update(func(tx *Tx) error {
		artist, _ := tx.Artist("srv-1", "ar-1")
		artist.Name = "Scribbled"
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	store.View(func(tx *Tx) error {
		artist, _ := tx.Artist("srv-1", "ar-1")
		if artist.Name != "Original" {
			t.Errorf("Name = %q, mutation without Put leaked into the store", artist.Name)
		}
		return nil
	})
}

func TestTx_DeleteServerCascades(t *testing.T) {
	localID := "loc-1"
	store := seededStore(t,
		&models.Server{ID: "srv-1", Name: "Music"},
		&models.Artist{ServerID: "srv-1", RemoteID: "ar-1"},
		&models.Album{ServerID: "srv-1", RemoteID: "al-1", ArtistID: "ar-1"},
		&models.Track{ServerID: "srv-1", RemoteID: "tr-1", AlbumID: "al-1", LocalTrackID: localID},
		&models.Playlist{ServerID: "srv-1", RemoteID: "pl-1", TrackIDs: []string{"tr-1"}},
		&models.Track{
			ServerID: models.LocalLibraryID, RemoteID: localID, IsLocal: true,
			RemoteTrackID: "tr-1", PairedServerID: "srv-1", Path: "/music/a.mp3",
		},
	)

	err := store.Update(func(tx *Tx) error {
		return tx.DeleteServer("srv-1")
	})
	if err != nil {
		t.Fatalf("DeleteServer() error = %v", err)
	}

	store.View(func(tx *Tx) error {
		if _, ok := tx.Server("srv-1"); ok {
			t.Error("server survived")
		}
		if _, ok := tx.Artist("srv-1", "ar-1"); ok {
			t.Error("artist survived")
		}
		if _, ok := tx.Track("srv-1", "tr-1"); ok {
			t.Error("remote track survived")
		}
		if _, ok := tx.Playlist("srv-1", "pl-1"); ok {
			t.Error("playlist survived")
		}

		// The local twin survives with its pairing links severed.
		local, ok := tx.Track(models.LocalLibraryID, localID)
		if !ok {
			t.Fatal("local track must survive server deletion")
		}
		if local.RemoteTrackID != "" || local.PairedServerID != "" {
			t.Errorf("pairing links not severed: %+v", local)
		}
		return nil
	})
}

func TestTx_Servers(t *testing.T) {
	store := seededStore(t,
		&models.Server{ID: "srv-b", Name: "Beta"},
		&models.Server{ID: "srv-a", Name: "Alpha"},
		&models.Artist{ServerID: "srv-a", RemoteID: "ar-1"},
	)

	store.View(func(tx *Tx) error {
		servers := tx.Servers()
		if len(servers) != 2 {
			t.Fatalf("Servers() = %d, want 2", len(servers))
		}
		if servers[0].ID != "srv-a" || servers[1].ID != "srv-b" {
			t.Errorf("Servers() order = %s, %s", servers[0].ID, servers[1].ID)
		}
		return nil
	})
}
