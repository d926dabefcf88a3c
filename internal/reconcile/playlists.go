package reconcile

import (
	"fmt"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

// applyPlaylists merges the playlist catalog. The list is a structural
// refresh for the playlist kind: playlists the server no longer lists are
// removed (their member tracks survive, only the membership is cleared).
func (r *Reconciler) applyPlaylists(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil {
		return fmt.Errorf("playlists response without payload")
	}

	seen := make(map[string]bool)
	for _, rec := range payload.Named("playlist") {
		id := rec.Str("id")
		if id == "" {
			continue
		}
		seen[id] = true

		pl, ok := tx.Playlist(req.ServerID, id)
		if !ok {
			pl = &models.Playlist{ServerID: req.ServerID, RemoteID: id}
		}
		pl.Name = rec.Str("name")
		pl.Comment = rec.Str("comment")
		pl.Owner = rec.Str("owner")
		if _, has := rec.Attr["public"]; has {
			public := rec.Bool("public")
			pl.Public = &public
		}
		if err := tx.Put(pl); err != nil {
			return err
		}
	}

	for _, e := range tx.List(req.ServerID, models.KindPlaylist) {
		pl := e.(*models.Playlist)
		if !seen[pl.RemoteID] {
			if err := r.removePlaylist(tx, req.ServerID, pl); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyPlaylist rebuilds one playlist's ordered membership atomically. The
// new ordinal-to-track mapping fully replaces the old one: stale memberships
// are cleared, remaining tracks get contiguous 0-based ordinals, and track
// entities referenced elsewhere are preserved.
func (r *Reconciler) applyPlaylist(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil || payload.Name != "playlist" {
		// createPlaylist on older servers acknowledges without a body;
		// the controller follows up with a playlist list fetch.
		return nil
	}

	id := payload.Str("id")
	if id == "" {
		id = req.Param("id")
	}
	if id == "" {
		return fmt.Errorf("playlist response without id")
	}

	pl, ok := tx.Playlist(req.ServerID, id)
	if !ok {
		pl = &models.Playlist{ServerID: req.ServerID, RemoteID: id}
	}
	if name := payload.Str("name"); name != "" {
		pl.Name = name
	}
	pl.Comment = payload.Str("comment")
	pl.Owner = payload.Str("owner")
	if _, has := payload.Attr["public"]; has {
		public := payload.Bool("public")
		pl.Public = &public
	}

	entries := payload.Named("entry")
	newIDs := make([]string, 0, len(entries))
	member := make(map[string]int, len(entries))
	for _, rec := range entries {
		track, err := r.applyTrackRecord(tx, req.ServerID, rec)
		if err != nil {
			return err
		}
		if _, dup := member[track.RemoteID]; dup {
			// A track appears at most once; the server should not send
			// duplicates, keep the first ordinal.
			continue
		}
		member[track.RemoteID] = len(newIDs)
		newIDs = append(newIDs, track.RemoteID)
	}

	// One pass over the old membership removes what the new list dropped.
	for _, trackID := range pl.TrackIDs {
		if _, keep := member[trackID]; keep {
			continue
		}
		if track, ok := tx.Track(req.ServerID, trackID); ok && track.PlaylistID == pl.RemoteID {
			track.PlaylistID = ""
			track.PlaylistIndex = nil
			if err := tx.Put(track); err != nil {
				return err
			}
		}
	}

	for trackID, ordinal := range member {
		track, ok := tx.Track(req.ServerID, trackID)
		if !ok {
			return fmt.Errorf("playlist member %s vanished during pass", trackID)
		}
		idx := ordinal
		track.PlaylistID = pl.RemoteID
		track.PlaylistIndex = &idx
		if err := tx.Put(track); err != nil {
			return err
		}
	}

	pl.TrackIDs = newIDs
	return tx.Put(pl)
}

// applyDeletePlaylist removes the playlist named by the request once the
// server acknowledged the deletion.
func (r *Reconciler) applyDeletePlaylist(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	id := req.Param("id")
	if id == "" {
		return fmt.Errorf("deletePlaylist without id parameter")
	}
	pl, ok := tx.Playlist(req.ServerID, id)
	if !ok {
		return nil
	}
	return r.removePlaylist(tx, req.ServerID, pl)
}

func (r *Reconciler) removePlaylist(tx *graph.Tx, serverID string, pl *models.Playlist) error {
	for _, trackID := range pl.TrackIDs {
		if track, ok := tx.Track(serverID, trackID); ok && track.PlaylistID == pl.RemoteID {
			track.PlaylistID = ""
			track.PlaylistIndex = nil
			if err := tx.Put(track); err != nil {
				return err
			}
		}
	}
	return tx.Delete(pl.EntityKey())
}
