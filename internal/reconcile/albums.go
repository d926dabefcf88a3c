package reconcile

import (
	"fmt"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

// applyArtist merges a getArtist response: the artist record plus its albums.
// The payload is authoritative for the artist's album list ordering, but it
// never deletes album entities; only structural index refreshes prune.
func (r *Reconciler) applyArtist(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil || payload.Name != "artist" {
		return fmt.Errorf("unexpected payload for getArtist: %v", payloadName(payload))
	}

	artistID := payload.Str("id")
	if artistID == "" {
		artistID = req.Param("id")
	}
	if artistID == "" {
		return fmt.Errorf("artist response without id")
	}

	artist, err := r.findOrCreateArtist(tx, req.ServerID, artistID, payload.Str("name"))
	if err != nil {
		return err
	}
	if coverID := payload.Str("coverArt"); coverID != "" {
		if _, err := r.findOrCreateCover(tx, req.ServerID, coverID); err != nil {
			return err
		}
		artist.CoverID = coverID
	}

	albumIDs := make([]string, 0, len(payload.Named("album")))
	for _, rec := range payload.Named("album") {
		id := rec.Str("id")
		if id == "" {
			continue
		}
		album, err := r.applyAlbumRecord(tx, req.ServerID, rec, artist)
		if err != nil {
			return err
		}
		albumIDs = append(albumIDs, album.RemoteID)
	}

	artist.AlbumIDs = albumIDs
	artist.NeedsRefresh = false
	return tx.Put(artist)
}

// applyAlbum merges a getAlbum response: the album record plus its tracks in
// payload order.
func (r *Reconciler) applyAlbum(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil || payload.Name != "album" {
		return fmt.Errorf("unexpected payload for getAlbum: %v", payloadName(payload))
	}

	album, err := r.applyAlbumRecord(tx, req.ServerID, payload, nil)
	if err != nil {
		return err
	}

	trackIDs := make([]string, 0, len(payload.Named("song")))
	for _, rec := range payload.Named("song") {
		track, err := r.applyTrackRecord(tx, req.ServerID, rec)
		if err != nil {
			return err
		}
		if track.AlbumID == "" {
			track.AlbumID = album.RemoteID
			if err := tx.Put(track); err != nil {
				return err
			}
		}
		trackIDs = append(trackIDs, track.RemoteID)
	}

	// Re-read: applyTrackRecord may have appended to the staged album.
	album, _ = tx.Album(req.ServerID, album.RemoteID)
	album.TrackIDs = trackIDs
	album.NeedsRefresh = false
	return tx.Put(album)
}

// applyAlbumList merges a getAlbumList2 response into the server's home
// aggregate for the requested list type.
func (r *Reconciler) applyAlbumList(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil {
		return fmt.Errorf("album list response without payload")
	}

	listType := models.AlbumListType(req.Param("type"))
	if listType == "" {
		return fmt.Errorf("album list response without type parameter")
	}

	ids := make([]string, 0, len(payload.Named("album")))
	for _, rec := range payload.Named("album") {
		if rec.Str("id") == "" {
			continue
		}
		album, err := r.applyAlbumRecord(tx, req.ServerID, rec, nil)
		if err != nil {
			return err
		}
		ids = append(ids, album.RemoteID)
	}

	srv, ok := tx.Server(req.ServerID)
	if !ok {
		return fmt.Errorf("album list response for unknown server %s", req.ServerID)
	}
	if srv.Home == nil {
		srv.Home = make(map[models.AlbumListType][]string)
	}
	srv.Home[listType] = ids
	return tx.Put(srv)
}

// applyAlbumRecord upserts one album element. parent, when non-nil, is the
// already-resolved artist from the enclosing payload; otherwise the element's
// artistId resolves the parent (creating a stub if unknown).
func (r *Reconciler) applyAlbumRecord(tx *graph.Tx, serverID string, rec *subsonic.Record, parent *models.Artist) (*models.Album, error) {
	artistID := rec.Str("artistId")
	artistName := rec.Str("artist")
	if parent != nil {
		artistID = parent.RemoteID
		artistName = parent.Name
	}

	album, err := r.findOrCreateAlbum(tx, serverID, rec.Str("id"), rec.Str("name"), artistID, artistName)
	if err != nil {
		return nil, err
	}
	if album.Name == "" {
		// getAlbumList elements name albums via "title" on older servers.
		album.Name = rec.Str("title")
		album.NeedsRefresh = album.Name == ""
	}
	album.Genre = rec.Str("genre")
	if year := rec.Int("year"); year != nil {
		album.Year = year
	}
	if coverID := rec.Str("coverArt"); coverID != "" {
		if _, err := r.findOrCreateCover(tx, serverID, coverID); err != nil {
			return nil, err
		}
		album.CoverID = coverID
	}
	return album, tx.Put(album)
}

func payloadName(rec *subsonic.Record) string {
	if rec == nil {
		return "<none>"
	}
	return rec.Name
}
