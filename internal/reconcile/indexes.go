package reconcile

import (
	"fmt"
	"time"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

// applyIndexes handles both the folder-based indexes response and the ID3
// artists response; the element shapes are identical for our purposes.
//
// An incremental fetch (ifModifiedSince parameter set) only adds and
// updates. A full fetch is a structural refresh: artists and index groups
// the server no longer lists are pruned, sparing anything still referenced
// by a download pairing.
func (r *Reconciler) applyIndexes(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	if env.Payload == nil {
		// The not-modified answer: status ok with no indexes element.
		// Nothing local changes and nothing is pruned.
		r.logger.Debug("indexes unchanged", "server", req.ServerID)
		return nil
	}
	payload := env.Payload

	srv, ok := tx.Server(req.ServerID)
	if !ok {
		return fmt.Errorf("indexes response for unknown server %s", req.ServerID)
	}
	if ts := payload.Int64("lastModified"); ts != nil {
		srv.LastIndexUpdate = time.UnixMilli(*ts)
	} else {
		srv.LastIndexUpdate = r.now()
	}
	if err := tx.Put(srv); err != nil {
		return err
	}

	seenArtists := make(map[string]bool)
	seenGroups := make(map[string]bool)

	for _, index := range payload.Named("index") {
		name := index.Str("name")
		if name == "" {
			continue
		}
		seenGroups[name] = true

		group, ok := tx.Index(req.ServerID, name)
		if !ok {
			group = &models.Index{ServerID: req.ServerID, Name: name}
		}
		group.ArtistIDs = group.ArtistIDs[:0]

		for _, rec := range index.Named("artist") {
			id := rec.Str("id")
			if id == "" {
				continue
			}
			artist, err := r.findOrCreateArtist(tx, req.ServerID, id, rec.Str("name"))
			if err != nil {
				return err
			}
			seenArtists[artist.RemoteID] = true
			group.ArtistIDs = append(group.ArtistIDs, artist.RemoteID)
		}
		if err := tx.Put(group); err != nil {
			return err
		}
	}

	// Artists can also appear outside any index group (shortcuts).
	for _, rec := range payload.Named("artist") {
		if id := rec.Str("id"); id != "" {
			artist, err := r.findOrCreateArtist(tx, req.ServerID, id, rec.Str("name"))
			if err != nil {
				return err
			}
			seenArtists[artist.RemoteID] = true
		}
	}

	if req.Param("ifModifiedSince") != "" {
		return nil
	}
	return r.pruneAfterFullIndex(tx, req.ServerID, seenArtists, seenGroups)
}

// pruneAfterFullIndex computes the symmetric difference against previously
// known ids and removes what the structural response no longer lists.
// Cascades artist → album → track, but a track paired with a local download
// survives with its pairing intact until the local copy goes away.
func (r *Reconciler) pruneAfterFullIndex(tx *graph.Tx, serverID string, seenArtists, seenGroups map[string]bool) error {
	for _, e := range tx.List(serverID, models.KindIndex) {
		group := e.(*models.Index)
		if !seenGroups[group.Name] {
			if err := tx.Delete(group.EntityKey()); err != nil {
				return err
			}
		}
	}

	for _, e := range tx.List(serverID, models.KindArtist) {
		artist := e.(*models.Artist)
		if seenArtists[artist.RemoteID] {
			continue
		}
		if err := r.pruneArtist(tx, serverID, artist); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) pruneArtist(tx *graph.Tx, serverID string, artist *models.Artist) error {
	for _, albumID := range artist.AlbumIDs {
		album, ok := tx.Album(serverID, albumID)
		if !ok {
			continue
		}
		if err := r.pruneAlbum(tx, serverID, album); err != nil {
			return err
		}
	}
	r.logger.Debug("pruning artist absent from structural refresh", "server", serverID, "id", artist.RemoteID)
	return tx.Delete(artist.EntityKey())
}

func (r *Reconciler) pruneAlbum(tx *graph.Tx, serverID string, album *models.Album) error {
	for _, trackID := range album.TrackIDs {
		track, ok := tx.Track(serverID, trackID)
		if !ok {
			continue
		}
		if track.LocalTrackID != "" {
			// In active use by the download pairing; only detach it from
			// the album being pruned.
			track.AlbumID = ""
			if err := tx.Put(track); err != nil {
				return err
			}
			continue
		}
		if err := tx.Delete(track.EntityKey()); err != nil {
			return err
		}
	}
	return tx.Delete(album.EntityKey())
}
