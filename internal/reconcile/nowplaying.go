package reconcile

import (
	"fmt"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/shared"
	"github.com/coveborn/periscope/internal/subsonic"
)

// applyNowPlaying appends what server users are currently playing. Records
// are append-only, keyed by server + track + sighting; the referenced tracks
// reconcile by identity as usual.
func (r *Reconciler) applyNowPlaying(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil {
		return fmt.Errorf("now-playing response without payload")
	}

	for _, rec := range payload.Named("entry") {
		track, err := r.applyTrackRecord(tx, req.ServerID, rec)
		if err != nil {
			return err
		}

		entry := &models.NowPlaying{
			ServerID:   req.ServerID,
			ID:         shared.GenerateID(),
			TrackID:    track.RemoteID,
			Username:   rec.Str("username"),
			PlayerName: rec.Str("playerName"),
			MinutesAgo: rec.Int("minutesAgo"),
			SeenAt:     r.now(),
		}
		if err := tx.Put(entry); err != nil {
			return err
		}
	}
	return nil
}

// applySearch reconciles every search hit into the graph. The controller
// derives the transient result set from the same payload for its observers;
// the graph only keeps the entities.
func (r *Reconciler) applySearch(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil {
		return fmt.Errorf("search response without payload")
	}

	for _, rec := range payload.Named("artist") {
		if id := rec.Str("id"); id != "" {
			if _, err := r.findOrCreateArtist(tx, req.ServerID, id, rec.Str("name")); err != nil {
				return err
			}
		}
	}
	for _, rec := range payload.Named("album") {
		if rec.Str("id") == "" {
			continue
		}
		if _, err := r.applyAlbumRecord(tx, req.ServerID, rec, nil); err != nil {
			return err
		}
	}
	for _, rec := range payload.Named("song") {
		if rec.Str("id") == "" {
			continue
		}
		if _, err := r.applyTrackRecord(tx, req.ServerID, rec); err != nil {
			return err
		}
	}
	return nil
}
