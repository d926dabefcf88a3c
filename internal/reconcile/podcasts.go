package reconcile

import (
	"fmt"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

// applyPodcasts merges podcast channels and their episodes. Channels carry
// server-side fetch status and error messages; an episode with a stream id
// also gets a playable track wired to it.
func (r *Reconciler) applyPodcasts(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	payload := env.Payload
	if payload == nil {
		return fmt.Errorf("podcasts response without payload")
	}

	for _, channel := range payload.Named("channel") {
		id := channel.Str("id")
		if id == "" {
			continue
		}

		podcast, ok := tx.Podcast(req.ServerID, id)
		if !ok {
			podcast = &models.Podcast{ServerID: req.ServerID, RemoteID: id}
		}
		podcast.Title = channel.Str("title")
		podcast.Description = channel.Str("description")
		podcast.ChannelURL = channel.Str("url")
		podcast.Status = models.PodcastStatus(channel.Str("status"))
		podcast.ErrorMessage = channel.Str("errorMessage")
		if coverID := channel.Str("coverArt"); coverID != "" {
			if _, err := r.findOrCreateCover(tx, req.ServerID, coverID); err != nil {
				return err
			}
			podcast.CoverID = coverID
		}

		episodeIDs := make([]string, 0, len(channel.Named("episode")))
		for _, rec := range channel.Named("episode") {
			episode, err := r.applyEpisodeRecord(tx, req.ServerID, podcast.RemoteID, rec)
			if err != nil {
				return err
			}
			if episode != nil {
				episodeIDs = append(episodeIDs, episode.RemoteID)
			}
		}
		podcast.EpisodeIDs = episodeIDs

		if err := tx.Put(podcast); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) applyEpisodeRecord(tx *graph.Tx, serverID, podcastID string, rec *subsonic.Record) (*models.Episode, error) {
	id := rec.Str("id")
	if id == "" {
		return nil, nil
	}

	episode, ok := tx.Episode(serverID, id)
	if !ok {
		episode = &models.Episode{ServerID: serverID, RemoteID: id}
	}
	episode.PodcastID = podcastID
	episode.Title = rec.Str("title")
	episode.Description = rec.Str("description")
	episode.StreamID = rec.Str("streamId")
	episode.Status = models.PodcastStatus(rec.Str("status"))
	episode.PublishDate = rec.Time("publishDate")
	episode.Duration = rec.Int("duration")
	if coverID := rec.Str("coverArt"); coverID != "" {
		if _, err := r.findOrCreateCover(tx, serverID, coverID); err != nil {
			return nil, err
		}
		episode.CoverID = coverID
	}

	// A downloaded-on-server episode is playable through its stream id; give
	// it a track so the playback engine sees it like any catalog entry.
	if episode.StreamID != "" {
		track, ok := tx.Track(serverID, episode.StreamID)
		if !ok {
			track = &models.Track{ServerID: serverID, RemoteID: episode.StreamID}
		}
		track.Title = episode.Title
		track.Genre = rec.Str("genre")
		track.Duration = rec.Int("duration")
		track.BitRate = rec.Int("bitRate")
		track.Size = rec.Int64("size")
		track.ContentType = rec.Str("contentType")
		track.Suffix = rec.Str("suffix")
		track.CoverID = episode.CoverID
		track.EpisodeID = episode.RemoteID
		if err := tx.Put(track); err != nil {
			return nil, err
		}
	}

	return episode, tx.Put(episode)
}
