package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/coveborn/periscope/internal/formatter"
	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/queue"
	"github.com/coveborn/periscope/internal/session"
	"github.com/coveborn/periscope/internal/shared"
	"github.com/coveborn/periscope/internal/tasks"
)

// Sync walks the remote catalog stage by stage, streaming progress.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var lastPhase tasks.Phase = -1
		for update := range progress {
			if update.Phase != lastPhase {
				r.writePlain("── %s\n", update.Phase)
				lastPhase = update.Phase
			}
			r.writePlain("  %s\n", update.Message)
		}
	}()

	result, err := r.engine.Run(ctx, progress, srv.ID, tasks.SyncOptions{
		Full:          cmd.Bool("full"),
		SkipPlaylists: cmd.Bool("skip-playlists"),
		SkipPodcasts:  cmd.Bool("skip-podcasts"),
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	r.writePlain("✓ Sync complete: %d artists, %d albums, %d playlists\n",
		result.Artists, result.Albums, result.Playlists)
	for _, failure := range result.Failures {
		r.writePlain("  ✗ %s %s: %v\n", failure.Op, failure.TargetID, failure.Err)
	}
	return nil
}

// LibraryArtists prints the artist index the way the server groups it.
func (r *Runner) LibraryArtists(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}

	var indexes []*models.Index
	artists := make(map[string]*models.Artist)
	err = r.store.View(func(tx *graph.Tx) error {
		for _, entity := range tx.List(srv.ID, models.KindIndex) {
			indexes = append(indexes, entity.(*models.Index))
		}
		for _, entity := range tx.List(srv.ID, models.KindArtist) {
			artist := entity.(*models.Artist)
			artists[artist.RemoteID] = artist
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(artists) == 0 {
		r.writePlain("No artists synced. Run 'periscope sync' first\n")
		return nil
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i].Name < indexes[j].Name })
	return r.writePlain("%s", formatter.ArtistsToText(indexes, artists))
}

// LibraryAlbums prints albums, optionally narrowed to one artist.
func (r *Runner) LibraryAlbums(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	artistID := cmd.String("artist")

	var albums []*models.Album
	artistNames := make(map[string]string)
	err = r.store.View(func(tx *graph.Tx) error {
		for _, entity := range tx.List(srv.ID, models.KindAlbum) {
			album := entity.(*models.Album)
			if artistID != "" && album.ArtistID != artistID {
				continue
			}
			albums = append(albums, album)
		}
		for _, entity := range tx.List(srv.ID, models.KindArtist) {
			artist := entity.(*models.Artist)
			artistNames[artist.RemoteID] = artist.Name
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(albums)
	}
	data, err := formatter.AlbumsToCSV(albums, artistNames)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}

// LibraryTracks prints an album's tracks in track order.
func (r *Runner) LibraryTracks(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	albumID := cmd.String("album")

	var album *models.Album
	var tracks []*models.Track
	err = r.store.View(func(tx *graph.Tx) error {
		a, ok := tx.Album(srv.ID, albumID)
		if !ok {
			return fmt.Errorf("%w: album %q", shared.ErrEntityNotFound, albumID)
		}
		album = a
		for _, id := range a.TrackIDs {
			if track, ok := tx.Track(srv.ID, id); ok {
				tracks = append(tracks, track)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.writePlain("%s\n", album.Name)
	for _, track := range tracks {
		duration := 0
		if track.Duration != nil {
			duration = *track.Duration
		}
		number := 0
		if track.TrackNumber != nil {
			number = *track.TrackNumber
		}
		downloaded := ""
		if track.LocalTrackID != "" {
			downloaded = " ↓"
		}
		r.writePlain("  %2d. %s [%s]%s\n", number, track.Title, shared.FormatDuration(duration), downloaded)
	}
	return nil
}

// LibraryHome shows curated album lists, optionally refreshing from the
// server first.
func (r *Runner) LibraryHome(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	listType := models.AlbumListType(cmd.String("type"))

	if cmd.Bool("refresh") {
		if err := r.connectIfNeeded(ctx, srv.ID); err != nil {
			return err
		}
		h, err := r.ctrl.GetAlbumList(ctx, srv.ID, listType, 0)
		if err != nil {
			return err
		}
		if err := r.waitHandle(ctx, h); err != nil {
			return err
		}
	}

	home, err := r.ctrl.Home(srv.ID)
	if err != nil {
		return err
	}
	albums := home[listType]
	if len(albums) == 0 {
		r.writePlain("No %s albums cached. Try --refresh\n", listType)
		return nil
	}
	r.writePlain("%s\n", listType)
	for _, album := range albums {
		year := ""
		if album.Year != nil {
			year = fmt.Sprintf(" (%d)", *album.Year)
		}
		r.writePlain("  %s%s\n", album.Name, year)
	}
	return nil
}

// Search queries the server and prints grouped matches.
func (r *Runner) Search(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	query := cmd.StringArg("query")
	if query == "" {
		return fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}
	if err := r.connectIfNeeded(ctx, srv.ID); err != nil {
		return err
	}

	results := make(chan *models.SearchResult, 1)
	r.ctrl.AddObserver(func(ev session.Event) {
		if ev.Kind == session.EventSearchResults && ev.ServerID == srv.ID {
			select {
			case results <- ev.Search:
			default:
			}
		}
	})

	h, err := r.ctrl.Search(ctx, srv.ID, query)
	if err != nil {
		return err
	}
	if err := r.waitHandle(ctx, h); err != nil {
		return err
	}

	select {
	case result := <-results:
		return r.printSearchResult(srv.ID, result)
	default:
		return fmt.Errorf("search failed for %q", query)
	}
}

func (r *Runner) printSearchResult(serverID string, result *models.SearchResult) error {
	return r.store.View(func(tx *graph.Tx) error {
		if len(result.ArtistIDs) > 0 {
			r.writePlain("Artists\n")
			for _, id := range result.ArtistIDs {
				if artist, ok := tx.Artist(serverID, id); ok {
					r.writePlain("  %s\n", artist.Name)
				}
			}
		}
		if len(result.AlbumIDs) > 0 {
			r.writePlain("Albums\n")
			for _, id := range result.AlbumIDs {
				if album, ok := tx.Album(serverID, id); ok {
					r.writePlain("  %s\n", album.Name)
				}
			}
		}
		if len(result.TrackIDs) > 0 {
			r.writePlain("Tracks\n")
			for _, id := range result.TrackIDs {
				if track, ok := tx.Track(serverID, id); ok {
					r.writePlain("  %s - %s\n", track.ArtistName, track.Title)
				}
			}
		}
		if len(result.ArtistIDs)+len(result.AlbumIDs)+len(result.TrackIDs) == 0 {
			r.writePlain("No matches\n")
		}
		return nil
	})
}

// NowPlaying fetches and prints what other users are playing.
func (r *Runner) NowPlaying(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	if err := r.connectIfNeeded(ctx, srv.ID); err != nil {
		return err
	}

	h, err := r.ctrl.GetNowPlaying(ctx, srv.ID)
	if err != nil {
		return err
	}
	if err := r.waitHandle(ctx, h); err != nil {
		return err
	}

	return r.store.View(func(tx *graph.Tx) error {
		entries := tx.List(srv.ID, models.KindNowPlaying)
		if len(entries) == 0 {
			r.writePlain("Nothing playing\n")
			return nil
		}
		for _, entity := range entries {
			np := entity.(*models.NowPlaying)
			track, ok := tx.Track(srv.ID, np.TrackID)
			if !ok {
				continue
			}
			r.writePlain("%s: %s - %s (%d min ago)\n", np.Username, track.ArtistName, track.Title, np.MinutesAgo)
		}
		return nil
	})
}

// ScanStart kicks off a server-side media scan.
func (r *Runner) ScanStart(ctx context.Context, cmd *cli.Command) error {
	return r.scanVerb(ctx, cmd, true)
}

// ScanStatus polls server-side scan progress.
func (r *Runner) ScanStatus(ctx context.Context, cmd *cli.Command) error {
	return r.scanVerb(ctx, cmd, false)
}

func (r *Runner) scanVerb(ctx context.Context, cmd *cli.Command, start bool) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	if err := r.connectIfNeeded(ctx, srv.ID); err != nil {
		return err
	}

	var h *queue.Handle
	if start {
		h, err = r.ctrl.StartScan(ctx, srv.ID)
	} else {
		h, err = r.ctrl.ScanStatus(ctx, srv.ID)
	}
	if err != nil {
		return err
	}
	if err := r.waitHandle(ctx, h); err != nil {
		return err
	}
	if start {
		r.writePlain("✓ Scan started\n")
	} else {
		r.writePlain("✓ Scan status requested; see server logs for detail\n")
	}
	return nil
}

// connectIfNeeded establishes the session when a network verb is about to run.
func (r *Runner) connectIfNeeded(ctx context.Context, serverID string) error {
	if r.ctrl.State(serverID) == models.Connected {
		return nil
	}
	h, err := r.ctrl.Connect(ctx, serverID)
	if err != nil {
		return err
	}
	if err := r.waitHandle(ctx, h); err != nil {
		return err
	}
	if r.ctrl.State(serverID) != models.Connected {
		return shared.ErrNotConnected
	}
	return nil
}
