package tasks

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/queue"
	"github.com/coveborn/periscope/internal/session"
	"github.com/coveborn/periscope/internal/shared"
	"github.com/coveborn/periscope/internal/subsonic"
)

// OpFailure records one operation that failed during a sync run.
type OpFailure struct {
	Op       subsonic.Operation
	TargetID string
	Err      error
}

// SyncResult summarizes a full library walk.
type SyncResult struct {
	Artists   int // artists fetched in detail
	Albums    int // albums fetched in detail
	Playlists int // playlists fetched
	Podcasts  bool
	Failures  []OpFailure
}

// SyncOptions tune a run.
type SyncOptions struct {
	// Full refetches every artist and album instead of only stubs.
	Full bool
	// SkipPlaylists and SkipPodcasts drop those stages.
	SkipPlaylists bool
	SkipPodcasts  bool
}

// SyncEngine defines the library walk operation.
type SyncEngine interface {
	// Run connects to the server and fetches its catalog stage by stage.
	Run(ctx context.Context, progress chan<- ProgressUpdate, serverID string, opts SyncOptions) (*SyncResult, error)
}

// Verbs is the slice of the session controller the engine drives. Narrowed
// for testability.
type Verbs interface {
	Connect(ctx context.Context, serverID string) (*queue.Handle, error)
	State(serverID string) models.ConnectionState
	RefreshIndexes(ctx context.Context, serverID string) (*queue.Handle, error)
	GetArtist(ctx context.Context, serverID, artistID string) (*queue.Handle, error)
	GetAlbum(ctx context.Context, serverID, albumID string) (*queue.Handle, error)
	GetPlaylists(ctx context.Context, serverID string) (*queue.Handle, error)
	GetPlaylist(ctx context.Context, serverID, playlistID string) (*queue.Handle, error)
	GetPodcasts(ctx context.Context, serverID string) (*queue.Handle, error)
	AddObserver(obs session.Observer)
}

// LibraryEngine implements SyncEngine against the live controller and graph.
type LibraryEngine struct {
	ctrl   Verbs
	store  graph.Store
	logger *log.Logger

	mu       sync.Mutex
	active   bool
	failures []OpFailure
}

// NewLibraryEngine creates the engine and hooks it into the controller's
// event stream so failures during a run are collected.
func NewLibraryEngine(ctrl Verbs, store graph.Store, logger *log.Logger) *LibraryEngine {
	e := &LibraryEngine{
		ctrl:   ctrl,
		store:  store,
		logger: shared.ComponentLogger(logger, "sync"),
	}
	ctrl.AddObserver(e.observe)
	return e
}

func (e *LibraryEngine) observe(ev session.Event) {
	if ev.Kind != session.EventOperationFailed {
		return
	}
	e.mu.Lock()
	if e.active {
		e.failures = append(e.failures, OpFailure{Op: ev.Op, TargetID: ev.TargetID, Err: ev.Err})
	}
	e.mu.Unlock()
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default so progress reporting never stalls the walk.
func (e *LibraryEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run walks the server's catalog. Individual fetch failures are collected in
// the result rather than aborting the run; connection failure aborts.
func (e *LibraryEngine) Run(ctx context.Context, progress chan<- ProgressUpdate, serverID string, opts SyncOptions) (*SyncResult, error) {
	e.mu.Lock()
	e.active = true
	e.failures = nil
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active = false
		e.mu.Unlock()
	}()

	result := &SyncResult{}

	srv, err := e.server(serverID)
	if err != nil {
		return nil, err
	}

	e.sendProgress(progress, connectUpdate(srv.Name))
	h, err := e.ctrl.Connect(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := e.wait(ctx, h); err != nil {
		return nil, err
	}
	if e.ctrl.State(serverID) != models.Connected {
		return nil, shared.ErrNotConnected
	}

	e.sendProgress(progress, indexesUpdate())
	h, err = e.ctrl.RefreshIndexes(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if err := e.wait(ctx, h); err != nil {
		return nil, err
	}

	if err := e.syncArtists(ctx, progress, serverID, opts, result); err != nil {
		return nil, err
	}
	if err := e.syncAlbums(ctx, progress, serverID, opts, result); err != nil {
		return nil, err
	}
	if !opts.SkipPlaylists {
		if err := e.syncPlaylists(ctx, progress, serverID, result); err != nil {
			return nil, err
		}
	}
	if !opts.SkipPodcasts {
		if err := e.syncPodcasts(ctx, progress, serverID, result); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	result.Failures = e.failures
	e.mu.Unlock()

	e.logger.Info("sync finished",
		"server", srv.Name,
		"artists", result.Artists,
		"albums", result.Albums,
		"playlists", result.Playlists,
		"failures", len(result.Failures))
	return result, nil
}

func (e *LibraryEngine) syncArtists(ctx context.Context, progress chan<- ProgressUpdate, serverID string, opts SyncOptions, result *SyncResult) error {
	var artists []*models.Artist
	err := e.store.View(func(tx *graph.Tx) error {
		for _, entity := range tx.List(serverID, models.KindArtist) {
			artist := entity.(*models.Artist)
			if opts.Full || artist.NeedsRefresh {
				artists = append(artists, artist)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	handles := make([]*queue.Handle, 0, len(artists))
	for i, artist := range artists {
		e.sendProgress(progress, artistUpdate(i+1, len(artists), artist.Name))
		h, err := e.ctrl.GetArtist(ctx, serverID, artist.RemoteID)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	if err := e.waitAll(ctx, handles); err != nil {
		return err
	}
	result.Artists = len(artists)
	return nil
}

func (e *LibraryEngine) syncAlbums(ctx context.Context, progress chan<- ProgressUpdate, serverID string, opts SyncOptions, result *SyncResult) error {
	var albums []*models.Album
	err := e.store.View(func(tx *graph.Tx) error {
		for _, entity := range tx.List(serverID, models.KindAlbum) {
			album := entity.(*models.Album)
			if opts.Full || album.NeedsRefresh {
				albums = append(albums, album)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	handles := make([]*queue.Handle, 0, len(albums))
	for i, album := range albums {
		e.sendProgress(progress, albumUpdate(i+1, len(albums), album.Name))
		h, err := e.ctrl.GetAlbum(ctx, serverID, album.RemoteID)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	if err := e.waitAll(ctx, handles); err != nil {
		return err
	}
	result.Albums = len(albums)
	return nil
}

func (e *LibraryEngine) syncPlaylists(ctx context.Context, progress chan<- ProgressUpdate, serverID string, result *SyncResult) error {
	e.sendProgress(progress, playlistsUpdate())
	h, err := e.ctrl.GetPlaylists(ctx, serverID)
	if err != nil {
		if errors.Is(err, shared.ErrNotSupported) {
			return nil
		}
		return err
	}
	if err := e.wait(ctx, h); err != nil {
		return err
	}

	var playlists []*models.Playlist
	err = e.store.View(func(tx *graph.Tx) error {
		for _, entity := range tx.List(serverID, models.KindPlaylist) {
			playlists = append(playlists, entity.(*models.Playlist))
		}
		return nil
	})
	if err != nil {
		return err
	}

	handles := make([]*queue.Handle, 0, len(playlists))
	for i, pl := range playlists {
		e.sendProgress(progress, playlistUpdate(i+1, len(playlists), pl.Name))
		h, err := e.ctrl.GetPlaylist(ctx, serverID, pl.RemoteID)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	if err := e.waitAll(ctx, handles); err != nil {
		return err
	}
	result.Playlists = len(playlists)
	return nil
}

func (e *LibraryEngine) syncPodcasts(ctx context.Context, progress chan<- ProgressUpdate, serverID string, result *SyncResult) error {
	e.sendProgress(progress, podcastsUpdate())
	h, err := e.ctrl.GetPodcasts(ctx, serverID)
	if err != nil {
		// Not every server has the podcast feature.
		if errors.Is(err, shared.ErrNotSupported) {
			return nil
		}
		return err
	}
	if err := e.wait(ctx, h); err != nil {
		return err
	}
	result.Podcasts = true
	return nil
}

func (e *LibraryEngine) wait(ctx context.Context, h *queue.Handle) error {
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *LibraryEngine) waitAll(ctx context.Context, handles []*queue.Handle) error {
	for _, h := range handles {
		if err := e.wait(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (e *LibraryEngine) server(serverID string) (*models.Server, error) {
	var srv *models.Server
	err := e.store.View(func(tx *graph.Tx) error {
		s, ok := tx.Server(serverID)
		if !ok {
			return shared.ErrServerNotFound
		}
		srv = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}
