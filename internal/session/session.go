// package session owns the per-server connection lifecycle and exposes the
// verb API the rest of the application calls.
//
// A [Controller] holds one operation queue per server, builds authenticated
// request URLs, and turns settled operations into typed observer events.
// Connection attempts are coalesced: concurrent Connect calls while a ping is
// outstanding share the same in-flight attempt.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/queue"
	"github.com/coveborn/periscope/internal/reconcile"
	"github.com/coveborn/periscope/internal/shared"
	"github.com/coveborn/periscope/internal/subsonic"
)

const defaultBackoff = 500 * time.Millisecond

// Controller orchestrates sessions against every configured server.
type Controller struct {
	store     graph.Store
	rec       *reconcile.Reconciler
	transport queue.Transport
	logger    *log.Logger

	client     shared.ClientConfig
	qopts      queue.Options
	maxRetries int
	backoff    time.Duration
	now        func() time.Time

	mu        sync.Mutex
	sessions  map[string]*serverSession
	observers []Observer
	closed    bool
}

type serverSession struct {
	state   models.ConnectionState
	queue   *queue.Queue
	connect *queue.Handle // outstanding ping, nil otherwise
}

// New builds a controller over the shared graph and transport. cfg supplies
// client identity and queue bounds; nil falls back to the embedded defaults.
func New(store graph.Store, rec *reconcile.Reconciler, transport queue.Transport, logger *log.Logger, cfg *shared.Config) *Controller {
	if cfg == nil {
		cfg = shared.DefaultConfig()
	}
	return &Controller{
		store:     store,
		rec:       rec,
		transport: transport,
		logger:    shared.ComponentLogger(logger, "session"),
		client:    cfg.Client,
		qopts: queue.Options{
			MaxInflight: cfg.Queue.MaxInflight,
			RateLimit:   cfg.Queue.RateLimit,
			Timeout:     time.Duration(cfg.Queue.Timeout) * time.Second,
		},
		maxRetries: cfg.Queue.MaxRetries,
		backoff:    defaultBackoff,
		now:        time.Now,
		sessions:   make(map[string]*serverSession),
	}
}

// AddObserver registers a callback for controller events. Observers run on
// queue goroutines and must not block.
func (c *Controller) AddObserver(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, obs)
}

func (c *Controller) notify(ev Event) {
	c.mu.Lock()
	observers := make([]Observer, len(c.observers))
	copy(observers, c.observers)
	c.mu.Unlock()
	for _, obs := range observers {
		obs(ev)
	}
}

// State reports the connection state for serverID.
func (c *Controller) State(serverID string) models.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess, ok := c.sessions[serverID]; ok {
		return sess.state
	}
	return models.Disconnected
}

// AddServer validates and registers a new server entity in the graph. The
// returned server starts disconnected.
func (c *Controller) AddServer(cfg shared.ServerConfig) (*models.Server, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, shared.ErrMissingCredentials
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidServerURL, cfg.URL)
	}

	format := cfg.Format
	if format == "" {
		format = "xml"
	}
	srv := &models.Server{
		ID:         shared.GenerateID(),
		Name:       cfg.Name,
		URL:        cfg.URL,
		Username:   cfg.Username,
		Password:   cfg.Password,
		TokenAuth:  cfg.TokenAuth,
		Format:     format,
		APIVersion: c.client.APIVersion,
	}
	if srv.Name == "" {
		srv.Name = u.Host
	}

	err = c.store.Update(func(tx *graph.Tx) error {
		return tx.Put(srv)
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("server added", "server", srv.Name, "url", srv.URL)
	return srv, nil
}

// RemoveServer cancels the server's session and deletes it and every entity
// it owns from the graph. Local library tracks survive with their pairing
// links severed.
func (c *Controller) RemoveServer(serverID string) error {
	c.mu.Lock()
	sess := c.sessions[serverID]
	delete(c.sessions, serverID)
	c.mu.Unlock()
	if sess != nil && sess.queue != nil {
		sess.queue.Close()
	}

	return c.store.Update(func(tx *graph.Tx) error {
		if _, ok := tx.Server(serverID); !ok {
			return shared.ErrServerNotFound
		}
		return tx.DeleteServer(serverID)
	})
}

// Connect establishes the session with a ping. Calls while a ping is already
// outstanding coalesce onto the same attempt and share its handle.
func (c *Controller) Connect(ctx context.Context, serverID string) (*queue.Handle, error) {
	srv, err := c.serverSnapshot(serverID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	sess := c.ensureSession(serverID)
	if sess.state == models.Connecting && sess.connect != nil {
		h := sess.connect
		c.mu.Unlock()
		return h, nil
	}
	sess.state = models.Connecting
	c.mu.Unlock()
	c.notify(Event{Kind: EventConnectionChanged, ServerID: serverID, State: models.Connecting})

	req := subsonic.NewRequest(subsonic.OpPing, serverID, nil)
	h, err := c.submit(ctx, srv, req, func(res queue.Result) {
		c.settleConnect(ctx, serverID, res)
	})
	if err != nil {
		c.setState(serverID, models.Failed)
		return nil, err
	}

	c.mu.Lock()
	sess.connect = h
	c.mu.Unlock()
	return h, nil
}

func (c *Controller) settleConnect(ctx context.Context, serverID string, res queue.Result) {
	c.mu.Lock()
	if sess, ok := c.sessions[serverID]; ok {
		sess.connect = nil
	}
	c.mu.Unlock()

	if res.Err != nil {
		c.setState(serverID, models.Failed)
		c.fail(serverID, res)
		return
	}
	c.setState(serverID, models.Connected)

	// License status rides along after every successful connect.
	if _, err := c.GetLicense(ctx, serverID); err != nil {
		c.logger.Debug("license check not submitted", "server", serverID, "err", err)
	}
}

// Disconnect cancels every in-flight operation and drops to disconnected.
func (c *Controller) Disconnect(serverID string) {
	c.mu.Lock()
	sess := c.sessions[serverID]
	c.mu.Unlock()
	if sess == nil {
		return
	}
	if sess.queue != nil {
		sess.queue.CancelAll()
	}
	c.setState(serverID, models.Disconnected)
}

// Close tears down every session and waits for queues to drain.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	sessions := make([]*serverSession, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.mu.Unlock()
	for _, sess := range sessions {
		if sess.queue != nil {
			sess.queue.Close()
		}
	}
}

// Ping submits a bare ping without changing connection state.
func (c *Controller) Ping(ctx context.Context, serverID string) (*queue.Handle, error) {
	return c.verb(ctx, serverID, subsonic.NewRequest(subsonic.OpPing, serverID, nil), nil)
}

// GetLicense refreshes the server's license validity.
func (c *Controller) GetLicense(ctx context.Context, serverID string) (*queue.Handle, error) {
	return c.verb(ctx, serverID, subsonic.NewRequest(subsonic.OpGetLicense, serverID, nil), nil)
}

// RefreshIndexes fetches the artist index. When the server has been indexed
// before, the request is incremental: an unchanged index comes back empty and
// nothing local is touched.
func (c *Controller) RefreshIndexes(ctx context.Context, serverID string) (*queue.Handle, error) {
	srv, err := c.serverSnapshot(serverID)
	if err != nil {
		return nil, err
	}
	params := map[string]string{}
	if !srv.LastIndexUpdate.IsZero() {
		params["ifModifiedSince"] = strconv.FormatInt(srv.LastIndexUpdate.UnixMilli(), 10)
	}
	req := subsonic.NewRequest(subsonic.OpGetIndexes, serverID, params)
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventIndexesUpdated, ServerID: serverID})
	})
}

// GetArtists fetches the full ID3 artist index, replacing local structure.
func (c *Controller) GetArtists(ctx context.Context, serverID string) (*queue.Handle, error) {
	req := subsonic.NewRequest(subsonic.OpGetArtists, serverID, nil)
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventIndexesUpdated, ServerID: serverID})
	})
}

// GetArtist fetches one artist's album list.
func (c *Controller) GetArtist(ctx context.Context, serverID, artistID string) (*queue.Handle, error) {
	if artistID == "" {
		return nil, fmt.Errorf("%w: artist id", shared.ErrMissingArgument)
	}
	req := subsonic.NewRequest(subsonic.OpGetArtist, serverID, map[string]string{"id": artistID})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventAlbumsUpdated, ServerID: serverID, TargetID: artistID})
	})
}

// GetAlbum fetches one album's track list.
func (c *Controller) GetAlbum(ctx context.Context, serverID, albumID string) (*queue.Handle, error) {
	if albumID == "" {
		return nil, fmt.Errorf("%w: album id", shared.ErrMissingArgument)
	}
	req := subsonic.NewRequest(subsonic.OpGetAlbum, serverID, map[string]string{"id": albumID})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventTracksUpdated, ServerID: serverID, TargetID: albumID})
	})
}

// GetAlbumList refreshes one of the server's curated album lists; the result
// lands in the server's Home aggregate.
func (c *Controller) GetAlbumList(ctx context.Context, serverID string, listType models.AlbumListType, size int) (*queue.Handle, error) {
	switch listType {
	case models.AlbumListRandom, models.AlbumListNewest, models.AlbumListFrequent,
		models.AlbumListHighest, models.AlbumListRecent:
	default:
		return nil, fmt.Errorf("%w: album list type %q", shared.ErrInvalidArgument, listType)
	}
	if size <= 0 {
		size = 20
	}
	req := subsonic.NewRequest(subsonic.OpGetAlbumList, serverID, map[string]string{
		"type": string(listType),
		"size": strconv.Itoa(size),
	})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventAlbumListUpdated, ServerID: serverID, TargetID: string(listType)})
	})
}

// GetCover fetches cover art bytes; the reconciler caches them on disk.
func (c *Controller) GetCover(ctx context.Context, serverID, coverID string) (*queue.Handle, error) {
	if coverID == "" {
		return nil, fmt.Errorf("%w: cover id", shared.ErrMissingArgument)
	}
	req := subsonic.NewRequest(subsonic.OpGetCoverArt, serverID, map[string]string{"id": coverID})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventCoversUpdated, ServerID: serverID, TargetID: coverID})
	})
}

// GetPlaylists fetches the playlist roster.
func (c *Controller) GetPlaylists(ctx context.Context, serverID string) (*queue.Handle, error) {
	req := subsonic.NewRequest(subsonic.OpGetPlaylists, serverID, nil)
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventPlaylistsChanged, ServerID: serverID})
	})
}

// GetPlaylist fetches one playlist's ordered entries.
func (c *Controller) GetPlaylist(ctx context.Context, serverID, playlistID string) (*queue.Handle, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	req := subsonic.NewRequest(subsonic.OpGetPlaylist, serverID, map[string]string{"id": playlistID})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventPlaylistUpdated, ServerID: serverID, TargetID: playlistID})
	})
}

// CreatePlaylist creates a named playlist with an initial ordered track list.
// Servers that acknowledge without echoing the playlist trigger a roster
// refresh so the local graph catches up.
func (c *Controller) CreatePlaylist(ctx context.Context, serverID, name string, trackIDs []string) (*queue.Handle, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: playlist name", shared.ErrMissingArgument)
	}
	repeat := make([]subsonic.QueryItem, 0, len(trackIDs))
	for _, id := range trackIDs {
		repeat = append(repeat, subsonic.QueryItem{Name: "songId", Value: id})
	}
	req := subsonic.NewRequest(subsonic.OpCreatePlaylist, serverID, map[string]string{"name": name}, repeat...)
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		if res.Envelope == nil || res.Envelope.Payload == nil {
			if _, err := c.GetPlaylists(ctx, serverID); err != nil {
				c.logger.Debug("playlist refresh not submitted", "server", serverID, "err", err)
			}
			return
		}
		c.notify(Event{Kind: EventPlaylistsChanged, ServerID: serverID})
	})
}

// PlaylistUpdate describes an updatePlaylist call. Nil fields are left alone;
// RemoveIndexes are positions in the playlist's current order.
type PlaylistUpdate struct {
	Name          *string
	Comment       *string
	Public        *bool
	Add           []string
	RemoveIndexes []int
}

// UpdatePlaylist edits a playlist in place. The server returns no body, so a
// fetch of the playlist follows to reconcile the authoritative new order.
func (c *Controller) UpdatePlaylist(ctx context.Context, serverID, playlistID string, upd PlaylistUpdate) (*queue.Handle, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	params := map[string]string{"playlistId": playlistID}
	if upd.Name != nil {
		params["name"] = *upd.Name
	}
	if upd.Comment != nil {
		params["comment"] = *upd.Comment
	}
	if upd.Public != nil {
		params["public"] = strconv.FormatBool(*upd.Public)
	}
	var repeat []subsonic.QueryItem
	for _, id := range upd.Add {
		repeat = append(repeat, subsonic.QueryItem{Name: "songIdToAdd", Value: id})
	}
	for _, idx := range upd.RemoveIndexes {
		repeat = append(repeat, subsonic.QueryItem{Name: "songIndexToRemove", Value: strconv.Itoa(idx)})
	}
	req := subsonic.NewRequest(subsonic.OpUpdatePlaylist, serverID, params, repeat...)
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		if _, err := c.GetPlaylist(ctx, serverID, playlistID); err != nil {
			c.logger.Debug("playlist refetch not submitted", "server", serverID, "err", err)
		}
	})
}

// DeletePlaylist removes a playlist on the server and locally.
func (c *Controller) DeletePlaylist(ctx context.Context, serverID, playlistID string) (*queue.Handle, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}
	req := subsonic.NewRequest(subsonic.OpDeletePlaylist, serverID, map[string]string{"id": playlistID})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventPlaylistsChanged, ServerID: serverID})
	})
}

// GetPodcasts fetches the podcast channels and their episodes.
func (c *Controller) GetPodcasts(ctx context.Context, serverID string) (*queue.Handle, error) {
	req := subsonic.NewRequest(subsonic.OpGetPodcasts, serverID, map[string]string{"includeEpisodes": "true"})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventPodcastsUpdated, ServerID: serverID})
	})
}

// GetNowPlaying fetches what other users are currently playing.
func (c *Controller) GetNowPlaying(ctx context.Context, serverID string) (*queue.Handle, error) {
	req := subsonic.NewRequest(subsonic.OpGetNowPlaying, serverID, nil)
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventNowPlayingUpdated, ServerID: serverID})
	})
}

// GetUser fetches account details for the session's own user.
func (c *Controller) GetUser(ctx context.Context, serverID string) (*queue.Handle, error) {
	srv, err := c.serverSnapshot(serverID)
	if err != nil {
		return nil, err
	}
	req := subsonic.NewRequest(subsonic.OpGetUser, serverID, map[string]string{"username": srv.Username})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		c.notify(Event{Kind: EventUserUpdated, ServerID: serverID})
	})
}

// Search runs a free-text search. Matched entities are reconciled into the
// graph; the transient grouping of ids is delivered with the event.
func (c *Controller) Search(ctx context.Context, serverID, query string) (*queue.Handle, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query", shared.ErrMissingArgument)
	}
	req := subsonic.NewRequest(subsonic.OpSearch, serverID, map[string]string{
		"query":       query,
		"artistCount": "20",
		"albumCount":  "20",
		"songCount":   "100",
	})
	return c.verb(ctx, serverID, req, func(res queue.Result) {
		result := &models.SearchResult{ServerID: serverID, Query: query}
		if res.Envelope != nil && res.Envelope.Payload != nil {
			p := res.Envelope.Payload
			for _, rec := range p.Named("artist") {
				result.ArtistIDs = append(result.ArtistIDs, rec.Str("id"))
			}
			for _, rec := range p.Named("album") {
				result.AlbumIDs = append(result.AlbumIDs, rec.Str("id"))
			}
			for _, rec := range p.Named("song") {
				result.TrackIDs = append(result.TrackIDs, rec.Str("id"))
			}
		}
		c.notify(Event{Kind: EventSearchResults, ServerID: serverID, Search: result})
	})
}

// SetRating assigns a 0-5 star rating to a track; 0 clears it.
func (c *Controller) SetRating(ctx context.Context, serverID, trackID string, rating int) (*queue.Handle, error) {
	if trackID == "" {
		return nil, fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}
	if rating < 0 || rating > 5 {
		return nil, fmt.Errorf("%w: rating %d", shared.ErrInvalidArgument, rating)
	}
	req := subsonic.NewRequest(subsonic.OpSetRating, serverID, map[string]string{
		"id":     trackID,
		"rating": strconv.Itoa(rating),
	})
	return c.verb(ctx, serverID, req, nil)
}

// Scrobble reports a play to the server. submission false registers a
// now-playing notification instead of a play count.
func (c *Controller) Scrobble(ctx context.Context, serverID, trackID string, submission bool) (*queue.Handle, error) {
	if trackID == "" {
		return nil, fmt.Errorf("%w: track id", shared.ErrMissingArgument)
	}
	req := subsonic.NewRequest(subsonic.OpScrobble, serverID, map[string]string{
		"id":         trackID,
		"time":       strconv.FormatInt(c.now().UnixMilli(), 10),
		"submission": strconv.FormatBool(submission),
	})
	return c.verb(ctx, serverID, req, nil)
}

// StartScan asks the server to rescan its media folders.
func (c *Controller) StartScan(ctx context.Context, serverID string) (*queue.Handle, error) {
	return c.verb(ctx, serverID, subsonic.NewRequest(subsonic.OpStartScan, serverID, nil), nil)
}

// ScanStatus polls the server's scan progress.
func (c *Controller) ScanStatus(ctx context.Context, serverID string) (*queue.Handle, error) {
	return c.verb(ctx, serverID, subsonic.NewRequest(subsonic.OpGetScanStatus, serverID, nil), nil)
}

// StreamURL builds the authenticated streaming URL for a remote track. No
// request is issued; playback is the caller's business.
func (c *Controller) StreamURL(serverID, trackID string) (string, error) {
	srv, err := c.serverSnapshot(serverID)
	if err != nil {
		return "", err
	}
	return subsonic.StreamURL(srv.URL, c.creds(srv), trackID, c.client.MaxBitRate)
}

// DownloadURL builds the authenticated original-file download URL.
func (c *Controller) DownloadURL(serverID, trackID string) (string, error) {
	srv, err := c.serverSnapshot(serverID)
	if err != nil {
		return "", err
	}
	return subsonic.DownloadURL(srv.URL, c.creds(srv), trackID, 0)
}

// RegisterDownload records a completed download: a local library twin of the
// remote track, linked both ways. Returns the local track id.
func (c *Controller) RegisterDownload(serverID, trackID, path string) (string, error) {
	return c.rec.RegisterDownload(serverID, trackID, path)
}

// UnregisterDownload severs a pairing and removes the local twin.
func (c *Controller) UnregisterDownload(localID string) error {
	return c.rec.UnregisterDownload(localID)
}

// Home resolves the server's curated album lists against the graph. Purely a
// local read.
func (c *Controller) Home(serverID string) (map[models.AlbumListType][]*models.Album, error) {
	out := make(map[models.AlbumListType][]*models.Album)
	err := c.store.View(func(tx *graph.Tx) error {
		srv, ok := tx.Server(serverID)
		if !ok {
			return shared.ErrServerNotFound
		}
		for listType, ids := range srv.Home {
			albums := make([]*models.Album, 0, len(ids))
			for _, id := range ids {
				if album, ok := tx.Album(serverID, id); ok {
					albums = append(albums, album)
				}
			}
			out[listType] = albums
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// verb is the common path for every operation except the connect ping: it
// checks known feature support, submits, and wires failure handling around
// the verb's success callback.
func (c *Controller) verb(ctx context.Context, serverID string, req *subsonic.Request, onSuccess func(queue.Result)) (*queue.Handle, error) {
	srv, err := c.serverSnapshot(serverID)
	if err != nil {
		return nil, err
	}
	if srv.Unsupported[req.Op.String()] {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotSupported, req.Op)
	}
	return c.submit(ctx, srv, req, func(res queue.Result) {
		if res.Err != nil {
			c.fail(serverID, res)
			return
		}
		if onSuccess != nil {
			onSuccess(res)
		}
	})
}

// submit hands the request to the server's queue under one handle that spans
// every retry: a retryable transport failure is resubmitted with capped
// backoff while the caller's handle stays open and cancellable throughout.
func (c *Controller) submit(ctx context.Context, srv *models.Server, req *subsonic.Request, settle queue.Completion) (*queue.Handle, error) {
	h := queue.NewHandle(req.Op)
	if err := c.attempt(ctx, h, srv, req, 0, settle); err != nil {
		return nil, err
	}
	return h, nil
}

// attempt submits one try and wires the retry decision into its completion.
// The URL is rebuilt per attempt so token auth gets a fresh salt.
func (c *Controller) attempt(ctx context.Context, h *queue.Handle, srv *models.Server, req *subsonic.Request, attempt int, settle queue.Completion) error {
	u, err := req.URL(srv.URL, c.creds(srv))
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return shared.ErrOperationCancelled
	}
	sess := c.ensureSession(srv.ID)
	q := sess.queue
	c.mu.Unlock()

	q.Resubmit(ctx, req, u, h, func(res queue.Result) {
		var te *queue.TransportError
		if errors.As(res.Err, &te) && te.Retryable() && attempt < c.maxRetries {
			h.Hold()
			delay := c.retryDelay(te, attempt)
			c.logger.Debug("retrying", "op", req.Op.String(), "attempt", attempt+1, "delay", delay)
			time.AfterFunc(delay, func() {
				c.retry(ctx, h, req, attempt+1, settle)
			})
			return
		}
		settle(res)
	})
	return nil
}

// retry re-resolves the server and runs the next attempt under the same
// handle. When the attempt cannot even be submitted the handle settles here.
func (c *Controller) retry(ctx context.Context, h *queue.Handle, req *subsonic.Request, attempt int, settle queue.Completion) {
	srv, err := c.serverSnapshot(req.ServerID)
	if err == nil {
		err = c.attempt(ctx, h, srv, req, attempt, settle)
	}
	if err != nil {
		settle(queue.Result{Request: req, Err: err})
		h.Finish()
	}
}

func (c *Controller) retryDelay(te *queue.TransportError, attempt int) time.Duration {
	if te.RetryAfter > 0 {
		return te.RetryAfter
	}
	delay := c.backoff << attempt
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

// fail records failure side effects and emits the failure event. Credential
// rejections invalidate the server's license flags; a 404 marks the feature
// unsupported so it is not asked for again.
func (c *Controller) fail(serverID string, res queue.Result) {
	var pe *subsonic.ProtocolError
	if errors.As(res.Err, &pe) && pe.IsCredentialError() {
		c.markInvalid(serverID)
	}

	var te *queue.TransportError
	if errors.As(res.Err, &te) && te.NotSupported() {
		c.markUnsupported(serverID, res.Request.Op)
	}

	c.logger.Warn("operation failed", "op", res.Request.Op.String(), "server", serverID, "err", res.Err)
	c.notify(Event{
		Kind:     EventOperationFailed,
		ServerID: serverID,
		Op:       res.Request.Op,
		Err:      res.Err,
		TargetID: res.Request.Param("id"),
	})
}

func (c *Controller) markInvalid(serverID string) {
	err := c.store.Update(func(tx *graph.Tx) error {
		srv, ok := tx.Server(serverID)
		if !ok {
			return shared.ErrServerNotFound
		}
		valid := false
		srv.LicenseValid = &valid
		srv.LastLicenseCheck = c.now()
		return tx.Put(srv)
	})
	if err != nil {
		c.logger.Error("failed to record credential rejection", "server", serverID, "err", err)
	}
}

func (c *Controller) markUnsupported(serverID string, op subsonic.Operation) {
	err := c.store.Update(func(tx *graph.Tx) error {
		srv, ok := tx.Server(serverID)
		if !ok {
			return shared.ErrServerNotFound
		}
		if srv.Unsupported == nil {
			srv.Unsupported = make(map[string]bool)
		}
		srv.Unsupported[op.String()] = true
		return tx.Put(srv)
	})
	if err != nil {
		c.logger.Error("failed to record unsupported feature", "server", serverID, "err", err)
	}
}

func (c *Controller) setState(serverID string, state models.ConnectionState) {
	c.mu.Lock()
	sess := c.ensureSession(serverID)
	changed := sess.state != state
	sess.state = state
	c.mu.Unlock()
	if changed {
		c.notify(Event{Kind: EventConnectionChanged, ServerID: serverID, State: state})
	}
}

// ensureSession lazily creates the per-server queue. Caller holds c.mu.
func (c *Controller) ensureSession(serverID string) *serverSession {
	sess, ok := c.sessions[serverID]
	if !ok {
		sess = &serverSession{
			state: models.Disconnected,
			queue: queue.New(c.transport, c.rec.Apply, c.logger, c.qopts),
		}
		c.sessions[serverID] = sess
	}
	return sess
}

func (c *Controller) serverSnapshot(serverID string) (*models.Server, error) {
	var srv *models.Server
	err := c.store.View(func(tx *graph.Tx) error {
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

func (c *Controller) creds(srv *models.Server) subsonic.Credentials {
	version := srv.APIVersion
	if version == "" {
		version = c.client.APIVersion
	}
	return subsonic.Credentials{
		Username:   srv.Username,
		Password:   srv.Password,
		TokenAuth:  srv.TokenAuth,
		APIVersion: version,
		ClientName: c.client.Name,
		Format:     srv.Format,
	}
}
