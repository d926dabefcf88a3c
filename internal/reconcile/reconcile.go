// package reconcile merges decoded server payloads into the local entity
// graph.
//
// One routine exists per response shape. Each routine runs inside a single
// graph pass: it finds or creates entities by (server, kind, remote id),
// wires parents before children, and either commits wholesale or leaves the
// graph in its last good state. Incremental responses only add and update;
// structural refreshes additionally prune ids the server no longer lists.
package reconcile

import (
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

// ErrUnknownOperation means no routine is registered for an operation kind.
// This is a programmer error: the queue should never dispatch a kind the
// reconciler does not know.
var ErrUnknownOperation = fmt.Errorf("no reconciliation routine for operation")

// Reconciler applies decoded payloads to the graph store.
type Reconciler struct {
	store    graph.Store
	logger   *log.Logger
	coverDir string
	now      func() time.Time
}

// Options configures a Reconciler.
type Options struct {
	// CoverDir is where fetched artwork bytes are written; empty disables
	// writing files (covers still get graph entities).
	CoverDir string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// New creates a Reconciler over the given store.
func New(store graph.Store, logger *log.Logger, opts Options) *Reconciler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reconciler{
		store:    store,
		logger:   logger,
		coverDir: opts.CoverDir,
		now:      opts.Now,
	}
}

// Apply merges one response into the graph. The request's parameters carry
// the operation's entity context (which artist, album, playlist, or cover the
// payload is about). The whole call is one all-or-nothing pass.
func (r *Reconciler) Apply(req *subsonic.Request, env *subsonic.Envelope, body []byte, mime string) error {
	if req.Op == subsonic.OpGetCoverArt {
		return r.store.Update(func(tx *graph.Tx) error {
			return r.applyCover(tx, req, body, mime)
		})
	}

	routine, ok := r.routine(req.Op)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOperation, req.Op)
	}

	return r.store.Update(func(tx *graph.Tx) error {
		if env != nil && env.Version != "" {
			if srv, ok := tx.Server(req.ServerID); ok && srv.APIVersion != env.Version {
				srv.APIVersion = env.Version
				if err := tx.Put(srv); err != nil {
					return err
				}
			}
		}
		return routine(tx, req, env)
	})
}

type routineFunc func(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error

func (r *Reconciler) routine(op subsonic.Operation) (routineFunc, bool) {
	switch op {
	case subsonic.OpPing:
		return r.applyPing, true
	case subsonic.OpGetLicense:
		return r.applyLicense, true
	case subsonic.OpGetIndexes, subsonic.OpGetArtists:
		return r.applyIndexes, true
	case subsonic.OpGetArtist:
		return r.applyArtist, true
	case subsonic.OpGetAlbum:
		return r.applyAlbum, true
	case subsonic.OpGetAlbumList:
		return r.applyAlbumList, true
	case subsonic.OpGetPlaylists:
		return r.applyPlaylists, true
	case subsonic.OpGetPlaylist, subsonic.OpCreatePlaylist:
		return r.applyPlaylist, true
	case subsonic.OpUpdatePlaylist:
		return r.applyNothing, true
	case subsonic.OpDeletePlaylist:
		return r.applyDeletePlaylist, true
	case subsonic.OpGetPodcasts:
		return r.applyPodcasts, true
	case subsonic.OpGetNowPlaying:
		return r.applyNowPlaying, true
	case subsonic.OpGetUser:
		return r.applyUser, true
	case subsonic.OpSearch:
		return r.applySearch, true
	case subsonic.OpSetRating:
		return r.applyRating, true
	case subsonic.OpScrobble, subsonic.OpStartScan, subsonic.OpGetScanStatus:
		return r.applyNothing, true
	default:
		return nil, false
	}
}

// applyNothing settles operations whose success leaves the graph untouched
// (bare acknowledgements).
func (r *Reconciler) applyNothing(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	return nil
}

func (r *Reconciler) applyPing(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	// Version capture happens centrally in Apply; a ping carries nothing
	// else.
	return nil
}

func (r *Reconciler) applyLicense(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	srv, ok := tx.Server(req.ServerID)
	if !ok {
		return fmt.Errorf("license response for unknown server %s", req.ServerID)
	}
	valid := false
	if env.Payload != nil && env.Payload.Name == "license" {
		valid = env.Payload.Bool("valid")
	}
	srv.LicenseValid = &valid
	srv.LastLicenseCheck = r.now()
	return tx.Put(srv)
}

func (r *Reconciler) applyUser(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	if env.Payload == nil || env.Payload.Name != "user" {
		return nil
	}
	srv, ok := tx.Server(req.ServerID)
	if !ok {
		return fmt.Errorf("user response for unknown server %s", req.ServerID)
	}
	srv.UserEmail = env.Payload.Str("email")
	admin := env.Payload.Bool("adminRole")
	srv.UserAdmin = &admin
	return tx.Put(srv)
}

func (r *Reconciler) applyRating(tx *graph.Tx, req *subsonic.Request, env *subsonic.Envelope) error {
	id := req.Param("id")
	track, ok := tx.Track(req.ServerID, id)
	if !ok {
		// The rated id may be an album or artist; only tracks carry a
		// local rating field today.
		return nil
	}
	if v, err := strconv.Atoi(req.Param("rating")); err == nil {
		track.Rating = &v
	}
	return tx.Put(track)
}

// findOrCreateArtist returns the artist for remoteID, creating it when first
// sighted. A created artist with no name is a stub and gets marked for
// refresh.
func (r *Reconciler) findOrCreateArtist(tx *graph.Tx, serverID, remoteID, name string) (*models.Artist, error) {
	if artist, ok := tx.Artist(serverID, remoteID); ok {
		if name != "" && artist.Name != name {
			artist.Name = name
		}
		if name != "" {
			artist.NeedsRefresh = false
		}
		return artist, tx.Put(artist)
	}
	artist := &models.Artist{
		ServerID:     serverID,
		RemoteID:     remoteID,
		Name:         name,
		NeedsRefresh: name == "",
	}
	if artist.NeedsRefresh {
		r.logger.Debug("created stub artist", "server", serverID, "id", remoteID)
	}
	return artist, tx.Put(artist)
}

// findOrCreateAlbum wires the album under its parent artist; an unknown
// artistID produces a stub parent rather than a failure.
func (r *Reconciler) findOrCreateAlbum(tx *graph.Tx, serverID, remoteID, name, artistID, artistName string) (*models.Album, error) {
	album, ok := tx.Album(serverID, remoteID)
	if !ok {
		album = &models.Album{ServerID: serverID, RemoteID: remoteID}
	}
	if name != "" {
		album.Name = name
		album.NeedsRefresh = false
	} else if !ok {
		album.NeedsRefresh = true
	}

	if artistID != "" {
		artist, err := r.findOrCreateArtist(tx, serverID, artistID, artistName)
		if err != nil {
			return nil, err
		}
		album.ArtistID = artist.RemoteID
		if !containsID(artist.AlbumIDs, album.RemoteID) {
			artist.AlbumIDs = append(artist.AlbumIDs, album.RemoteID)
			if err := tx.Put(artist); err != nil {
				return nil, err
			}
		}
	}
	return album, tx.Put(album)
}

// findOrCreateCover resolves artwork by cover id; multiple tracks and albums
// sharing one id resolve to the same entity.
func (r *Reconciler) findOrCreateCover(tx *graph.Tx, serverID, coverID string) (*models.Cover, error) {
	if coverID == "" {
		return nil, nil
	}
	if cover, ok := tx.Cover(serverID, coverID); ok {
		return cover, nil
	}
	cover := &models.Cover{ServerID: serverID, RemoteID: coverID}
	return cover, tx.Put(cover)
}

// applyTrackRecord upserts one track element (album song, playlist entry,
// search hit, now-playing entry). Parent album and cover wiring happens
// here; unknown parents become stubs marked for refresh.
func (r *Reconciler) applyTrackRecord(tx *graph.Tx, serverID string, rec *subsonic.Record) (*models.Track, error) {
	id := rec.Str("id")
	if id == "" {
		return nil, fmt.Errorf("track element without id")
	}

	track, ok := tx.Track(serverID, id)
	if !ok {
		track = &models.Track{ServerID: serverID, RemoteID: id}
	}

	track.Title = rec.Str("title")
	track.ArtistName = rec.Str("artist")
	track.AlbumName = rec.Str("album")
	track.Genre = rec.Str("genre")
	track.Duration = rec.Int("duration")
	track.BitRate = rec.Int("bitRate")
	track.TrackNumber = rec.Int("track")
	track.Year = rec.Int("year")
	track.Size = rec.Int64("size")
	track.ContentType = rec.Str("contentType")
	track.Suffix = rec.Str("suffix")
	track.TranscodedType = rec.Str("transcodedContentType")
	track.TranscodedSuffix = rec.Str("transcodedSuffix")
	if rating := rec.Int("userRating"); rating != nil {
		track.Rating = rating
	}

	if albumID := rec.Str("albumId"); albumID != "" {
		album, err := r.findOrCreateAlbum(tx, serverID, albumID, rec.Str("album"), rec.Str("artistId"), rec.Str("artist"))
		if err != nil {
			return nil, err
		}
		track.AlbumID = album.RemoteID
		if !containsID(album.TrackIDs, track.RemoteID) {
			album.TrackIDs = append(album.TrackIDs, track.RemoteID)
			if err := tx.Put(album); err != nil {
				return nil, err
			}
		}
	}

	if coverID := rec.Str("coverArt"); coverID != "" {
		if _, err := r.findOrCreateCover(tx, serverID, coverID); err != nil {
			return nil, err
		}
		track.CoverID = coverID
	}

	return track, tx.Put(track)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
