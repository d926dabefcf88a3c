// package graph implements the transactional object graph the reconciler
// mutates and every other component reads.
//
// The graph doubles as the identity/merge index: nodes are stored under
// (server id, entity kind, remote id) keys, so at most one node can ever
// exist per remote identity. Mutations run one pass at a time through
// [Store.Update]; a pass stages its writes and commits all-or-nothing,
// leaving the graph in its last good state when a routine fails.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/shared"
)

// CommitHook receives the changeset of a successful pass before it becomes
// visible. Returning an error aborts the commit. Used by the durable mirror.
type CommitHook func(cs Changeset) error

// Changeset lists what a pass wrote and removed.
type Changeset struct {
	Put    []models.Entity
	Delete []models.Key
}

// Store is the transactional object graph.
//
// Update passes are serialized: the graph has a single logical writer no
// matter how many network operations complete concurrently. View runs
// read-only against committed state.
type Store interface {
	Update(fn func(tx *Tx) error) error
	View(fn func(tx *Tx) error) error
}

// MemoryStore is the in-process canonical graph. A [CommitHook] may mirror
// commits to durable storage.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[models.Key]models.Entity
	hook     CommitHook
}

// NewMemoryStore creates an empty graph.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[models.Key]models.Entity)}
}

// SetCommitHook installs the durable mirror hook. Must be called before the
// store is shared across goroutines.
func (s *MemoryStore) SetCommitHook(hook CommitHook) {
	s.hook = hook
}

// Seed inserts entities without running a pass; used when loading the durable
// mirror at startup and in tests.
func (s *MemoryStore) Seed(entities ...models.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.entities[e.EntityKey()] = e
	}
}

// Update runs fn against a staged view and commits its writes atomically.
// If fn returns an error the stage is discarded and the graph is untouched.
func (s *MemoryStore) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{
		base:    s.entities,
		staged:  make(map[models.Key]models.Entity),
		dirty:   make(map[models.Key]bool),
		deleted: make(map[models.Key]bool),
	}

	if err := fn(tx); err != nil {
		return err
	}

	if s.hook != nil {
		if err := s.hook(tx.changeset()); err != nil {
			return fmt.Errorf("commit hook: %w", err)
		}
	}

	for k := range tx.deleted {
		delete(s.entities, k)
	}
	for k := range tx.dirty {
		if e, ok := tx.staged[k]; ok {
			s.entities[k] = e
		}
	}
	return nil
}

// View runs fn read-only. Writes inside a View pass return an error.
func (s *MemoryStore) View(fn func(tx *Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx := &Tx{
		base:     s.entities,
		staged:   make(map[models.Key]models.Entity),
		dirty:    make(map[models.Key]bool),
		deleted:  make(map[models.Key]bool),
		readonly: true,
	}
	return fn(tx)
}

// Tx is the staged view one pass works against. Entities fetched through a Tx
// are private copies; a mutation only becomes visible once the entity is Put
// back and the pass commits. staged doubles as the read cache; only dirty
// keys commit or reach the changeset.
type Tx struct {
	base     map[models.Key]models.Entity
	staged   map[models.Key]models.Entity
	dirty    map[models.Key]bool
	deleted  map[models.Key]bool
	readonly bool
}

// Get fetches an entity by key. The returned entity is a copy owned by this
// pass.
func (tx *Tx) Get(k models.Key) (models.Entity, bool) {
	if tx.deleted[k] {
		return nil, false
	}
	if e, ok := tx.staged[k]; ok {
		return e, true
	}
	if e, ok := tx.base[k]; ok {
		clone := cloneEntity(e)
		if !tx.readonly {
			// Keep one copy per key so repeated Gets within a pass see
			// each other's mutations.
			tx.staged[k] = clone
		}
		return clone, true
	}
	return nil, false
}

// Put stages an entity under its own key.
func (tx *Tx) Put(e models.Entity) error {
	if tx.readonly {
		return fmt.Errorf("put in read-only pass")
	}
	k := e.EntityKey()
	if k.RemoteID == "" {
		return fmt.Errorf("%w: empty remote id for %s", shared.ErrInvalidArgument, k.Kind)
	}
	delete(tx.deleted, k)
	tx.staged[k] = e
	tx.dirty[k] = true
	return nil
}

// Delete stages removal of the entity under k. Missing keys are a no-op.
func (tx *Tx) Delete(k models.Key) error {
	if tx.readonly {
		return fmt.Errorf("delete in read-only pass")
	}
	delete(tx.staged, k)
	tx.deleted[k] = true
	return nil
}

// List returns all entities of one kind owned by a server, sorted by remote
// id for deterministic iteration.
func (tx *Tx) List(serverID string, kind models.EntityKind) []models.Entity {
	seen := make(map[models.Key]bool)
	var out []models.Entity
	for k, e := range tx.staged {
		if k.ServerID == serverID && k.Kind == kind && !tx.deleted[k] {
			out = append(out, e)
			seen[k] = true
		}
	}
	for k, e := range tx.base {
		if k.ServerID == serverID && k.Kind == kind && !tx.deleted[k] && !seen[k] {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityKey().RemoteID < out[j].EntityKey().RemoteID
	})
	return out
}

func (tx *Tx) changeset() Changeset {
	cs := Changeset{}
	for k := range tx.dirty {
		if e, ok := tx.staged[k]; ok && !tx.deleted[k] {
			cs.Put = append(cs.Put, e)
		}
	}
	for k := range tx.deleted {
		cs.Delete = append(cs.Delete, k)
	}
	return cs
}

// Typed accessors. These are the find half of the reconciler's
// find-or-create; creation stays in the reconciler.

func (tx *Tx) Server(id string) (*models.Server, bool) {
	e, ok := tx.Get(models.Key{ServerID: id, Kind: models.KindServer, RemoteID: id})
	if !ok {
		return nil, false
	}
	return e.(*models.Server), true
}

// Servers lists every registered server, sorted by id.
func (tx *Tx) Servers() []*models.Server {
	seen := make(map[models.Key]bool)
	var out []*models.Server
	for k, e := range tx.staged {
		if k.Kind == models.KindServer && !tx.deleted[k] {
			out = append(out, e.(*models.Server))
			seen[k] = true
		}
	}
	for k, e := range tx.base {
		if k.Kind == models.KindServer && !tx.deleted[k] && !seen[k] {
			out = append(out, cloneEntity(e).(*models.Server))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (tx *Tx) Artist(serverID, remoteID string) (*models.Artist, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindArtist, RemoteID: remoteID})
	if !ok {
		return nil, false
	}
	return e.(*models.Artist), true
}

func (tx *Tx) Album(serverID, remoteID string) (*models.Album, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindAlbum, RemoteID: remoteID})
	if !ok {
		return nil, false
	}
	return e.(*models.Album), true
}

func (tx *Tx) Track(serverID, remoteID string) (*models.Track, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindTrack, RemoteID: remoteID})
	if !ok {
		return nil, false
	}
	return e.(*models.Track), true
}

func (tx *Tx) Cover(serverID, remoteID string) (*models.Cover, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindCover, RemoteID: remoteID})
	if !ok {
		return nil, false
	}
	return e.(*models.Cover), true
}

func (tx *Tx) Playlist(serverID, remoteID string) (*models.Playlist, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindPlaylist, RemoteID: remoteID})
	if !ok {
		return nil, false
	}
	return e.(*models.Playlist), true
}

func (tx *Tx) Podcast(serverID, remoteID string) (*models.Podcast, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindPodcast, RemoteID: remoteID})
	if !ok {
		return nil, false
	}
	return e.(*models.Podcast), true
}

func (tx *Tx) Episode(serverID, remoteID string) (*models.Episode, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindEpisode, RemoteID: remoteID})
	if !ok {
		return nil, false
	}
	return e.(*models.Episode), true
}

func (tx *Tx) Index(serverID, name string) (*models.Index, bool) {
	e, ok := tx.Get(models.Key{ServerID: serverID, Kind: models.KindIndex, RemoteID: name})
	if !ok {
		return nil, false
	}
	return e.(*models.Index), true
}

// DeleteServer removes a server and cascades over everything it exclusively
// owns. Local tracks merely paired via the download pairing survive with
// their back-reference cleared.
func (tx *Tx) DeleteServer(serverID string) error {
	kinds := []models.EntityKind{
		models.KindArtist, models.KindAlbum, models.KindTrack,
		models.KindCover, models.KindPlaylist, models.KindPodcast,
		models.KindEpisode, models.KindNowPlaying, models.KindIndex,
	}
	for _, kind := range kinds {
		for _, e := range tx.List(serverID, kind) {
			if kind == models.KindTrack {
				t := e.(*models.Track)
				if t.LocalTrackID != "" {
					if local, ok := tx.Track(models.LocalLibraryID, t.LocalTrackID); ok {
						local.RemoteTrackID = ""
						local.PairedServerID = ""
						if err := tx.Put(local); err != nil {
							return err
						}
					}
				}
			}
			if err := tx.Delete(e.EntityKey()); err != nil {
				return err
			}
		}
	}
	return tx.Delete(models.Key{ServerID: serverID, Kind: models.KindServer, RemoteID: serverID})
}
