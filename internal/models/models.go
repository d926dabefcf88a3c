package models

import (
	"fmt"
	"time"
)

// EntityKind tags each entity variant stored in the graph.
type EntityKind string

const (
	KindServer     EntityKind = "server"
	KindArtist     EntityKind = "artist"
	KindAlbum      EntityKind = "album"
	KindTrack      EntityKind = "track"
	KindCover      EntityKind = "cover"
	KindPlaylist   EntityKind = "playlist"
	KindPodcast    EntityKind = "podcast"
	KindEpisode    EntityKind = "episode"
	KindNowPlaying EntityKind = "nowplaying"
	KindIndex      EntityKind = "index"
)

// LocalLibraryID is the pseudo-server that owns downloaded (file-backed)
// tracks. Local tracks have an independent lifecycle: deleting a real server
// never cascades into the local library.
const LocalLibraryID = "local"

// Key identifies one graph node: at most one entity may exist per Key.
//
// For server-origin entities RemoteID is the server-assigned id; for purely
// local entities (servers themselves, now-playing records, downloaded tracks)
// it is a locally generated uuid.
type Key struct {
	ServerID string
	Kind     EntityKind
	RemoteID string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ServerID, k.Kind, k.RemoteID)
}

// Entity is implemented by every graph node.
type Entity interface {
	EntityKey() Key
}

// MusicItem is the shared capability of catalog nodes: a display name, an
// artwork reference, and a kind tag. Concrete variants are distinct structs,
// not a hierarchy.
type MusicItem interface {
	Entity
	DisplayName() string
	CoverRef() string
}

// ConnectionState tracks a server's session lifecycle.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// AlbumListType selects one of the server's curated album lists.
type AlbumListType string

const (
	AlbumListRandom   AlbumListType = "random"
	AlbumListNewest   AlbumListType = "newest"
	AlbumListFrequent AlbumListType = "frequent"
	AlbumListHighest  AlbumListType = "highest"
	AlbumListRecent   AlbumListType = "recent"
)

// Server is the identity for one remote endpoint. It owns every server-origin
// entity in the graph and exactly one Home aggregate.
type Server struct {
	ID         string
	Name       string
	URL        string
	Username   string
	Password   string
	TokenAuth  bool
	Format     string // "xml" or "json"
	APIVersion string // negotiated on ping

	LicenseValid     *bool
	LastLicenseCheck time.Time
	LastIndexUpdate  time.Time

	// Remote account details from getUser.
	UserEmail string
	UserAdmin *bool

	// Home is the top-level categorized view: album remote ids per list type.
	Home map[AlbumListType][]string

	// Features the server reported as unsupported (HTTP 404 responses).
	Unsupported map[string]bool
}

func (s *Server) EntityKey() Key {
	return Key{ServerID: s.ID, Kind: KindServer, RemoteID: s.ID}
}

// Artist aggregates albums.
type Artist struct {
	ServerID string
	RemoteID string
	Name     string
	CoverID  string
	AlbumIDs []string // child album remote ids, wiring maintained by the reconciler

	// NeedsRefresh marks a stub created to satisfy a child reference.
	NeedsRefresh bool
}

func (a *Artist) EntityKey() Key {
	return Key{ServerID: a.ServerID, Kind: KindArtist, RemoteID: a.RemoteID}
}
func (a *Artist) DisplayName() string { return a.Name }
func (a *Artist) CoverRef() string    { return a.CoverID }

// Album aggregates tracks and carries a denormalized cover reference.
type Album struct {
	ServerID string
	RemoteID string
	Name     string
	ArtistID string // parent artist remote id
	CoverID  string
	Year     *int
	Genre    string
	TrackIDs []string

	NeedsRefresh bool
}

func (a *Album) EntityKey() Key {
	return Key{ServerID: a.ServerID, Kind: KindAlbum, RemoteID: a.RemoteID}
}
func (a *Album) DisplayName() string { return a.Name }
func (a *Album) CoverRef() string    { return a.CoverID }

// Track is a single catalog entry, either remote (server-origin) or local
// (file-backed download).
type Track struct {
	ServerID string
	RemoteID string

	Title      string
	ArtistName string
	AlbumName  string
	Genre      string

	Duration    *int // seconds
	BitRate     *int
	TrackNumber *int
	Year        *int
	Size        *int64
	Rating      *int

	ContentType      string
	Suffix           string
	TranscodedType   string
	TranscodedSuffix string

	AlbumID   string // parent album remote id, empty if unknown
	CoverID   string
	EpisodeID string // set when the track backs a podcast episode

	// PlaylistID/PlaylistIndex record ordinal membership in at most one
	// playlist; ordinals are 0-based and contiguous after reconciliation.
	PlaylistID    string
	PlaylistIndex *int

	IsPlaying bool
	IsLocal   bool
	Path      string // on-disk path for local tracks

	// LocalTrackID/RemoteTrackID form the download pairing. The pair is
	// symmetric or absent on both sides: a remote track's LocalTrackID names
	// the downloaded copy, whose RemoteTrackID names it back. PairedServerID
	// on the local side records which server owns the remote counterpart.
	LocalTrackID   string
	RemoteTrackID  string
	PairedServerID string
}

func (t *Track) EntityKey() Key {
	return Key{ServerID: t.ServerID, Kind: KindTrack, RemoteID: t.RemoteID}
}
func (t *Track) DisplayName() string { return t.Title }
func (t *Track) CoverRef() string    { return t.CoverID }

// Cover is artwork shared by id: multiple tracks and albums may reference the
// same cover entity.
type Cover struct {
	ServerID  string
	RemoteID  string
	ImagePath string
}

func (c *Cover) EntityKey() Key {
	return Key{ServerID: c.ServerID, Kind: KindCover, RemoteID: c.RemoteID}
}

// Playlist is an ordered collection of track references. TrackIDs order is
// significant for playback sequencing.
type Playlist struct {
	ServerID string
	RemoteID string
	Name     string
	Comment  string
	Public   *bool
	Owner    string
	TrackIDs []string
}

func (p *Playlist) EntityKey() Key {
	return Key{ServerID: p.ServerID, Kind: KindPlaylist, RemoteID: p.RemoteID}
}
func (p *Playlist) DisplayName() string { return p.Name }
func (p *Playlist) CoverRef() string    { return "" }

// PodcastStatus mirrors the server's channel status field.
type PodcastStatus string

const (
	PodcastStatusNew         PodcastStatus = "new"
	PodcastStatusDownloading PodcastStatus = "downloading"
	PodcastStatusCompleted   PodcastStatus = "completed"
	PodcastStatusError       PodcastStatus = "error"
	PodcastStatusSkipped     PodcastStatus = "skipped"
)

// Podcast is a channel owning episodes.
type Podcast struct {
	ServerID     string
	RemoteID     string
	Title        string
	Description  string
	ChannelURL   string
	CoverID      string
	Status       PodcastStatus
	ErrorMessage string
	EpisodeIDs   []string
}

func (p *Podcast) EntityKey() Key {
	return Key{ServerID: p.ServerID, Kind: KindPodcast, RemoteID: p.RemoteID}
}
func (p *Podcast) DisplayName() string { return p.Title }
func (p *Podcast) CoverRef() string    { return p.CoverID }

// Episode is a single podcast entry; StreamID names the playable track id on
// the server once the episode is downloaded server-side.
type Episode struct {
	ServerID    string
	RemoteID    string
	PodcastID   string
	Title       string
	Description string
	StreamID    string
	CoverID     string
	Status      PodcastStatus
	PublishDate time.Time
	Duration    *int
}

func (e *Episode) EntityKey() Key {
	return Key{ServerID: e.ServerID, Kind: KindEpisode, RemoteID: e.RemoteID}
}
func (e *Episode) DisplayName() string { return e.Title }
func (e *Episode) CoverRef() string    { return e.CoverID }

// NowPlaying is an append-only record of what a server user is playing.
type NowPlaying struct {
	ServerID   string
	ID         string // local uuid
	TrackID    string // remote track id
	Username   string
	PlayerName string
	MinutesAgo *int
	SeenAt     time.Time
}

func (n *NowPlaying) EntityKey() Key {
	return Key{ServerID: n.ServerID, Kind: KindNowPlaying, RemoteID: n.ID}
}

// Index is a navigational grouping of artists (alphabetical sections,
// "podcasts", "playlists", search results). Thin container, not
// content-owning.
type Index struct {
	ServerID  string
	Name      string
	ArtistIDs []string
}

func (i *Index) EntityKey() Key {
	return Key{ServerID: i.ServerID, Kind: KindIndex, RemoteID: i.Name}
}
func (i *Index) DisplayName() string { return i.Name }
func (i *Index) CoverRef() string    { return "" }

// SearchResult is the transient outcome of a search verb: matching entity
// ids grouped by kind. It is not itself a graph entity; matched entities are
// reconciled into the graph as usual.
type SearchResult struct {
	ServerID  string
	Query     string
	ArtistIDs []string
	AlbumIDs  []string
	TrackIDs  []string
}
