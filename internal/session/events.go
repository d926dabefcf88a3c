package session

import (
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/subsonic"
)

// EventKind tags controller notifications.
type EventKind int

const (
	EventConnectionChanged EventKind = iota
	EventIndexesUpdated
	EventAlbumsUpdated
	EventTracksUpdated
	EventAlbumListUpdated
	EventPlaylistsChanged
	EventPlaylistUpdated
	EventPodcastsUpdated
	EventNowPlayingUpdated
	EventSearchResults
	EventCoversUpdated
	EventUserUpdated
	EventOperationFailed
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionChanged:
		return "connection_changed"
	case EventIndexesUpdated:
		return "indexes_updated"
	case EventAlbumsUpdated:
		return "albums_updated"
	case EventTracksUpdated:
		return "tracks_updated"
	case EventAlbumListUpdated:
		return "album_list_updated"
	case EventPlaylistsChanged:
		return "playlists_changed"
	case EventPlaylistUpdated:
		return "playlist_updated"
	case EventPodcastsUpdated:
		return "podcasts_updated"
	case EventNowPlayingUpdated:
		return "now_playing_updated"
	case EventSearchResults:
		return "search_results"
	case EventCoversUpdated:
		return "covers_updated"
	case EventUserUpdated:
		return "user_updated"
	case EventOperationFailed:
		return "operation_failed"
	default:
		return "unknown"
	}
}

// Event is one typed notification delivered to observers. Failed operations
// never disappear silently: every failure carries the operation kind, the
// server, and the error.
type Event struct {
	Kind     EventKind
	ServerID string

	// State accompanies EventConnectionChanged.
	State models.ConnectionState

	// Op and Err accompany EventOperationFailed.
	Op  subsonic.Operation
	Err error

	// TargetID names the artist, album, playlist, or cover the update
	// concerns, when the operation had one.
	TargetID string

	// Search accompanies EventSearchResults.
	Search *models.SearchResult
}

// Observer receives controller events. Callbacks run on queue goroutines and
// must not block.
type Observer func(Event)
