package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
}

// Operation phase enumeration
type Phase int

const (
	PhaseConnect Phase = iota
	PhaseIndexes
	PhaseArtists
	PhaseAlbums
	PhasePlaylists
	PhasePodcasts
)

func (p Phase) String() string {
	switch p {
	case PhaseConnect:
		return "connect"
	case PhaseIndexes:
		return "indexes"
	case PhaseArtists:
		return "artists"
	case PhaseAlbums:
		return "albums"
	case PhasePlaylists:
		return "playlists"
	case PhasePodcasts:
		return "podcasts"
	default:
		return ""
	}
}

func connectUpdate(name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseConnect,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Connecting to %s...", name),
	}
}

func indexesUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseIndexes,
		Step:    1,
		Total:   1,
		Message: "Fetching artist index...",
	}
}

func artistUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseArtists,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, name),
	}
}

func albumUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseAlbums,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, name),
	}
}

func playlistsUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhasePlaylists,
		Step:    1,
		Total:   1,
		Message: "Fetching playlists...",
	}
}

func playlistUpdate(step, total int, name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhasePlaylists,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s", step, total, name),
	}
}

func podcastsUpdate() ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhasePodcasts,
		Step:    1,
		Total:   1,
		Message: "Fetching podcasts...",
	}
}
