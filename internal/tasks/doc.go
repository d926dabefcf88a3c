// Package tasks implements multi-step library operations over the session
// controller.
//
// The core abstraction is [SyncEngine], which walks a connected server's
// catalog stage by stage: index, artists, albums, playlists, podcasts. Each
// stage fans out the necessary fetches and waits for them to settle before
// the next stage reads the graph. Operations emit progress updates via
// channels for non-blocking status reporting to the CLI layer.
package tasks
