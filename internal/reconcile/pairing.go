package reconcile

import (
	"fmt"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/shared"
)

// RegisterDownload wires the local/remote track pairing after the external
// download manager fetched a remote track's bytes. The pairing is one-to-one
// and symmetric: if the remote track already has a local counterpart that
// entity is updated in place, never duplicated.
func (r *Reconciler) RegisterDownload(serverID, remoteID, path string) (string, error) {
	var localID string
	err := r.store.Update(func(tx *graph.Tx) error {
		remote, ok := tx.Track(serverID, remoteID)
		if !ok {
			return fmt.Errorf("%w: track %s/%s", shared.ErrEntityNotFound, serverID, remoteID)
		}

		var local *models.Track
		if remote.LocalTrackID != "" {
			existing, ok := tx.Track(models.LocalLibraryID, remote.LocalTrackID)
			if !ok {
				return fmt.Errorf("pairing names missing local track %s", remote.LocalTrackID)
			}
			if existing.RemoteTrackID != remote.RemoteID {
				return fmt.Errorf("asymmetric pairing between %s and %s", remote.RemoteID, existing.RemoteID)
			}
			local = existing
		} else {
			local = &models.Track{
				ServerID: models.LocalLibraryID,
				RemoteID: shared.GenerateID(),
				IsLocal:  true,
			}
		}

		local.Title = remote.Title
		local.ArtistName = remote.ArtistName
		local.AlbumName = remote.AlbumName
		local.Genre = remote.Genre
		local.Duration = remote.Duration
		local.BitRate = remote.BitRate
		local.TrackNumber = remote.TrackNumber
		local.Year = remote.Year
		local.Size = remote.Size
		local.ContentType = remote.ContentType
		local.Suffix = remote.Suffix
		local.Path = path

		// Both directions set in the same pass keeps the invariant
		// observable only in its symmetric form.
		local.RemoteTrackID = remote.RemoteID
		local.PairedServerID = remote.ServerID
		remote.LocalTrackID = local.RemoteID

		if err := tx.Put(local); err != nil {
			return err
		}
		if err := tx.Put(remote); err != nil {
			return err
		}
		localID = local.RemoteID
		return nil
	})
	return localID, err
}

// UnregisterDownload dissolves a pairing when the local file goes away. The
// local track entity is removed; the remote side merely loses its
// back-reference.
func (r *Reconciler) UnregisterDownload(localID string) error {
	return r.store.Update(func(tx *graph.Tx) error {
		local, ok := tx.Track(models.LocalLibraryID, localID)
		if !ok {
			return fmt.Errorf("%w: local track %s", shared.ErrEntityNotFound, localID)
		}
		if local.RemoteTrackID != "" && local.PairedServerID != "" {
			if remote, ok := tx.Track(local.PairedServerID, local.RemoteTrackID); ok && remote.LocalTrackID == local.RemoteID {
				remote.LocalTrackID = ""
				if err := tx.Put(remote); err != nil {
					return err
				}
			}
		}
		return tx.Delete(local.EntityKey())
	})
}
