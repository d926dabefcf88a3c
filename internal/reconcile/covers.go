package reconcile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/subsonic"
)

// applyCover stores fetched artwork bytes and records the file path on the
// shared cover entity. The cover id comes from the request parameters since
// the payload is raw image data.
func (r *Reconciler) applyCover(tx *graph.Tx, req *subsonic.Request, body []byte, mime string) error {
	coverID := req.Param("id")
	if coverID == "" {
		return fmt.Errorf("cover response without id parameter")
	}
	if !strings.HasPrefix(mime, "image/") {
		return &subsonic.CodecError{Reason: fmt.Sprintf("cover payload is %q, not an image", mime)}
	}

	cover, err := r.findOrCreateCover(tx, req.ServerID, coverID)
	if err != nil {
		return err
	}

	if r.coverDir != "" {
		dir := filepath.Join(r.coverDir, req.ServerID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cover directory: %w", err)
		}
		path := filepath.Join(dir, coverID+coverExtension(mime))
		if err := os.WriteFile(path, body, 0644); err != nil {
			return fmt.Errorf("failed to write cover file: %w", err)
		}
		cover.ImagePath = path
	}
	return tx.Put(cover)
}

// coverExtension guesses a file extension from the mime type; ID3 covers are
// usually JPEG so that is the fallback.
func coverExtension(mime string) string {
	switch {
	case strings.Contains(mime, "png"):
		return ".png"
	case strings.Contains(mime, "gif"):
		return ".gif"
	case strings.Contains(mime, "webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}
