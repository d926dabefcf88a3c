package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/coveborn/periscope/internal/formatter"
	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/shared"
)

// PlaylistList prints the playlist roster from the local graph.
func (r *Runner) PlaylistList(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}

	var playlists []*models.Playlist
	err = r.store.View(func(tx *graph.Tx) error {
		for _, entity := range tx.List(srv.ID, models.KindPlaylist) {
			playlists = append(playlists, entity.(*models.Playlist))
		}
		return nil
	})
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(playlists)
	}
	if len(playlists) == 0 {
		r.writePlain("No playlists synced. Run 'periscope sync' first\n")
		return nil
	}
	for _, pl := range playlists {
		r.writePlain("%s  %s (%d tracks, %s)\n",
			pl.RemoteID, pl.Name, len(pl.TrackIDs), shared.VisibilityString(pl.Public))
	}
	return nil
}

// PlaylistShow prints one playlist's tracks in play order.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	playlistID := cmd.String("id")

	if cmd.Bool("refresh") {
		if err := r.connectIfNeeded(ctx, srv.ID); err != nil {
			return err
		}
		h, err := r.ctrl.GetPlaylist(ctx, srv.ID, playlistID)
		if err != nil {
			return err
		}
		if err := r.waitHandle(ctx, h); err != nil {
			return err
		}
	}

	export, err := r.playlistExport(srv.ID, playlistID)
	if err != nil {
		return err
	}
	data, err := formatter.ExportToText(export)
	if err != nil {
		return err
	}
	return r.writePlain("%s", data)
}

// PlaylistCreate creates a playlist on the server.
func (r *Runner) PlaylistCreate(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	if err := r.connectIfNeeded(ctx, srv.ID); err != nil {
		return err
	}

	name := cmd.String("name")
	h, err := r.ctrl.CreatePlaylist(ctx, srv.ID, name, cmd.StringSlice("track"))
	if err != nil {
		return err
	}
	if err := r.waitHandle(ctx, h); err != nil {
		return err
	}
	r.writePlain("✓ Playlist created: %s\n", name)
	return nil
}

// PlaylistDelete removes a playlist on the server and locally.
func (r *Runner) PlaylistDelete(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	if err := r.connectIfNeeded(ctx, srv.ID); err != nil {
		return err
	}

	playlistID := cmd.String("id")
	h, err := r.ctrl.DeletePlaylist(ctx, srv.ID, playlistID)
	if err != nil {
		return err
	}
	if err := r.waitHandle(ctx, h); err != nil {
		return err
	}
	r.writePlain("✓ Playlist deleted: %s\n", playlistID)
	return nil
}

// Export writes a playlist to CSV, Markdown, or plain text.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}
	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}

	export, err := r.playlistExport(srv.ID, cmd.String("id"))
	if err != nil {
		return err
	}

	format := cmd.String("format")
	output := cmd.String("output")

	switch format {
	case "csv":
		result, err := formatter.WriteCSVExport(export, output)
		if err != nil {
			return err
		}
		r.writePlain("✓ Exported to %s and %s\n", result.TracksFile, result.MetadataFile)
		return nil
	case "md":
		data, err := formatter.ExportToMarkdown(export, "")
		if err != nil {
			return err
		}
		return r.writeExport(data, output)
	case "txt":
		data, err := formatter.ExportToText(export)
		if err != nil {
			return err
		}
		return r.writeExport(data, output)
	default:
		return fmt.Errorf("%w: format %q", shared.ErrInvalidArgument, format)
	}
}

func (r *Runner) writeExport(data []byte, output string) error {
	if output == "" {
		return r.writePlain("%s", data)
	}
	if err := os.WriteFile(output, data, 0644); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	r.writePlain("✓ Exported to %s\n", output)
	return nil
}

// playlistExport resolves a playlist and its member tracks in order.
func (r *Runner) playlistExport(serverID, playlistID string) (*formatter.PlaylistExport, error) {
	export := &formatter.PlaylistExport{}
	err := r.store.View(func(tx *graph.Tx) error {
		pl, ok := tx.Playlist(serverID, playlistID)
		if !ok {
			return fmt.Errorf("%w: playlist %q", shared.ErrEntityNotFound, playlistID)
		}
		export.Playlist = pl
		for _, id := range pl.TrackIDs {
			if track, ok := tx.Track(serverID, id); ok {
				export.Tracks = append(export.Tracks, track)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return export, nil
}
