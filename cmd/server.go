package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/queue"
	"github.com/coveborn/periscope/internal/shared"
)

// Setup creates the config file if missing, then initializes the database
// and runs migrations.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		r.logger.Info("config file created", "path", configPath)
	}

	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	r.logger.Infof("setup complete for database: %v", r.config.Database.Path)
	r.writePlain("✓ Setup complete\n")
	r.writePlain("Edit %s to add servers, or run 'periscope server add'\n", configPath)
	return nil
}

// ServerAdd registers a new server in the graph.
func (r *Runner) ServerAdd(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	srv, err := r.ctrl.AddServer(shared.ServerConfig{
		Name:      cmd.String("name"),
		URL:       cmd.String("url"),
		Username:  cmd.String("username"),
		Password:  cmd.String("password"),
		TokenAuth: cmd.Bool("token-auth"),
		Format:    cmd.String("format"),
	})
	if err != nil {
		return err
	}

	r.writePlain("✓ Server added: %s (%s)\n", srv.Name, srv.ID)
	r.writePlain("Run 'periscope connect --server %s' to verify credentials\n", srv.Name)
	return nil
}

// ServerList prints every registered server with its sync status.
func (r *Runner) ServerList(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	servers, err := r.listServers()
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(servers)
	}

	if len(servers) == 0 {
		r.writePlain("No servers registered\n")
		return nil
	}
	for _, srv := range servers {
		license := "license unknown"
		if srv.LicenseValid != nil {
			if *srv.LicenseValid {
				license = "licensed"
			} else {
				license = "unlicensed"
			}
		}
		synced := "never synced"
		if !srv.LastIndexUpdate.IsZero() {
			synced = "synced " + srv.LastIndexUpdate.Format("2006-01-02 15:04")
		}
		r.writePlain("%s  %s  [%s, %s]\n", srv.Name, srv.URL, license, synced)
	}
	return nil
}

// ServerRemove deletes a server and cascades over everything it owns.
func (r *Runner) ServerRemove(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}
	if err := r.ctrl.RemoveServer(srv.ID); err != nil {
		return err
	}
	r.writePlain("✓ Server removed: %s\n", srv.Name)
	return nil
}

// Connect pings the server and reports the resulting session state.
func (r *Runner) Connect(ctx context.Context, cmd *cli.Command) error {
	if err := r.bootstrap(cmd); err != nil {
		return err
	}

	srv, err := r.resolveServer(cmd)
	if err != nil {
		return err
	}

	r.writePlain("Connecting to %s...\n", srv.Name)
	h, err := r.ctrl.Connect(ctx, srv.ID)
	if err != nil {
		return err
	}
	if err := r.waitHandle(ctx, h); err != nil {
		return err
	}

	state := r.ctrl.State(srv.ID)
	if state != models.Connected {
		return fmt.Errorf("%w: %s is %s", shared.ErrNotConnected, srv.Name, state)
	}

	// Connect refreshes the negotiated version and license in the graph.
	fresh, err := r.listServer(srv.ID)
	if err != nil {
		return err
	}
	r.writePlain("✓ Connected (API %s)\n", fresh.APIVersion)
	return nil
}

func (r *Runner) waitHandle(ctx context.Context, h *queue.Handle) error {
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
