package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/queue"
	"github.com/coveborn/periscope/internal/reconcile"
	"github.com/coveborn/periscope/internal/repositories"
	"github.com/coveborn/periscope/internal/session"
	"github.com/coveborn/periscope/internal/shared"
	"github.com/coveborn/periscope/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for
// each command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer

	store  *graph.MemoryStore
	mirror *repositories.Mirror
	ctrl   *session.Controller
	engine *tasks.LibraryEngine

	booted bool
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config: opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

// bootstrap opens the mirror, loads the graph, and wires the controller and
// sync engine. Idempotent; commands call it before touching the graph.
func (r *Runner) bootstrap(cmd *cli.Command) error {
	if r.booted {
		return nil
	}

	if configPath := cmd.String("config"); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			config, err := shared.LoadConfig(configPath)
			if err != nil {
				return err
			}
			r.config = config
		}
	}
	shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.Log.Level))

	mirror, err := repositories.Open(r.config.Database.Path, r.logger, r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	r.mirror = mirror

	r.store = graph.NewMemoryStore()
	if err := mirror.Load(r.store); err != nil {
		mirror.Close()
		return fmt.Errorf("failed to load graph: %w", err)
	}
	r.store.SetCommitHook(mirror.CommitHook())

	coverDir, err := coverCacheDir()
	if err != nil {
		r.logger.Warn("cover cache disabled", "err", err)
	}
	rec := reconcile.New(r.store, r.logger, reconcile.Options{CoverDir: coverDir})
	r.ctrl = session.New(r.store, rec, queue.NewHTTPTransport(nil), r.logger, r.config)
	r.engine = tasks.NewLibraryEngine(r.ctrl, r.store, r.logger)

	// Servers from config that the graph does not know yet are registered on
	// first boot.
	for _, sc := range r.config.Servers {
		if _, err := r.findServerByName(sc.Name); err == nil {
			continue
		}
		if _, err := r.ctrl.AddServer(sc); err != nil {
			r.logger.Warn("skipping configured server", "server", sc.Name, "err", err)
		}
	}

	r.booted = true
	return nil
}

// teardown closes the controller and mirror; deferred by main.
func (r *Runner) teardown() {
	if !r.booted {
		return
	}
	r.ctrl.Close()
	if err := r.mirror.Close(); err != nil {
		r.logger.Warn("failed to close database", "err", err)
	}
}

// resolveServer maps a --server flag value (name or id) onto a server entity.
// With exactly one server configured the flag may be omitted.
func (r *Runner) resolveServer(cmd *cli.Command) (*models.Server, error) {
	ref := cmd.String("server")

	var servers []*models.Server
	err := r.store.View(func(tx *graph.Tx) error {
		servers = tx.Servers()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if ref == "" {
		if len(servers) == 1 {
			return servers[0], nil
		}
		return nil, fmt.Errorf("%w: --server is required with %d servers configured", shared.ErrMissingArgument, len(servers))
	}
	for _, srv := range servers {
		if srv.ID == ref || strings.EqualFold(srv.Name, ref) {
			return srv, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", shared.ErrServerNotFound, ref)
}

func (r *Runner) listServers() ([]*models.Server, error) {
	var servers []*models.Server
	err := r.store.View(func(tx *graph.Tx) error {
		servers = tx.Servers()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return servers, nil
}

func (r *Runner) listServer(serverID string) (*models.Server, error) {
	var srv *models.Server
	err := r.store.View(func(tx *graph.Tx) error {
		s, ok := tx.Server(serverID)
		if !ok {
			return shared.ErrServerNotFound
		}
		srv = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func (r *Runner) findServerByName(name string) (*models.Server, error) {
	var found *models.Server
	err := r.store.View(func(tx *graph.Tx) error {
		for _, srv := range tx.Servers() {
			if strings.EqualFold(srv.Name, name) {
				found = srv
				return nil
			}
		}
		return shared.ErrServerNotFound
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func coverCacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := cacheDir + "/periscope/covers"
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, serverCommand, connectCommand, syncCommand,
		libraryCommand, playlistCommand, searchCommand, nowPlayingCommand,
		scanCommand, exportCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writeJSON(data any) error {
	output, err := shared.MarshalJSON(data, true)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
