// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

func serverFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Server name or id (optional with a single server)",
	}
}

// setupCommand initializes config and database
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize configuration and local database",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// serverCommand manages server registrations
func serverCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"srv"},
		Usage:   "Manage music servers",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Register a server",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{Name: "name", Usage: "Display name", Required: true},
					&cli.StringFlag{Name: "url", Usage: "Base URL (http or https)", Required: true},
					&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Usage: "Account username", Required: true},
					&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Usage: "Account password", Required: true},
					&cli.BoolFlag{Name: "token-auth", Usage: "Use salted token authentication", Value: true},
					&cli.StringFlag{Name: "format", Usage: "Response format (xml or json)", Value: "xml"},
				},
				Action: r.ServerAdd,
			},
			{
				Name:  "list",
				Usage: "List registered servers",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.ServerList,
			},
			{
				Name:  "remove",
				Usage: "Remove a server and everything synced from it",
				Flags: []cli.Flag{configFlag(), serverFlag()},
				Action: r.ServerRemove,
			},
		},
	}
}

// connectCommand verifies reachability and credentials
func connectCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "connect",
		Usage:  "Connect to a server and verify credentials",
		Flags:  []cli.Flag{configFlag(), serverFlag()},
		Action: r.Connect,
	}
}

// syncCommand walks the remote catalog into the local graph
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync a server's library into the local catalog",
		Flags: []cli.Flag{
			configFlag(),
			serverFlag(),
			&cli.BoolFlag{Name: "full", Usage: "Refetch every artist and album"},
			&cli.BoolFlag{Name: "skip-playlists", Usage: "Skip the playlist stage"},
			&cli.BoolFlag{Name: "skip-podcasts", Usage: "Skip the podcast stage"},
		},
		Action: r.Sync,
	}
}

// libraryCommand browses the synced catalog
func libraryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "library",
		Aliases: []string{"lib"},
		Usage:   "Browse the synced catalog",
		Commands: []*cli.Command{
			{
				Name:   "artists",
				Usage:  "List artists grouped by index",
				Flags:  []cli.Flag{configFlag(), serverFlag()},
				Action: r.LibraryArtists,
			},
			{
				Name:  "albums",
				Usage: "List albums, optionally for one artist",
				Flags: []cli.Flag{
					configFlag(),
					serverFlag(),
					&cli.StringFlag{Name: "artist", Usage: "Artist id"},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.LibraryAlbums,
			},
			{
				Name:  "tracks",
				Usage: "List an album's tracks",
				Flags: []cli.Flag{
					configFlag(),
					serverFlag(),
					&cli.StringFlag{Name: "album", Usage: "Album id", Required: true},
				},
				Action: r.LibraryTracks,
			},
			{
				Name:  "home",
				Usage: "Show curated album lists (newest, recent, frequent...)",
				Flags: []cli.Flag{
					configFlag(),
					serverFlag(),
					&cli.StringFlag{Name: "type", Usage: "List type to fetch", Value: "newest"},
					&cli.BoolFlag{Name: "refresh", Usage: "Fetch from the server first"},
				},
				Action: r.LibraryHome,
			},
		},
	}
}

// playlistCommand manages playlists
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Manage playlists",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List playlists",
				Flags: []cli.Flag{
					configFlag(),
					serverFlag(),
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.PlaylistList,
			},
			{
				Name:  "show",
				Usage: "Show a playlist's tracks in order",
				Flags: []cli.Flag{
					configFlag(),
					serverFlag(),
					&cli.StringFlag{Name: "id", Usage: "Playlist id", Required: true},
					&cli.BoolFlag{Name: "refresh", Usage: "Fetch from the server first"},
				},
				Action: r.PlaylistShow,
			},
			{
				Name:  "create",
				Usage: "Create a playlist",
				Flags: []cli.Flag{
					configFlag(),
					serverFlag(),
					&cli.StringFlag{Name: "name", Usage: "Playlist name", Required: true},
					&cli.StringSliceFlag{Name: "track", Usage: "Track id to include (repeatable)"},
				},
				Action: r.PlaylistCreate,
			},
			{
				Name:  "delete",
				Usage: "Delete a playlist",
				Flags: []cli.Flag{
					configFlag(),
					serverFlag(),
					&cli.StringFlag{Name: "id", Usage: "Playlist id", Required: true},
				},
				Action: r.PlaylistDelete,
			},
		},
	}
}

// searchCommand queries the server
func searchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search the server's catalog",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "query"},
		},
		Flags:  []cli.Flag{configFlag(), serverFlag()},
		Action: r.Search,
	}
}

// nowPlayingCommand shows other listeners
func nowPlayingCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "now-playing",
		Usage:  "Show what other users are playing",
		Flags:  []cli.Flag{configFlag(), serverFlag()},
		Action: r.NowPlaying,
	}
}

// scanCommand controls server-side media scans
func scanCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "Server-side media folder scans",
		Commands: []*cli.Command{
			{
				Name:   "start",
				Usage:  "Start a media scan",
				Flags:  []cli.Flag{configFlag(), serverFlag()},
				Action: r.ScanStart,
			},
			{
				Name:   "status",
				Usage:  "Show scan progress",
				Flags:  []cli.Flag{configFlag(), serverFlag()},
				Action: r.ScanStatus,
			},
		},
	}
}

// exportCommand writes playlists to files
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a playlist to CSV, Markdown, or plain text",
		Flags: []cli.Flag{
			configFlag(),
			serverFlag(),
			&cli.StringFlag{Name: "id", Usage: "Playlist id", Required: true},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "csv, md, or txt", Value: "csv"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file path (or base path for csv)"},
		},
		Action: r.Export,
	}
}
