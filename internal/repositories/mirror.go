package repositories

import (
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"

	"github.com/coveborn/periscope/internal/graph"
	"github.com/coveborn/periscope/internal/models"
	"github.com/coveborn/periscope/internal/shared"
)

// Mirror is the durable write-through copy of the graph.
type Mirror struct {
	db     *sql.DB
	logger *log.Logger
}

// Open opens (or creates) the mirror database at path and applies pending
// migrations. Path ":memory:" is valid and used in tests.
func Open(path string, logger *log.Logger, cfg shared.DatabaseConfig) (*Mirror, error) {
	db, err := shared.NewDatabase(path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, cfg.MaxOpenConns, cfg.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Mirror{db: db, logger: shared.ComponentLogger(logger, "mirror")}, nil
}

// Close releases the database connection.
func (m *Mirror) Close() error {
	return m.db.Close()
}

// DB exposes the underlying connection for maintenance commands.
func (m *Mirror) DB() *sql.DB {
	return m.db
}

// Load decodes every persisted entity and seeds it into the graph. Rows that
// fail to decode are skipped with a warning rather than blocking startup.
func (m *Mirror) Load(store *graph.MemoryStore) error {
	rows, err := m.db.Query("SELECT server_id, kind, remote_id, data FROM entities")
	if err != nil {
		return fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var loaded int
	for rows.Next() {
		var serverID, kind, remoteID string
		var data []byte
		if err := rows.Scan(&serverID, &kind, &remoteID, &data); err != nil {
			return fmt.Errorf("failed to scan entity row: %w", err)
		}

		entity, err := decodeEntity(models.EntityKind(kind), data)
		if err != nil {
			m.logger.Warn("skipping undecodable entity",
				"key", models.Key{ServerID: serverID, Kind: models.EntityKind(kind), RemoteID: remoteID}.String(),
				"err", err)
			continue
		}
		store.Seed(entity)
		loaded++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate entities: %w", err)
	}

	m.logger.Debug("graph loaded", "entities", loaded)
	return nil
}

// CommitHook returns the write-through hook to install on the graph. The
// whole changeset lands in one SQL transaction; a failure aborts the graph
// commit so memory and disk never diverge.
func (m *Mirror) CommitHook() graph.CommitHook {
	return func(cs graph.Changeset) error {
		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		for _, k := range cs.Delete {
			if _, err := tx.Exec(
				"DELETE FROM entities WHERE server_id = ? AND kind = ? AND remote_id = ?",
				k.ServerID, string(k.Kind), k.RemoteID,
			); err != nil {
				return fmt.Errorf("failed to delete %s: %w", k, err)
			}
		}

		for _, e := range cs.Put {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", e.EntityKey(), err)
			}
			k := e.EntityKey()
			if _, err := tx.Exec(`
				INSERT INTO entities (server_id, kind, remote_id, data, updated_at)
				VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
				ON CONFLICT (server_id, kind, remote_id)
				DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`,
				k.ServerID, string(k.Kind), k.RemoteID, data,
			); err != nil {
				return fmt.Errorf("failed to upsert %s: %w", k, err)
			}
		}

		return tx.Commit()
	}
}

// decodeEntity unmarshals one mirror row back into its concrete type.
func decodeEntity(kind models.EntityKind, data []byte) (models.Entity, error) {
	var entity models.Entity
	switch kind {
	case models.KindServer:
		entity = &models.Server{}
	case models.KindArtist:
		entity = &models.Artist{}
	case models.KindAlbum:
		entity = &models.Album{}
	case models.KindTrack:
		entity = &models.Track{}
	case models.KindCover:
		entity = &models.Cover{}
	case models.KindPlaylist:
		entity = &models.Playlist{}
	case models.KindPodcast:
		entity = &models.Podcast{}
	case models.KindEpisode:
		entity = &models.Episode{}
	case models.KindNowPlaying:
		entity = &models.NowPlaying{}
	case models.KindIndex:
		entity = &models.Index{}
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	if err := json.Unmarshal(data, entity); err != nil {
		return nil, err
	}
	return entity, nil
}
