package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // pure Go SQLite driver, registers as "sqlite"
)

// walJournalSizeLimit bounds WAL file growth between checkpoints.
const walJournalSizeLimit = 67108864 // 64 MiB

// Store implements the durable state described in SPEC_FULL.md §3/§6
// using SQLite in WAL mode. All methods wrap underlying database/sql
// errors as StoreFailure (SPEC_FULL.md §7) via fmt.Errorf("store: ...").
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	eventStmts      eventStatements
	playlistStmts   playlistMapStatements
	trackCacheStmts trackCacheStatements
	leaseStmts      leaseStatements
	credStmts       credentialStatements
}

type eventStatements struct {
	insert, fetchUnsynced, clearUnsynced, markSynced *sql.Stmt
}

type playlistMapStatements struct {
	get, upsert, delete, migrateKey, listByProvider *sql.Stmt
}

type trackCacheStatements struct {
	get, upsert *sql.Stmt
}

type leaseStatements struct {
	get, insert, steal, release *sql.Stmt
}

type credentialStatements struct {
	get, upsert *sql.Stmt
}

// Open opens the database at dbPath (":memory:" for tests), applies WAL
// pragmas, runs migrations, and prepares all repeated statements.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening store database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareAll(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}

	logger.Info("store database ready", "path", dbPath)

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
		{"PRAGMA busy_timeout = 5000", "busy timeout"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

func (s *Store) prepareAll(ctx context.Context) error {
	prep := func(q string) (*sql.Stmt, error) { return s.db.PrepareContext(ctx, q) }

	var err error

	if s.eventStmts.insert, err = prep(`INSERT INTO event_queue (timestamp_ms, playlist_name, action, track_path, extra, is_synced) VALUES (?, ?, ?, ?, ?, 0)`); err != nil {
		return err
	}

	if s.eventStmts.fetchUnsynced, err = prep(`SELECT id, timestamp_ms, playlist_name, action, track_path, extra, is_synced FROM event_queue WHERE playlist_name = ? AND is_synced = 0 ORDER BY timestamp_ms ASC, id ASC`); err != nil {
		return err
	}

	if s.eventStmts.clearUnsynced, err = prep(`DELETE FROM event_queue WHERE playlist_name = ? AND is_synced = 0`); err != nil {
		return err
	}

	if s.eventStmts.markSynced, err = prep(`UPDATE event_queue SET is_synced = 1 WHERE id = ?`); err != nil {
		return err
	}

	if s.playlistStmts.get, err = prep(`SELECT remote_id, last_synced_at FROM playlist_map WHERE provider = ? AND playlist_name = ?`); err != nil {
		return err
	}

	if s.playlistStmts.upsert, err = prep(`INSERT INTO playlist_map (provider, playlist_name, remote_id, last_synced_at) VALUES (?, ?, ?, ?) ON CONFLICT(provider, playlist_name) DO UPDATE SET remote_id = excluded.remote_id, last_synced_at = excluded.last_synced_at`); err != nil {
		return err
	}

	if s.playlistStmts.delete, err = prep(`DELETE FROM playlist_map WHERE provider = ? AND playlist_name = ?`); err != nil {
		return err
	}

	if s.playlistStmts.migrateKey, err = prep(`UPDATE playlist_map SET playlist_name = ? WHERE provider = ? AND playlist_name = ?`); err != nil {
		return err
	}

	if s.playlistStmts.listByProvider, err = prep(`SELECT playlist_name, remote_id, last_synced_at FROM playlist_map WHERE provider = ?`); err != nil {
		return err
	}

	if s.trackCacheStmts.get, err = prep(`SELECT isrc, remote_id, resolved_at FROM track_cache WHERE provider = ? AND local_path = ?`); err != nil {
		return err
	}

	if s.trackCacheStmts.upsert, err = prep(`INSERT INTO track_cache (provider, local_path, isrc, remote_id, resolved_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT(provider, local_path) DO UPDATE SET isrc = excluded.isrc, remote_id = excluded.remote_id, resolved_at = excluded.resolved_at`); err != nil {
		return err
	}

	if s.leaseStmts.get, err = prep(`SELECT playlist_name, worker_id, locked_at, expires_at FROM processing_locks WHERE playlist_name = ?`); err != nil {
		return err
	}

	if s.leaseStmts.insert, err = prep(`INSERT INTO processing_locks (playlist_name, worker_id, locked_at, expires_at) VALUES (?, ?, ?, ?)`); err != nil {
		return err
	}

	if s.leaseStmts.steal, err = prep(`UPDATE processing_locks SET worker_id = ?, locked_at = ?, expires_at = ? WHERE playlist_name = ? AND expires_at < ?`); err != nil {
		return err
	}

	if s.leaseStmts.release, err = prep(`DELETE FROM processing_locks WHERE playlist_name = ? AND worker_id = ?`); err != nil {
		return err
	}

	if s.credStmts.get, err = prep(`SELECT token_json, client_id, client_secret, last_refreshed FROM credentials WHERE provider = ?`); err != nil {
		return err
	}

	if s.credStmts.upsert, err = prep(`INSERT INTO credentials (provider, token_json, client_id, client_secret, last_refreshed) VALUES (?, ?, ?, ?, ?) ON CONFLICT(provider) DO UPDATE SET token_json = excluded.token_json, client_id = COALESCE(excluded.client_id, credentials.client_id), client_secret = COALESCE(excluded.client_secret, credentials.client_secret), last_refreshed = excluded.last_refreshed`); err != nil {
		return err
	}

	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Event queue ---

// EnqueueEvent inserts a new unsynced event. Best-effort per SPEC_FULL.md
// §4.2: callers log and drop on failure rather than treating it as fatal.
func (s *Store) EnqueueEvent(ctx context.Context, e Event) error {
	_, err := s.eventStmts.insert.ExecContext(ctx, e.TimestampMS, e.PlaylistName, string(e.Action), nullIfEmpty(e.TrackPath), nullIfEmpty(e.Extra))
	if err != nil {
		return fmt.Errorf("store: enqueue event: %w", err)
	}

	return nil
}

// FetchUnsyncedEvents returns every unsynced event for playlistName in
// ascending (timestamp, id) order, per SPEC_FULL.md §5's ordering rule.
func (s *Store) FetchUnsyncedEvents(ctx context.Context, playlistName string) ([]Event, error) {
	rows, err := s.eventStmts.fetchUnsynced.QueryContext(ctx, playlistName)
	if err != nil {
		return nil, fmt.Errorf("store: fetch unsynced events: %w", err)
	}
	defer rows.Close()

	var events []Event

	for rows.Next() {
		var (
			e         Event
			action    string
			trackPath sql.NullString
			extra     sql.NullString
			synced    int
		)

		if err := rows.Scan(&e.ID, &e.TimestampMS, &e.PlaylistName, &action, &trackPath, &extra, &synced); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}

		e.Action = Action(action)
		e.TrackPath = trackPath.String
		e.Extra = extra.String
		e.IsSynced = synced != 0
		events = append(events, e)
	}

	return events, rows.Err()
}

// TotalUnsyncedCount returns the total number of unsynced events across
// all playlists, used by the Worker Orchestrator's backpressure check.
func (s *Store) TotalUnsyncedCount(ctx context.Context) (int, error) {
	var n int

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM event_queue WHERE is_synced = 0`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count unsynced events: %w", err)
	}

	return n, nil
}

// UnsyncedPlaylistKeys returns the distinct playlist keys with at least
// one unsynced event, used by the Worker Orchestrator to decide which
// (playlist, provider) pairs need reconciliation.
func (s *Store) UnsyncedPlaylistKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT playlist_name FROM event_queue WHERE is_synced = 0`)
	if err != nil {
		return nil, fmt.Errorf("store: list unsynced playlists: %w", err)
	}
	defer rows.Close()

	var keys []string

	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("store: scan playlist key: %w", err)
		}

		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// MarkEventsSynced marks every given event ID as synced.
func (s *Store) MarkEventsSynced(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := s.eventStmts.markSynced.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("store: mark event %d synced: %w", id, err)
		}
	}

	return nil
}

// ClearUnsyncedEvents deletes all unsynced events for playlistName,
// backing the queue-clear CLI command.
func (s *Store) ClearUnsyncedEvents(ctx context.Context, playlistName string) (int64, error) {
	res, err := s.eventStmts.clearUnsynced.ExecContext(ctx, playlistName)
	if err != nil {
		return 0, fmt.Errorf("store: clear unsynced events: %w", err)
	}

	return res.RowsAffected()
}

// --- Playlist map ---

// GetPlaylistMap returns the remote_id mapped to (provider, playlistName).
// Returns ErrNotFound if no row exists.
func (s *Store) GetPlaylistMap(ctx context.Context, provider, playlistName string) (PlaylistMapEntry, error) {
	row := s.playlistStmts.get.QueryRowContext(ctx, provider, playlistName)

	var e PlaylistMapEntry
	e.Provider = provider
	e.PlaylistName = playlistName

	if err := row.Scan(&e.RemoteID, &e.LastSyncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PlaylistMapEntry{}, ErrNotFound
		}

		return PlaylistMapEntry{}, fmt.Errorf("store: get playlist map: %w", err)
	}

	return e, nil
}

// UpsertPlaylistMap creates or updates the (provider, playlistName)
// mapping.
func (s *Store) UpsertPlaylistMap(ctx context.Context, e PlaylistMapEntry) error {
	_, err := s.playlistStmts.upsert.ExecContext(ctx, e.Provider, e.PlaylistName, e.RemoteID, e.LastSyncedAt)
	if err != nil {
		return fmt.Errorf("store: upsert playlist map: %w", err)
	}

	return nil
}

// DeletePlaylistMap removes the mapping for (provider, playlistName).
func (s *Store) DeletePlaylistMap(ctx context.Context, provider, playlistName string) error {
	_, err := s.playlistStmts.delete.ExecContext(ctx, provider, playlistName)
	if err != nil {
		return fmt.Errorf("store: delete playlist map: %w", err)
	}

	return nil
}

// MigratePlaylistMapKey renames the logical key for (provider, oldKey) to
// newKey, used when a folder rename must carry the playlist_map entry
// forward per SPEC_FULL.md §3.
func (s *Store) MigratePlaylistMapKey(ctx context.Context, provider, oldKey, newKey string) error {
	_, err := s.playlistStmts.migrateKey.ExecContext(ctx, newKey, provider, oldKey)
	if err != nil {
		return fmt.Errorf("store: migrate playlist map key: %w", err)
	}

	return nil
}

// ListPlaylistMapByProvider returns every playlist_map row for provider,
// backing the delete-playlists CLI command's --name-regex match.
func (s *Store) ListPlaylistMapByProvider(ctx context.Context, provider string) ([]PlaylistMapEntry, error) {
	rows, err := s.playlistStmts.listByProvider.QueryContext(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("store: list playlist map: %w", err)
	}
	defer rows.Close()

	var entries []PlaylistMapEntry

	for rows.Next() {
		e := PlaylistMapEntry{Provider: provider}
		if err := rows.Scan(&e.PlaylistName, &e.RemoteID, &e.LastSyncedAt); err != nil {
			return nil, fmt.Errorf("store: scan playlist map row: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ClearAllUnsyncedEvents deletes every unsynced event across all
// playlists, backing `queue-clear` with no playlist argument.
func (s *Store) ClearAllUnsyncedEvents(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM event_queue WHERE is_synced = 0`)
	if err != nil {
		return 0, fmt.Errorf("store: clear all unsynced events: %w", err)
	}

	return res.RowsAffected()
}

// --- Track cache ---

// GetTrackCache returns the cached resolution for (provider, localPath).
// Returns ErrNotFound if no row exists.
func (s *Store) GetTrackCache(ctx context.Context, provider, localPath string) (TrackCacheEntry, error) {
	row := s.trackCacheStmts.get.QueryRowContext(ctx, provider, localPath)

	var (
		e        TrackCacheEntry
		isrc     sql.NullString
		remoteID sql.NullString
	)

	e.Provider = provider
	e.LocalPath = localPath

	if err := row.Scan(&isrc, &remoteID, &e.ResolvedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TrackCacheEntry{}, ErrNotFound
		}

		return TrackCacheEntry{}, fmt.Errorf("store: get track cache: %w", err)
	}

	e.ISRC = isrc.String
	e.RemoteID = remoteID.String

	return e, nil
}

// UpsertTrackCache creates or updates the cached resolution for
// (provider, localPath). Called by the Resolver on every successful
// resolution, and also when only the ISRC (not the URI) was found.
func (s *Store) UpsertTrackCache(ctx context.Context, e TrackCacheEntry) error {
	_, err := s.trackCacheStmts.upsert.ExecContext(ctx, e.Provider, e.LocalPath, nullIfEmpty(e.ISRC), nullIfEmpty(e.RemoteID), e.ResolvedAt)
	if err != nil {
		return fmt.Errorf("store: upsert track cache: %w", err)
	}

	return nil
}

// --- Processing leases ---

// AcquireLease attempts to claim playlistName for workerID until
// expiresAt. Returns ErrLeaseHeld if another worker's lease has not yet
// expired.
func (s *Store) AcquireLease(ctx context.Context, playlistName, workerID string, lockedAt, expiresAt int64) error {
	row := s.leaseStmts.get.QueryRowContext(ctx, playlistName)

	var existing Lease

	err := row.Scan(&existing.PlaylistName, &existing.WorkerID, &existing.LockedAt, &existing.ExpiresAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.leaseStmts.insert.ExecContext(ctx, playlistName, workerID, lockedAt, expiresAt); err != nil {
			return fmt.Errorf("store: acquire lease: %w", err)
		}

		return nil
	case err != nil:
		return fmt.Errorf("store: check lease: %w", err)
	}

	if existing.ExpiresAt >= lockedAt {
		return ErrLeaseHeld
	}

	res, err := s.leaseStmts.steal.ExecContext(ctx, workerID, lockedAt, expiresAt, playlistName, lockedAt)
	if err != nil {
		return fmt.Errorf("store: steal expired lease: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: steal expired lease: %w", err)
	}

	if n == 0 {
		return ErrLeaseHeld
	}

	return nil
}

// ReleaseLease releases playlistName's lease if workerID currently holds
// it.
func (s *Store) ReleaseLease(ctx context.Context, playlistName, workerID string) error {
	_, err := s.leaseStmts.release.ExecContext(ctx, playlistName, workerID)
	if err != nil {
		return fmt.Errorf("store: release lease: %w", err)
	}

	return nil
}

// --- Credentials ---

// GetCredential returns the stored credential for provider. Returns
// ErrNotFound if the provider is not authenticated.
func (s *Store) GetCredential(ctx context.Context, provider string) (Credential, error) {
	row := s.credStmts.get.QueryRowContext(ctx, provider)

	var (
		c            Credential
		clientID     sql.NullString
		clientSecret sql.NullString
	)

	c.Provider = provider

	if err := row.Scan(&c.TokenJSON, &clientID, &clientSecret, &c.LastRefreshed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNotFound
		}

		return Credential{}, fmt.Errorf("store: get credential: %w", err)
	}

	c.ClientID = clientID.String
	c.ClientSecret = clientSecret.String

	return c, nil
}

// UpsertCredential stores or refreshes provider's credential. client_id
// and client_secret are preserved across refreshes when the caller passes
// them empty (COALESCE in the prepared statement), satisfying SPEC_FULL.md
// §3's invariant that refreshes must preserve client identity.
func (s *Store) UpsertCredential(ctx context.Context, c Credential) error {
	_, err := s.credStmts.upsert.ExecContext(ctx, c.Provider, c.TokenJSON, nullIfEmpty(c.ClientID), nullIfEmpty(c.ClientSecret), c.LastRefreshed)
	if err != nil {
		return fmt.Errorf("store: upsert credential: %w", err)
	}

	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}

	return s
}
