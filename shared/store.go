// Package shared exchanges run histories between optimizer instances through
// a common directory.
//
// Every instance owns an embedded BadgerDB in <root>/<runID>; badger locks
// that directory, so each database has exactly one writer. After every write
// the instance publishes a full backup of its database to
// <root>/snapshots/<runID>.bak. Reads merge the instance's own database with
// the latest snapshot of every peer, loaded into an in-memory database.
//
// Keys inside a database:
//
//	run/<runID>/<seq>     one JSON run record per local evaluation
//	cached/<digest>       one JSON caching record, keyed by its content
//
// Every optimizer writes only the runs it produced itself and reads all of
// them back. Merging relies on the run history ignoring records it already
// holds.
package shared

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/thalesfsp/pcsmac"
)

const (
	runPrefix    = "run/"
	cachedPrefix = "cached/"

	snapshotDir = "snapshots"
	snapshotExt = ".bak"

	// maxPendingLoads bounds the pending writes while loading a snapshot.
	maxPendingLoads = 256
)

// Config holds configuration for the store's BadgerDB instance.
type Config struct {
	// Path is the shared root directory. Required unless InMemory.
	Path string

	// RunID names this instance's database under Path and its snapshot. It
	// should match the run ID passed to Write. Required unless InMemory.
	RunID string

	// InMemory enables in-memory mode (no disk persistence and no peers).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs and merge warnings. If nil,
	// BadgerDB's logging is disabled and warnings go to slog.Default().
	Logger *slog.Logger

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int
}

// Store is a pcsmac.SharedHistory backed by BadgerDB.
//
// Thread safety:
// - The database handles are safe for concurrent use
// - written, mirror and loaded are protected by the mutex
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// root and runID are empty for in-memory stores, which have no peers.
	root  string
	runID string

	mu      sync.Mutex
	written map[string]int

	// mirror holds the peer snapshots loaded so far.
	mirror *badger.DB
	loaded map[string]snapshotStamp
}

// snapshotStamp identifies one published version of a peer snapshot.
type snapshotStamp struct {
	size    int64
	modTime time.Time
}

// value is the tagged JSON form of a configuration value. Plain JSON would
// turn every integer into a float64 and break equality after a round trip.
type value struct {
	Kind string  `json:"k"`
	S    string  `json:"s,omitempty"`
	I    int64   `json:"i,omitempty"`
	F    float64 `json:"f,omitempty"`
	B    bool    `json:"b,omitempty"`
}

type runRecord struct {
	Config     map[string]value  `json:"config"`
	Cost       float64           `json:"cost"`
	Runtime    time.Duration     `json:"runtime"`
	Status     pcsmac.RunStatus  `json:"status"`
	Instance   string            `json:"instance,omitempty"`
	Seed       int64             `json:"seed"`
	RunID      string            `json:"run_id"`
	Additional map[string]string `json:"additional,omitempty"`
}

type cachedRecord struct {
	Values   map[string]value `json:"values"`
	Discount float64          `json:"discount"`
}

//////
// Badger.
//////

// DefaultConfig returns a durable on-disk configuration. Path and RunID must
// still be set.
func DefaultConfig() Config {
	return Config{
		SyncWrites:        true,
		NumVersionsToKeep: 1,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		SyncWrites:        false,
		NumVersionsToKeep: 1,
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func openDB(cfg Config, dir string) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}

		opts = badger.DefaultOptions(dir)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	return db, nil
}

//////
// Methods.
//////

// Write persists the runs of rh produced by runID that were not written
// before, plus every caching record of rh.
func (s *Store) Write(ctx context.Context, rh pcsmac.RunStore, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var local []pcsmac.RunRecord

	for _, r := range rh.Runs() {
		if r.RunID == runID {
			local = append(local, r)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.written[runID]

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for i := from; i < len(local); i++ {
		data, err := json.Marshal(encodeRun(local[i]))
		if err != nil {
			return fmt.Errorf("encode run: %w", err)
		}

		if err := wb.Set(runKey(runID, i), data); err != nil {
			return fmt.Errorf("write run: %w", err)
		}
	}

	for _, c := range rh.CachedConfigurations() {
		rec := cachedRecord{Values: encodeValues(c.Values), Discount: c.Discount}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode cached configuration: %w", err)
		}

		if err := wb.Set(cachedKey(data), data); err != nil {
			return fmt.Errorf("write cached configuration: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush shared history: %w", err)
	}

	s.written[runID] = len(local)

	if s.root == "" {
		return nil
	}

	if err := s.publish(); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	return nil
}

// publish replaces this instance's snapshot with a full backup of its
// database. Peers only ever see complete snapshots.
func (s *Store) publish() error {
	dir := filepath.Join(s.root, snapshotDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	f, err := os.CreateTemp(dir, s.runID+".*.tmp")
	if err != nil {
		return err
	}

	defer os.Remove(f.Name())

	if _, err := s.db.Backup(f, 0); err != nil {
		_ = f.Close()

		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), filepath.Join(dir, s.runID+snapshotExt))
}

// loadPeers loads every peer snapshot published since the last call into
// the mirror. Callers hold s.mu.
func (s *Store) loadPeers() error {
	dir := filepath.Join(s.root, snapshotDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, snapshotExt) {
			continue
		}

		peer := strings.TrimSuffix(name, snapshotExt)
		if peer == s.runID {
			continue
		}

		info, err := e.Info()
		if err != nil {
			// Replaced while listing; picked up on the next read.
			continue
		}

		stamp := snapshotStamp{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := s.loaded[peer]; ok && prev.size == stamp.size && prev.modTime.Equal(stamp.modTime) {
			continue
		}

		if s.mirror == nil {
			s.mirror, err = openDB(Config{InMemory: true, NumVersionsToKeep: 1}, "")
			if err != nil {
				return err
			}
		}

		if err := s.loadSnapshot(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("load snapshot of %s: %w", peer, err)
		}

		s.loaded[peer] = stamp
	}

	return nil
}

func (s *Store) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return s.mirror.Load(f, maxPendingLoads)
}

// Read merges every stored run and caching record into rh. Runs whose
// configuration is not valid in space are skipped with a warning.
func (s *Store) Read(ctx context.Context, rh pcsmac.RunStore, space pcsmac.ConfigurationSpace) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	runs, cached, err := collect(s.db)
	if err != nil {
		return fmt.Errorf("read shared history: %w", err)
	}

	if s.root != "" {
		peerRuns, peerCached, err := s.readPeers()
		if err != nil {
			return fmt.Errorf("read peer snapshots: %w", err)
		}

		runs = append(runs, peerRuns...)
		cached = append(cached, peerCached...)
	}

	for _, r := range runs {
		cfg, err := space.New(decodeValues(r.Config))
		if err != nil {
			s.logger.Warn("skipping shared run",
				slog.String("run_id", r.RunID),
				slog.String("error", err.Error()),
			)

			continue
		}

		rec := pcsmac.RunRecord{
			Config:     cfg,
			Cost:       r.Cost,
			Runtime:    r.Runtime,
			Status:     r.Status,
			Instance:   r.Instance,
			Seed:       r.Seed,
			RunID:      r.RunID,
			Additional: r.Additional,
		}

		if err := rh.Add(rec); err != nil {
			s.logger.Warn("skipping shared run",
				slog.String("run_id", r.RunID),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, c := range cached {
		err := rh.AddCached(pcsmac.CachedConfiguration{
			Values:   decodeValues(c.Values),
			Discount: c.Discount,
		})
		if err != nil {
			s.logger.Warn("skipping shared cached configuration", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (s *Store) readPeers() ([]runRecord, []cachedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadPeers(); err != nil {
		return nil, nil, err
	}

	if s.mirror == nil {
		return nil, nil, nil
	}

	return collect(s.mirror)
}

// Close closes the underlying databases.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mirror != nil {
		if err := s.mirror.Close(); err != nil {
			_ = s.db.Close()

			return err
		}
	}

	return s.db.Close()
}

//////
// Helper functions.
//////

// collect decodes every run and caching record of db.
func collect(db *badger.DB) ([]runRecord, []cachedRecord, error) {
	var (
		runs   []runRecord
		cached []cachedRecord
	)

	err := db.View(func(txn *badger.Txn) error {
		if err := scan(txn, runPrefix, func(data []byte) error {
			var r runRecord
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("decode run: %w", err)
			}

			runs = append(runs, r)

			return nil
		}); err != nil {
			return err
		}

		return scan(txn, cachedPrefix, func(data []byte) error {
			var c cachedRecord
			if err := json.Unmarshal(data, &c); err != nil {
				return fmt.Errorf("decode cached configuration: %w", err)
			}

			cached = append(cached, c)

			return nil
		})
	})

	return runs, cached, err
}

func scan(txn *badger.Txn, prefix string, fn func(data []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}

	return nil
}

func runKey(runID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s/%016d", runPrefix, runID, seq))
}

func cachedKey(data []byte) []byte {
	sum := sha256.Sum256(data)

	return []byte(cachedPrefix + hex.EncodeToString(sum[:]))
}

func encodeRun(r pcsmac.RunRecord) runRecord {
	return runRecord{
		Config:     encodeValues(r.Config.Values()),
		Cost:       r.Cost,
		Runtime:    r.Runtime,
		Status:     r.Status,
		Instance:   r.Instance,
		Seed:       r.Seed,
		RunID:      r.RunID,
		Additional: r.Additional,
	}
}

// encodeValues expects normalized values, as stored by Configuration and
// History.
func encodeValues(values map[string]any) map[string]value {
	out := make(map[string]value, len(values))

	for k, v := range values {
		switch x := v.(type) {
		case int64:
			out[k] = value{Kind: "int", I: x}
		case float64:
			out[k] = value{Kind: "float", F: x}
		case bool:
			out[k] = value{Kind: "bool", B: x}
		default:
			out[k] = value{Kind: "string", S: fmt.Sprint(x)}
		}
	}

	return out
}

func decodeValues(values map[string]value) map[string]any {
	out := make(map[string]any, len(values))

	for k, v := range values {
		switch v.Kind {
		case "int":
			out[k] = v.I
		case "float":
			out[k] = v.F
		case "bool":
			out[k] = v.B
		default:
			out[k] = v.S
		}
	}

	return out
}

//////
// Factory.
//////

// Open opens (or creates) the database of cfg.RunID under cfg.Path. Two
// stores with the same run ID cannot be open at once.
func Open(cfg Config) (*Store, error) {
	var root, dir string

	if !cfg.InMemory {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}

		if !validRunID(cfg.RunID) {
			return nil, fmt.Errorf("invalid run id %q", cfg.RunID)
		}

		root = cfg.Path
		dir = filepath.Join(root, cfg.RunID)
	}

	db, err := openDB(cfg, dir)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		db:      db,
		logger:  logger,
		root:    root,
		runID:   cfg.RunID,
		written: make(map[string]int),
		loaded:  make(map[string]snapshotStamp),
	}, nil
}

// validRunID accepts run IDs usable as a single directory name next to the
// snapshot directory.
func validRunID(id string) bool {
	return id != "" && id != "." && id != ".." && id != snapshotDir &&
		filepath.Base(id) == id && !strings.ContainsAny(id, `/\`)
}
