package server

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minipg/minipg/internal/core"
	"github.com/minipg/minipg/internal/index"
	"github.com/minipg/minipg/internal/storage"
	"github.com/minipg/minipg/internal/txn"
	"github.com/minipg/minipg/internal/wal"
	"go.uber.org/zap"
)

// snapshotFileName is the gob-serialized full server snapshot.
const snapshotFileName = "server_instance.db"

// walSegmentsToKeep is how many WAL segments survive a checkpoint.
const walSegmentsToKeep = 2

// Cluster bundles the durable state of one server process: the instance,
// the storage facade, the WAL, and the transaction manager.
type Cluster struct {
	DataDir  string
	Instance *core.ServerInstance
	Store    *storage.DatabaseStorage
	WAL      *wal.Manager
	Txm      *txn.Manager

	log *zap.Logger
}

// OpenCluster loads (or initializes) the cluster at dataDir: snapshot
// first, then WAL replay on top, then the transaction allocator advanced
// past every replayed row version.
func OpenCluster(dataDir, superuserPassword string, poolCapacity int, log *zap.Logger) (*Cluster, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := storage.NewDatabaseStorage(dataDir, poolCapacity)
	if err != nil {
		return nil, err
	}
	walMgr, err := wal.NewManager(dataDir)
	if err != nil {
		return nil, err
	}

	c := &Cluster{
		DataDir:  dataDir,
		Store:    store,
		WAL:      walMgr,
		Txm:      txn.NewManager(),
		log:      log,
	}

	instance, err := c.loadSnapshot()
	if err != nil {
		return nil, err
	}
	if instance == nil {
		instance = core.NewServerInstance()
	}
	instance.Initialize(superuserPassword)
	c.Instance = instance

	if err := c.recover(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cluster) snapshotPath() string {
	return filepath.Join(c.DataDir, snapshotFileName)
}

func (c *Cluster) loadSnapshot() (*core.ServerInstance, error) {
	f, err := os.Open(c.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	var instance core.ServerInstance
	if err := gob.NewDecoder(f).Decode(&instance); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for _, db := range instance.Databases {
		db.EnsureIndexMap()
	}
	return &instance, nil
}

// SaveSnapshot persists the full server instance durably (temp + rename).
func (c *Cluster) SaveSnapshot() error {
	tmp, err := os.CreateTemp(c.DataDir, "snapshot_*.tmp")
	if err != nil {
		return fmt.Errorf("create snapshot temp: %w", err)
	}
	tmpName := tmp.Name()
	if err := gob.NewEncoder(tmp).Encode(c.Instance); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, c.snapshotPath())
}

// recover replays the WAL records after the last checkpoint marker on top
// of the loaded snapshot, reattaches heaps, and advances the transaction
// allocator past the largest transaction id stored in any row version.
// Records carry no commit status: every logged statement replays, including
// those of a transaction that never committed.
func (c *Cluster) recover() error {
	// Make sure every known table has its heap attached.
	for dbName, db := range c.Instance.Databases {
		store := c.Store.ForDatabase(dbName)
		for tableName := range db.Tables {
			if err := store.EnsureTable(tableName); err != nil {
				return err
			}
		}
	}

	entries, err := c.WAL.ReadAllLogs()
	if err != nil {
		return err
	}
	// The snapshot already contains everything up to the last checkpoint
	// marker; only records after it replay.
	lastCheckpoint := uint64(0)
	for i := range entries {
		if entries[i].Operation.Type == wal.OpCheckpoint {
			lastCheckpoint = entries[i].Sequence
		}
	}
	if lastCheckpoint > 0 {
		trimmed := entries[:0]
		for i := range entries {
			if entries[i].Sequence > lastCheckpoint {
				trimmed = append(trimmed, entries[i])
			}
		}
		entries = trimmed
	}
	if len(entries) > 0 {
		// Records replay into the database that holds each record's table,
		// falling back to the first database (legacy single-database WAL).
		if len(c.Instance.Databases) > 1 {
			c.log.Warn("replaying single-database WAL against a multi-database snapshot",
				zap.Int("databases", len(c.Instance.Databases)),
				zap.Int("records", len(entries)))
		}
		for i := range entries {
			op := &entries[i].Operation
			dbName := c.databaseForTable(op.TableName)
			if dbName == "" {
				continue
			}
			db := c.Instance.Databases[dbName]
			if err := wal.Apply(db, c.Store.ForDatabase(dbName), op); err != nil {
				return fmt.Errorf("replay sequence %d (%s): %w",
					entries[i].Sequence, op.Type, err)
			}
		}
	}

	// Visibility after restart: every stored version must predate new
	// snapshots, so push the allocator past the largest tx id seen.
	var maxTx uint64
	for dbName, db := range c.Instance.Databases {
		store := c.Store.ForDatabase(dbName)
		for tableName := range db.Tables {
			heap, err := store.Heap(tableName)
			if err != nil {
				continue
			}
			for _, row := range heap.GetAllRows() {
				if row.Xmin > maxTx {
					maxTx = row.Xmin
				}
				if row.Xmax > maxTx {
					maxTx = row.Xmax
				}
			}
		}
	}
	if maxTx > 0 {
		c.Txm.AdvancePast(maxTx)
	}

	// Index structures are not serialized; rebuild each one from its
	// persisted definition and the live heap.
	snap := c.Txm.Snapshot()
	for dbName, db := range c.Instance.Databases {
		rebuildIndexes(db, c.Store.ForDatabase(dbName), snap)
	}
	return nil
}

// rebuildIndexes reconstructs every index structure of db from its
// persisted definition and the visible heap rows.
func rebuildIndexes(db *core.Database, store *storage.DBStore, snap core.Snapshot) {
	db.EnsureIndexMap()
	defs := make([]core.IndexDef, 0, len(db.IndexDefs))
	for _, def := range db.IndexDefs {
		defs = append(defs, def)
	}
	for _, def := range defs {
		table, ok := db.Tables[def.TableName]
		if !ok {
			continue
		}
		kind := index.KindBTree
		if def.Hash {
			kind = index.KindHash
		}
		ix := index.New(kind, def.Name, def.TableName, def.ColumnNames, def.Unique)
		colIdxs := make([]int, 0, len(def.ColumnNames))
		valid := true
		for _, col := range def.ColumnNames {
			idx := table.ColumnIndex(col)
			if idx < 0 {
				valid = false
				break
			}
			colIdxs = append(colIdxs, idx)
		}
		if !valid {
			continue
		}
		heap, err := store.Heap(def.TableName)
		if err != nil {
			continue
		}
		pos := 0
		for _, row := range heap.GetAllRows() {
			r := row
			if r.VisibleTo(snap) {
				key := make([]core.Value, len(colIdxs))
				for i, idx := range colIdxs {
					key[i] = r.Values[idx]
				}
				_ = ix.Insert(core.EncodeKey(key), pos)
			}
			pos++
		}
		if db.Index(def.Name) != nil {
			_ = db.DropIndex(def.Name)
		}
		_ = db.SetIndex(ix)
	}
}

// databaseForTable finds the database containing a table name; records
// with no table (checkpoints) return "".
func (c *Cluster) databaseForTable(tableName string) string {
	if tableName == "" {
		return ""
	}
	for name, db := range c.Instance.Databases {
		if _, ok := db.Tables[tableName]; ok {
			return name
		}
	}
	// A CreateTable record targets a database that does not hold the table
	// yet; fall back to the first database, matching the legacy replay.
	for name := range c.Instance.Databases {
		return name
	}
	return ""
}

// Checkpoint runs the full checkpoint policy: flush dirty pages, persist
// the snapshot, append the WAL marker, truncate old segments.
func (c *Cluster) Checkpoint() error {
	pages, err := c.Store.Checkpoint()
	if err != nil {
		return err
	}
	if err := c.SaveSnapshot(); err != nil {
		return err
	}
	if _, err := c.WAL.Checkpoint(); err != nil {
		return err
	}
	if err := c.WAL.CleanupOldLogs(walSegmentsToKeep); err != nil {
		return err
	}
	c.log.Info("checkpoint complete", zap.Int("pages_flushed", pages))
	return nil
}

// Close flushes everything and closes the WAL.
func (c *Cluster) Close() error {
	if err := c.Checkpoint(); err != nil {
		return err
	}
	return c.WAL.Close()
}
