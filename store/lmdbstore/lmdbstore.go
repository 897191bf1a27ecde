// Package lmdbstore is the optional O2 persistence collaborator backing
// store.AcceptorStateStore, implemented against the teacher's LMDB
// bindings (github.com/msackman/gomdb and its companion
// github.com/msackman/gomdb/server command-queue wrapper). The write
// path mirrors acceptor.go's acceptorWriteToDisk/writeDone pair -- queue
// a single Put per decided promise/acceptance on the server's serial
// writer goroutine -- and the load path mirrors
// acceptordispatcher.go's loadFromDisk cursor walk over every key in the
// acceptor-state database. As in cmd/goshawkdb/main.go, NewMDBServer is
// handed the schema value and hands the same value back (as
// interface{}) wired up with its transaction methods, so schema both
// names the databases and is the handle used to run transactions
// against them.
package lmdbstore

import (
	"time"

	"github.com/go-kit/kit/log"
	mdb "github.com/msackman/gomdb"
	mdbs "github.com/msackman/gomdb/server"

	"github.com/shardkv/consensuscore/store"
)

const (
	defaultMapSize        = 1 << 30 // 1GiB, generous for acceptor-state records
	defaultCommitInterval = 500 * time.Microsecond
)

// schema names the one database this store needs and, via the embedded
// *mdbs.MDBServer, carries the transaction/shutdown methods NewMDBServer
// wires up around it.
type schema struct {
	*mdbs.MDBServer
	AcceptorStates *mdbs.DBISettings
}

// Store is an LMDB-backed store.AcceptorStateStore.
type Store struct {
	db     *schema
	logger log.Logger
}

// Open starts (or attaches to) an LMDB environment rooted at dataDir.
func Open(dataDir string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	sc := &schema{AcceptorStates: &mdbs.DBISettings{Flags: mdb.CREATE}}
	disk, err := mdbs.NewMDBServer(dataDir, 0, 0600, defaultMapSize, defaultCommitInterval, sc, logger)
	if err != nil {
		return nil, err
	}
	return &Store{db: disk.(*schema), logger: logger}, nil
}

// Save implements store.AcceptorStateStore, queuing a single Put on the
// server's write transaction much like acceptorWriteToDisk queues one
// record per accepted instance.
func (s *Store) Save(key store.Key, state store.AcceptorState) error {
	k := encodeKey(key)
	v := encodeState(state)
	_, err := s.db.ReadWriteTransaction(func(rwtxn *mdbs.RWTxn) interface{} {
		rwtxn.Put(s.db.AcceptorStates, k, v, 0)
		return nil
	}).ResultError()
	return err
}

// LoadAll implements store.AcceptorStateStore, walking every key in the
// acceptor-state database with a cursor the way loadFromDisk walks the
// on-disk instance table at startup.
func (s *Store) LoadAll() (map[store.Key]store.AcceptorState, error) {
	res, err := s.db.ReadonlyTransaction(func(rtxn *mdbs.RTxn) interface{} {
		out := make(map[store.Key]store.AcceptorState)
		rtxn.WithCursor(s.db.AcceptorStates, func(cursor *mdbs.Cursor) interface{} {
			k, v, cerr := cursor.Get(nil, nil, mdb.FIRST)
			for cerr == nil {
				key, derr := decodeKey(k)
				if derr == nil {
					if state, serr := decodeState(v); serr == nil {
						out[key] = state
					} else {
						s.logger.Log("msg", "skipping corrupt acceptor state record", "err", serr)
					}
				} else {
					s.logger.Log("msg", "skipping corrupt acceptor state key", "err", derr)
				}
				k, v, cerr = cursor.Get(nil, nil, mdb.NEXT)
			}
			return nil
		})
		return out
	}).ResultError()
	if err != nil {
		return nil, err
	}
	if res == nil {
		return map[store.Key]store.AcceptorState{}, nil
	}
	return res.(map[store.Key]store.AcceptorState), nil
}

// Close shuts the underlying MDB server down, flushing any queued
// writes first.
func (s *Store) Close() error {
	return s.db.Shutdown()
}
