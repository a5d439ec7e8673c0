package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/Benedikt1992/blockchain-vaccination-records/core"
)

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %q: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db, batch: new(leveldb.Batch)}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Write() error          { return b.db.Write(b.batch, nil) }
func (b *levelBatch) Reset()                { b.batch.Reset() }

// ---- BlockStore implementation ----
//
// Keys are namespaced by prefix: blocks under "block:", judgements (live
// and dead-branch alike) under "judgement:<blockHash>:<senderHex>", and
// dangling-block and dead-root markers under "dangling:<hash>" and
// "deadroot:<hash>". core.Chain.LoadFromStore classifies a loaded
// judgement as live or archived by walking the block it references
// against the dead-root set, so a single judgement namespace suffices --
// there is no separate dead-judgement key space to keep in sync.

const (
	blockPrefix     = "block:"
	judgementPrefix = "judgement:"
	danglingPrefix  = "dangling:"
	deadRootPrefix  = "deadroot:"
)

// LevelBlockStore implements core.BlockStore on top of LevelDB.
type LevelBlockStore struct {
	db *LevelDB
}

// NewLevelBlockStore wraps a LevelDB instance as a BlockStore.
func NewLevelBlockStore(db *LevelDB) *LevelBlockStore {
	return &LevelBlockStore{db: db}
}

func (s *LevelBlockStore) PutBlock(block *core.Block) error {
	data, err := block.CanonicalJSON()
	if err != nil {
		return err
	}
	return s.db.Set([]byte(blockPrefix+block.Hash), data)
}

func (s *LevelBlockStore) GetBlock(hash string) (*core.Block, error) {
	data, err := s.db.Get([]byte(blockPrefix + hash))
	if err != nil {
		return nil, err
	}
	return core.ParseBlock(data)
}

func (s *LevelBlockStore) AllBlocks() ([]*core.Block, error) {
	it := s.db.NewIterator([]byte(blockPrefix))
	defer it.Release()
	var out []*core.Block
	for it.Next() {
		b, err := core.ParseBlock(it.Value())
		if err != nil {
			return nil, fmt.Errorf("corrupt stored block: %w", err)
		}
		out = append(out, b)
	}
	return out, it.Error()
}

func (s *LevelBlockStore) PutJudgement(j *core.Judgement) error {
	data, err := j.CanonicalJSON()
	if err != nil {
		return err
	}
	key := judgementPrefix + j.HashOfJudgedBlock + ":" + j.SenderPubKey
	return s.db.Set([]byte(key), data)
}

func (s *LevelBlockStore) AllJudgements() ([]*core.Judgement, error) {
	it := s.db.NewIterator([]byte(judgementPrefix))
	defer it.Release()
	var out []*core.Judgement
	for it.Next() {
		j, err := core.ParseJudgement(it.Value())
		if err != nil {
			return nil, fmt.Errorf("corrupt stored judgement: %w", err)
		}
		out = append(out, j)
	}
	return out, it.Error()
}

func (s *LevelBlockStore) PutDangling(hash string) error {
	return s.db.Set([]byte(danglingPrefix+hash), []byte{1})
}

func (s *LevelBlockStore) DeleteDangling(hash string) error {
	return s.db.Delete([]byte(danglingPrefix + hash))
}

func (s *LevelBlockStore) AllDanglingHashes() ([]string, error) {
	it := s.db.NewIterator([]byte(danglingPrefix))
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Key()), danglingPrefix))
	}
	return out, it.Error()
}

func (s *LevelBlockStore) PutDeadRoot(hash string) error {
	return s.db.Set([]byte(deadRootPrefix+hash), []byte{1})
}

func (s *LevelBlockStore) AllDeadRoots() ([]string, error) {
	it := s.db.NewIterator([]byte(deadRootPrefix))
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(string(it.Key()), deadRootPrefix))
	}
	return out, it.Error()
}
