// Package testutil provides in-memory implementations of storage interfaces
// for use in tests across the module. Never import this in production code.
package testutil

import (
	"strings"
	"sync"

	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/storage"
)

// MemDB is a thread-safe in-memory storage.DB for tests.
type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemDB creates an empty MemDB.
func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (m *MemDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, core.ErrNotFound
	}
	return v, nil
}

func (m *MemDB) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

func (m *MemDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

func (m *MemDB) NewIterator(prefix []byte) storage.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := string(prefix)
	var pairs []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			cp := make([]byte, len(v))
			copy(cp, v)
			pairs = append(pairs, kv{k: []byte(k), v: cp})
		}
	}
	return &memIter{pairs: pairs, idx: -1}
}

func (m *MemDB) NewBatch() storage.Batch {
	return &memBatch{db: m}
}

func (m *MemDB) Close() error { return nil }

// memBatch is an in-memory atomic write buffer for MemDB.
type memBatch struct {
	db  *MemDB
	ops []memBatchOp
}

type memBatchOp struct {
	key   string
	value []byte // nil means delete
}

func (b *memBatch) Set(key, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.ops = append(b.ops, memBatchOp{string(key), cp})
}

func (b *memBatch) Delete(key []byte) {
	b.ops = append(b.ops, memBatchOp{string(key), nil})
}

func (b *memBatch) Reset() { b.ops = nil }

func (b *memBatch) Write() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.db.data, op.key)
		} else {
			b.db.data[op.key] = op.value
		}
	}
	return nil
}

type kv struct{ k, v []byte }

type memIter struct {
	pairs []kv
	idx   int
}

func (it *memIter) Next() bool    { it.idx++; return it.idx < len(it.pairs) }
func (it *memIter) Key() []byte   { return it.pairs[it.idx].k }
func (it *memIter) Value() []byte { return it.pairs[it.idx].v }
func (it *memIter) Release()      {}
func (it *memIter) Error() error  { return nil }

// MemBlockStore is an in-memory core.BlockStore for tests, exercising the
// same tree-rebuild path core.Chain.LoadFromStore runs against LevelDB.
type MemBlockStore struct {
	mu             sync.RWMutex
	blocks         map[string]*core.Block
	judgements     map[string]*core.Judgement // key: blockHash:senderHex
	danglingHashes map[string]bool
	deadRoots      map[string]bool
}

// NewMemBlockStore creates an empty MemBlockStore.
func NewMemBlockStore() *MemBlockStore {
	return &MemBlockStore{
		blocks:         make(map[string]*core.Block),
		judgements:     make(map[string]*core.Judgement),
		danglingHashes: make(map[string]bool),
		deadRoots:      make(map[string]bool),
	}
}

func (s *MemBlockStore) PutBlock(block *core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Hash] = block
	return nil
}

func (s *MemBlockStore) GetBlock(hash string) (*core.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[hash]
	if !ok {
		return nil, core.ErrNotFound
	}
	return b, nil
}

func (s *MemBlockStore) AllBlocks() ([]*core.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	return out, nil
}

func (s *MemBlockStore) PutJudgement(j *core.Judgement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judgements[j.HashOfJudgedBlock+":"+j.SenderPubKey] = j
	return nil
}

func (s *MemBlockStore) AllJudgements() ([]*core.Judgement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.Judgement, 0, len(s.judgements))
	for _, j := range s.judgements {
		out = append(out, j)
	}
	return out, nil
}

func (s *MemBlockStore) PutDangling(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.danglingHashes[hash] = true
	return nil
}

func (s *MemBlockStore) DeleteDangling(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.danglingHashes, hash)
	return nil
}

func (s *MemBlockStore) AllDanglingHashes() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.danglingHashes))
	for h := range s.danglingHashes {
		out = append(out, h)
	}
	return out, nil
}

func (s *MemBlockStore) PutDeadRoot(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadRoots[hash] = true
	return nil
}

func (s *MemBlockStore) AllDeadRoots() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.deadRoots))
	for h := range s.deadRoots {
		out = append(out, h)
	}
	return out, nil
}
