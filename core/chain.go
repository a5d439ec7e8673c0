package core

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateReceive  = errors.New("block or judgement already known")
	ErrUnknownParent     = errors.New("block's parent is not known")
	ErrNoAdmissions      = errors.New("branch has no registered admissions")
	ErrGenesisMismatch   = errors.New("genesis block does not match the chain's existing genesis")
	ErrWrongCreator      = errors.New("block was not produced by the expected creator")
	ErrJudgeNotAdmission = errors.New("judgement sender is not an admission on the judged block's branch")
)

// BlockStore is the persistence interface the chain engine is built
// against; implementations live in the storage package. The chain rebuilds
// its entire in-memory tree by scanning the store on startup (there is no
// separate index -- see LoadFromStore).
type BlockStore interface {
	PutBlock(block *Block) error
	GetBlock(hash string) (*Block, error)
	AllBlocks() ([]*Block, error)

	PutJudgement(j *Judgement) error
	AllJudgements() ([]*Judgement, error)

	PutDangling(hash string) error
	DeleteDangling(hash string) error
	AllDanglingHashes() ([]string, error)

	PutDeadRoot(hash string) error
	AllDeadRoots() ([]string, error)
}

// LeafAdmissions pairs a live leaf's hash with the admission set computed
// at that leaf, as returned by GetAdmissions.
type LeafAdmissions struct {
	LeafHash   string
	Admissions map[string]bool
}

// AddOutcome reports what AddBlock did with a submitted block.
type AddOutcome int

const (
	AddedLive AddOutcome = iota
	AddedDangling
	AddedDuplicate
)

// Chain is the single shared mutable block tree. It embeds sync.Mutex so
// callers bracket every operation, or every related sequence of
// operations, with Lock()/Unlock() themselves -- Chain's own methods never
// lock internally. This mirrors the spec's "scoped exclusive-access
// region" contract: a single global mutex whose scope the caller controls,
// so a scheduler tick (read leaves, decide, insert) can be one atomic
// section instead of three independently-locked calls that race each
// other.
type Chain struct {
	sync.Mutex

	store     BlockStore
	blockTime time.Duration
	blockSize int

	genesisHash string
	blocks      map[string]*Block   // live tree, keyed by hash
	children    map[string][]string // parent hash -> child hashes (live tree only)
	dangling    map[string]*Block
	deadBlocks  map[string]*Block
	deadRoots   map[string]bool

	judgements     map[string]map[string]*Judgement // block hash -> sender -> judgement
	deadJudgements map[string]map[string]*Judgement  // archived judgements for dead-branch blocks

	cacheMemo map[string]*RegistrationCache
}

// NewChain constructs a fresh Chain rooted at genesis. genesis must already
// be signed; its own transactions establish the deployment's initial
// admissions and pre-registered vaccines (there is no separate bootstrap
// set -- see core/cache.go).
func NewChain(store BlockStore, blockTime time.Duration, blockSize int, genesis *Block) (*Chain, error) {
	if err := genesis.Validate(nil); err != nil {
		return nil, fmt.Errorf("invalid genesis block: %w", err)
	}
	c := &Chain{
		store:          store,
		blockTime:      blockTime,
		blockSize:      blockSize,
		genesisHash:    genesis.Hash,
		blocks:         map[string]*Block{genesis.Hash: genesis},
		children:       map[string][]string{},
		dangling:       map[string]*Block{},
		deadBlocks:     map[string]*Block{},
		deadRoots:      map[string]bool{},
		judgements:     map[string]map[string]*Judgement{},
		deadJudgements: map[string]map[string]*Judgement{},
		cacheMemo:      map[string]*RegistrationCache{},
	}
	if err := store.PutBlock(genesis); err != nil {
		return nil, fmt.Errorf("persist genesis: %w", err)
	}
	return c, nil
}

// LoadFromStore rebuilds the in-memory tree from everything persisted:
// blocks, judgements, the dangling set, and the dead-branch roots. Called
// once at startup (NewChain is used instead only when the store is empty)
// so a restarted node reconstructs a tree structurally identical to its
// pre-shutdown tree.
func LoadFromStore(store BlockStore, blockTime time.Duration, blockSize int) (*Chain, error) {
	all, err := store.AllBlocks()
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	c := &Chain{
		store:          store,
		blockTime:      blockTime,
		blockSize:      blockSize,
		blocks:         map[string]*Block{},
		children:       map[string][]string{},
		dangling:       map[string]*Block{},
		deadBlocks:     map[string]*Block{},
		deadRoots:      map[string]bool{},
		judgements:     map[string]map[string]*Judgement{},
		deadJudgements: map[string]map[string]*Judgement{},
		cacheMemo:      map[string]*RegistrationCache{},
	}
	byHash := make(map[string]*Block, len(all))
	for _, b := range all {
		byHash[b.Hash] = b
		if b.PreviousBlockHash == "" {
			c.genesisHash = b.Hash
		}
	}
	deadRoots, err := store.AllDeadRoots()
	if err != nil {
		return nil, fmt.Errorf("load dead roots: %w", err)
	}
	deadRootSet := make(map[string]bool, len(deadRoots))
	for _, h := range deadRoots {
		deadRootSet[h] = true
	}
	danglingHashes, err := store.AllDanglingHashes()
	if err != nil {
		return nil, fmt.Errorf("load dangling: %w", err)
	}
	danglingSet := make(map[string]bool, len(danglingHashes))
	for _, h := range danglingHashes {
		danglingSet[h] = true
	}

	// Classify every block into live, dangling, or dead by walking its
	// ancestry; dead-ness is determined by whether any ancestor is a
	// recorded dead root.
	var classify func(hash string) string // "live" | "dangling" | "dead"
	memo := map[string]string{}
	classify = func(hash string) string {
		if v, ok := memo[hash]; ok {
			return v
		}
		if danglingSet[hash] {
			memo[hash] = "dangling"
			return "dangling"
		}
		b, ok := byHash[hash]
		if !ok {
			memo[hash] = "dangling"
			return "dangling"
		}
		if deadRootSet[hash] {
			memo[hash] = "dead"
			return "dead"
		}
		if b.PreviousBlockHash == "" {
			memo[hash] = "live"
			return "live"
		}
		parentStatus := classify(b.PreviousBlockHash)
		if parentStatus == "dead" {
			memo[hash] = "dead"
		} else {
			memo[hash] = parentStatus
		}
		return memo[hash]
	}
	for hash, b := range byHash {
		switch classify(hash) {
		case "live":
			c.blocks[hash] = b
		case "dangling":
			c.dangling[hash] = b
		case "dead":
			c.deadBlocks[hash] = b
			if deadRootSet[hash] {
				c.deadRoots[hash] = true
			}
		}
	}
	for hash, b := range c.blocks {
		if b.PreviousBlockHash != "" {
			c.children[b.PreviousBlockHash] = append(c.children[b.PreviousBlockHash], hash)
		}
	}

	judgements, err := store.AllJudgements()
	if err != nil {
		return nil, fmt.Errorf("load judgements: %w", err)
	}
	for _, j := range judgements {
		if _, ok := c.deadBlocks[j.HashOfJudgedBlock]; ok {
			c.archiveJudgement(j)
		} else {
			c.recordJudgement(j)
		}
	}
	return c, nil
}

func (c *Chain) recordJudgement(j *Judgement) {
	m, ok := c.judgements[j.HashOfJudgedBlock]
	if !ok {
		m = map[string]*Judgement{}
		c.judgements[j.HashOfJudgedBlock] = m
	}
	m[j.SenderPubKey] = j
	if c.store != nil {
		if err := c.store.PutJudgement(j); err != nil {
			log.Printf("[chain] persist judgement for %s: %v", j.HashOfJudgedBlock, err)
		}
	}
}

func (c *Chain) archiveJudgement(j *Judgement) {
	m, ok := c.deadJudgements[j.HashOfJudgedBlock]
	if !ok {
		m = map[string]*Judgement{}
		c.deadJudgements[j.HashOfJudgedBlock] = m
	}
	m[j.SenderPubKey] = j
	if c.store != nil {
		// Dead-branch judgements persist under the same flat namespace as
		// live ones; LoadFromStore reclassifies them by block liveness at
		// startup, so no separate archive key is needed.
		if err := c.store.PutJudgement(j); err != nil {
			log.Printf("[chain] persist dead judgement for %s: %v", j.HashOfJudgedBlock, err)
		}
	}
}

// GenesisHash returns the hash of the chain's genesis block.
func (c *Chain) GenesisHash() string { return c.genesisHash }

// BlockTime returns the configured seconds-per-slot used by the
// creator-election scheduler.
func (c *Chain) BlockTime() time.Duration { return c.blockTime }

// BlockSize returns the configured max transactions per block.
func (c *Chain) BlockSize() int { return c.blockSize }

// FindBlockByHash returns a live block by hash, or (nil, false) if absent
// or dangling -- matching the spec's "returns None if absent or dangling".
func (c *Chain) FindBlockByHash(hash string) (*Block, bool) {
	b, ok := c.blocks[hash]
	return b, ok
}

// FindBlocksByIndex returns every live block at the given depth, one per
// branch that reaches that far.
func (c *Chain) FindBlocksByIndex(index int64) []*Block {
	var out []*Block
	for _, b := range c.blocks {
		if b.Index == index {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// GetLeaves returns every live block with no live children.
func (c *Chain) GetLeaves() []*Block {
	var out []*Block
	for hash, b := range c.blocks {
		if len(c.children[hash]) == 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out
}

// GetFirstBranchingBlock returns the most recent ancestor common to all
// live leaves -- genesis if there is at most one live leaf. Used as the sync
// anchor (spec §4.9).
func (c *Chain) GetFirstBranchingBlock() *Block {
	leaves := c.GetLeaves()
	if len(leaves) <= 1 {
		return c.blocks[c.genesisHash]
	}
	// Walk each leaf's ancestry to genesis, then find the deepest hash
	// common to all paths.
	paths := make([][]string, len(leaves))
	for i, leaf := range leaves {
		var path []string
		cur := leaf.Hash
		for {
			path = append(path, cur)
			b := c.blocks[cur]
			if b == nil || b.PreviousBlockHash == "" {
				break
			}
			cur = b.PreviousBlockHash
		}
		// reverse to genesis-first order
		for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
			path[l], path[r] = path[r], path[l]
		}
		paths[i] = path
	}
	shortest := paths[0]
	for _, p := range paths[1:] {
		if len(p) < len(shortest) {
			shortest = p
		}
	}
	common := c.blocks[c.genesisHash]
	for i, hash := range shortest {
		allMatch := true
		for _, p := range paths {
			if i >= len(p) || p[i] != hash {
				allMatch = false
				break
			}
		}
		if !allMatch {
			break
		}
		common = c.blocks[hash]
	}
	return common
}

// GetAdmissions returns, for every live leaf, the admission set computed
// at that leaf. Used by the creator-election scheduler (C7) and the node
// controller (C8).
func (c *Chain) GetAdmissions() ([]LeafAdmissions, error) {
	leaves := c.GetLeaves()
	out := make([]LeafAdmissions, 0, len(leaves))
	for _, leaf := range leaves {
		cache, err := c.RegistrationCacheAt(leaf.Hash)
		if err != nil {
			return nil, err
		}
		out = append(out, LeafAdmissions{LeafHash: leaf.Hash, Admissions: cache.Admissions})
	}
	return out, nil
}

// RegistrationCacheAt folds genesis-to-hash into the admissions/doctors/
// vaccines sets, memoizing by hash. hash must name a live block.
func (c *Chain) RegistrationCacheAt(hash string) (*RegistrationCache, error) {
	if cached, ok := c.cacheMemo[hash]; ok {
		return cached, nil
	}
	var path []*Block
	cur := hash
	for {
		b, ok := c.blocks[cur]
		if !ok {
			return nil, fmt.Errorf("%w: %s not live", ErrNotFound, cur)
		}
		path = append(path, b)
		if b.PreviousBlockHash == "" {
			break
		}
		cur = b.PreviousBlockHash
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	cache := foldRegistrationCache(newEmptyCache(), path)
	c.cacheMemo[hash] = cache
	return cache, nil
}

// invalidateCacheMemo drops every memoized cache, since any live
// descendant's cache also rests on whatever changed. Called when a subtree
// is relocated to dead-branches.
func (c *Chain) invalidateCacheMemo() {
	c.cacheMemo = map[string]*RegistrationCache{}
}

// blockCreationHistory returns the n admissions ordered by staleness with
// respect to the branch ending at hash: never-produced admissions first
// (tie-broken lexicographically), then admissions ordered by how long ago
// their most recent block on this branch was, ending with the most recent
// producer.
func (c *Chain) blockCreationHistory(hash string) ([]string, error) {
	cache, err := c.RegistrationCacheAt(hash)
	if err != nil {
		return nil, err
	}
	admissions := cache.Admissions
	n := len(admissions)
	if n == 0 {
		return nil, ErrNoAdmissions
	}
	seen := map[string]bool{}
	var mostRecentFirst []string
	cur := hash
	for len(seen) < n {
		b, ok := c.blocks[cur]
		if !ok {
			break
		}
		if admissions[b.PublicKey] && !seen[b.PublicKey] {
			seen[b.PublicKey] = true
			mostRecentFirst = append(mostRecentFirst, b.PublicKey)
		}
		if b.PreviousBlockHash == "" {
			break
		}
		cur = b.PreviousBlockHash
	}
	var neverProduced []string
	for pub := range admissions {
		if !seen[pub] {
			neverProduced = append(neverProduced, pub)
		}
	}
	sort.Strings(neverProduced)

	history := make([]string, 0, n)
	history = append(history, neverProduced...)
	for i := len(mostRecentFirst) - 1; i >= 0; i-- {
		history = append(history, mostRecentFirst[i])
	}
	return history, nil
}

// GetBlockCreationHistoryByHash returns the n admissions on the branch
// ending at hash, ordered by staleness. n is expected to equal the live
// admission count at hash; it is accepted for API symmetry with the spec
// but the authoritative length is always len(admissions at hash).
func (c *Chain) GetBlockCreationHistoryByHash(n int, hash string) ([]string, error) {
	return c.blockCreationHistory(hash)
}

// ExpectedCreator returns the admission expected to produce the next block
// on top of parentHash at time at, per the slot formula
// floor((at - parent.timestamp)/block_time) mod n.
func (c *Chain) ExpectedCreator(parentHash string, at int64) (string, error) {
	parent, ok := c.blocks[parentHash]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, parentHash)
	}
	history, err := c.blockCreationHistory(parentHash)
	if err != nil {
		return "", err
	}
	n := len(history)
	delta := at - parent.Timestamp
	slot := delta / int64(c.blockTime/time.Second)
	idx := slot % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return history[idx], nil
}

// AddBlock inserts block into the tree. If its parent is unknown it is
// queued in the dangling set. Otherwise it is structurally validated (C3)
// against its parent; on failure the error is returned so the caller can
// emit a deny-judgement. On success the block is inserted, persisted, and
// the dangling set is rescanned for blocks whose parent just became known.
func (c *Chain) AddBlock(block *Block) (AddOutcome, []*Block, error) {
	if _, ok := c.blocks[block.Hash]; ok {
		return AddedDuplicate, nil, nil
	}
	if _, ok := c.dangling[block.Hash]; ok {
		return AddedDuplicate, nil, nil
	}
	if _, ok := c.deadBlocks[block.Hash]; ok {
		return AddedDuplicate, nil, nil
	}

	parent, ok := c.blocks[block.PreviousBlockHash]
	if !ok && block.PreviousBlockHash != "" {
		c.dangling[block.Hash] = block
		if err := c.store.PutBlock(block); err != nil {
			return AddedDangling, nil, fmt.Errorf("persist dangling: %w", err)
		}
		if err := c.store.PutDangling(block.Hash); err != nil {
			return AddedDangling, nil, fmt.Errorf("persist dangling: %w", err)
		}
		return AddedDangling, nil, nil
	}

	if err := c.validateForInsertion(block, parent); err != nil {
		return AddedDuplicate, nil, err
	}

	c.insertLive(block)
	if err := c.store.PutBlock(block); err != nil {
		return AddedLive, nil, fmt.Errorf("persist block: %w", err)
	}

	invalidated := c.rescanDangling()
	return AddedLive, invalidated, nil
}

// validateForInsertion runs the creator-identity check (spec §4.7 step 4)
// followed by the full structural validation (C3, spec §4.1). Shared
// between the initial receipt path and the dangling-set rescan so a
// promoted block receives exactly the same checks either way.
func (c *Chain) validateForInsertion(block, parent *Block) error {
	if parent != nil {
		// If the expected creator cannot yet be computed (e.g. no
		// admissions registered on this branch yet) we assume correct,
		// matching the original client's documented behavior for a
		// not-yet-fully-known parent.
		if expected, err := c.ExpectedCreator(parent.Hash, block.Timestamp); err == nil && expected != block.PublicKey {
			return fmt.Errorf("%w: got %s want %s", ErrWrongCreator, block.PublicKey, expected)
		}
	}
	if err := block.Validate(parent); err != nil {
		return err
	}
	return block.ValidateSize(c.blockSize)
}

func (c *Chain) insertLive(block *Block) {
	c.blocks[block.Hash] = block
	if block.PreviousBlockHash != "" {
		c.children[block.PreviousBlockHash] = append(c.children[block.PreviousBlockHash], block.Hash)
	}
}

// rescanDangling retries every dangling block whose parent is now live,
// repeating until a full pass makes no further progress.
func (c *Chain) rescanDangling() []*Block {
	var promoted []*Block
	for {
		progressed := false
		for hash, b := range c.dangling {
			parent, ok := c.blocks[b.PreviousBlockHash]
			if !ok && b.PreviousBlockHash != "" {
				continue
			}
			if err := c.validateForInsertion(b, parent); err != nil {
				continue
			}
			delete(c.dangling, hash)
			_ = c.store.DeleteDangling(hash)
			c.insertLive(b)
			_ = c.store.PutBlock(b)
			promoted = append(promoted, b)
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return promoted
}

// quorum returns the strict-majority threshold for n admissions.
func quorum(n int) int { return n/2 + 1 }

// UpdateJudgements validates j, attaches it to the judged block, and
// re-tallies. If the new tally crosses a deny-quorum, the judged block's
// entire live subtree is relocated to dead-branches and any transactions
// in those blocks are returned so the caller can re-queue them as pending.
// Returns isNew (false if this (block,sender) vote was already recorded
// with the same verdict -- the idempotence guarantee).
func (c *Chain) UpdateJudgements(j *Judgement) (isNew bool, freedTxs []*Transaction, err error) {
	if err := j.Validate(); err != nil {
		return false, nil, fmt.Errorf("judgement invalid: %w", err)
	}
	block, isLive := c.blocks[j.HashOfJudgedBlock]
	if !isLive {
		if _, isDead := c.deadBlocks[j.HashOfJudgedBlock]; isDead {
			if existing, ok := c.deadJudgements[j.HashOfJudgedBlock][j.SenderPubKey]; ok {
				if existing.Equal(j) {
					return false, nil, nil
				}
				if !existing.AcceptBlock && j.AcceptBlock {
					return false, nil, ErrJudgementAlreadyDenied
				}
			}
			c.archiveJudgement(j)
			return true, nil, nil
		}
		return false, nil, fmt.Errorf("%w: judged block unknown", ErrNotFound)
	}

	parentCache, err := c.parentRegistrationCache(block)
	if err != nil {
		return false, nil, err
	}
	if !parentCache.Admissions[j.SenderPubKey] {
		return false, nil, ErrJudgeNotAdmission
	}

	if existing, ok := c.judgements[block.Hash][j.SenderPubKey]; ok {
		if existing.Equal(j) {
			return false, nil, nil
		}
		if !existing.AcceptBlock && j.AcceptBlock {
			return false, nil, ErrJudgementAlreadyDenied
		}
	}
	c.recordJudgement(j)

	n := len(parentCache.Admissions)
	if n == 0 {
		return true, nil, nil
	}
	accepts, denies := c.tally(block.Hash)
	q := quorum(n)
	if denies >= q && denies > accepts {
		freed := c.relocateSubtreeToDead(block.Hash)
		return true, freed, nil
	}
	return true, nil, nil
}

func (c *Chain) parentRegistrationCache(block *Block) (*RegistrationCache, error) {
	if block.PreviousBlockHash == "" {
		return newEmptyCache(), nil
	}
	return c.RegistrationCacheAt(block.PreviousBlockHash)
}

// JudgementsForBlock returns a snapshot of the judgements recorded for a
// live block, used to answer sync requests ("blocks and their
// judgements", spec §4.9).
func (c *Chain) JudgementsForBlock(blockHash string) []*Judgement {
	m := c.judgements[blockHash]
	out := make([]*Judgement, 0, len(m))
	for _, j := range m {
		out = append(out, j)
	}
	return out
}

func (c *Chain) tally(blockHash string) (accepts, denies int) {
	for _, j := range c.judgements[blockHash] {
		if j.AcceptBlock {
			accepts++
		} else {
			denies++
		}
	}
	return
}

// relocateSubtreeToDead moves root and every live descendant into the
// dead-branches set, returning the transactions they carried so the caller
// can re-queue them as pending. Dangling blocks whose ancestry runs into the
// relocated subtree are relocated to dead-branches too: once an ancestor is
// dead such a block can never be promoted to live, and every block must
// stay in exactly one of {live, dangling, dead-branch}.
func (c *Chain) relocateSubtreeToDead(root string) []*Transaction {
	c.deadRoots[root] = true
	_ = c.store.PutDeadRoot(root)

	var freed []*Transaction
	queue := []string{root}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		block, ok := c.blocks[hash]
		if !ok {
			continue
		}
		freed = append(freed, block.Transactions...)
		delete(c.blocks, hash)
		c.deadBlocks[hash] = block
		if js, ok := c.judgements[hash]; ok {
			c.deadJudgements[hash] = js
			delete(c.judgements, hash)
		}
		queue = append(queue, c.children[hash]...)
		delete(c.children, hash)
	}
	if parent := c.parentOf(root); parent != "" {
		c.children[parent] = removeString(c.children[parent], root)
	}
	freed = append(freed, c.relocateDanglingDescendantsToDead()...)
	c.invalidateCacheMemo()
	return freed
}

// relocateDanglingDescendantsToDead moves every dangling block whose ancestry
// leads into a now-dead block over to deadBlocks and returns the
// transactions it carried. These blocks are not dead roots themselves --
// they are descendants, so they are not added to deadRoots and carry no
// judgements of their own to migrate. Runs to a fixed point since a dangling
// block may chain onto another dangling block that itself chains onto a
// dead one.
func (c *Chain) relocateDanglingDescendantsToDead() []*Transaction {
	var freed []*Transaction
	for {
		progressed := false
		for hash, block := range c.dangling {
			if !c.ancestryRunsIntoDead(block) {
				continue
			}
			freed = append(freed, block.Transactions...)
			delete(c.dangling, hash)
			_ = c.store.DeleteDangling(hash)
			c.deadBlocks[hash] = block
			if err := c.store.PutBlock(block); err != nil {
				log.Printf("chain: persisting relocated dangling block %s: %v", hash, err)
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return freed
}

// ancestryRunsIntoDead reports whether block's ancestry, walking parent
// hashes up through the dangling set, reaches a block already relocated to
// dead-branches.
func (c *Chain) ancestryRunsIntoDead(block *Block) bool {
	cur := block.PreviousBlockHash
	for cur != "" {
		if _, ok := c.deadBlocks[cur]; ok {
			return true
		}
		if _, ok := c.blocks[cur]; ok {
			return false
		}
		parent, ok := c.dangling[cur]
		if !ok {
			return false
		}
		cur = parent.PreviousBlockHash
	}
	return false
}

func (c *Chain) parentOf(hash string) string {
	if b, ok := c.blocks[hash]; ok {
		return b.PreviousBlockHash
	}
	if b, ok := c.deadBlocks[hash]; ok {
		return b.PreviousBlockHash
	}
	return ""
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

// GetDeadBranchesSinceBlockHash returns the archived judgements for every
// dead-branch block descended from hash, used during sync so peers learn
// why a branch was pruned.
func (c *Chain) GetDeadBranchesSinceBlockHash(hash string) []*Judgement {
	var out []*Judgement
	for blockHash, block := range c.deadBlocks {
		if !c.isDescendant(blockHash, hash, block) {
			continue
		}
		for _, j := range c.deadJudgements[blockHash] {
			out = append(out, j)
		}
	}
	return out
}

func (c *Chain) isDescendant(hash, ancestor string, block *Block) bool {
	cur := hash
	for {
		if cur == ancestor {
			return true
		}
		var parent string
		if b, ok := c.blocks[cur]; ok {
			parent = b.PreviousBlockHash
		} else if b, ok := c.deadBlocks[cur]; ok {
			parent = b.PreviousBlockHash
		} else {
			return false
		}
		if parent == "" {
			return cur == ancestor
		}
		cur = parent
	}
}

// GetTreeListAtHash returns every live block in the subtree rooted at
// hash, in breadth-first order. Used to answer sync requests.
func (c *Chain) GetTreeListAtHash(hash string) []*Block {
	var out []*Block
	if _, ok := c.blocks[hash]; !ok {
		return out
	}
	queue := []string{hash}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		b, ok := c.blocks[h]
		if !ok {
			continue
		}
		out = append(out, b)
		queue = append(queue, c.children[h]...)
	}
	return out
}

// ContainsTransaction reports whether tx already appears in a recent block
// of any live branch -- walked back len(admissions-at-leaf) blocks per
// branch, matching the original client's dedup window, then to genesis if
// shorter.
func (c *Chain) ContainsTransaction(tx *Transaction) bool {
	target := tx.Hash()
	for _, leaf := range c.GetLeaves() {
		cache, err := c.RegistrationCacheAt(leaf.Hash)
		if err != nil {
			continue
		}
		limit := len(cache.Admissions)
		if limit == 0 {
			limit = 1
		}
		cur := leaf.Hash
		for i := 0; i < limit; i++ {
			b, ok := c.blocks[cur]
			if !ok {
				break
			}
			for _, t := range b.Transactions {
				if t.Hash() == target {
					return true
				}
			}
			if b.PreviousBlockHash == "" {
				break
			}
			cur = b.PreviousBlockHash
		}
	}
	return false
}

// DanglingBlocks returns a snapshot of the current dangling set.
func (c *Chain) DanglingBlocks() []*Block {
	out := make([]*Block, 0, len(c.dangling))
	for _, b := range c.dangling {
		out = append(out, b)
	}
	return out
}

// IsLive reports whether hash names a block currently in the live tree.
func (c *Chain) IsLive(hash string) bool {
	_, ok := c.blocks[hash]
	return ok
}

// IsDangling reports whether hash names a block in the dangling set.
func (c *Chain) IsDangling(hash string) bool {
	_, ok := c.dangling[hash]
	return ok
}

// IsDeadRoot reports whether hash names the root of a dead branch.
func (c *Chain) IsDeadRoot(hash string) bool {
	return c.deadRoots[hash]
}

// IsKnown reports whether hash is live, dangling, or dead -- used by the
// controller's duplicate-receive check.
func (c *Chain) IsKnown(hash string) bool {
	if _, ok := c.blocks[hash]; ok {
		return true
	}
	if _, ok := c.dangling[hash]; ok {
		return true
	}
	if _, ok := c.deadBlocks[hash]; ok {
		return true
	}
	return false
}
