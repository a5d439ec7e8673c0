// Package consensus runs the creator-election scheduler: a periodic task
// that decides, for every live branch this node is an admission on,
// whether it is this node's turn to produce the next block.
package consensus

import (
	"log"
	"time"

	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

// BlockSubmitter accepts a self-produced, already-signed block. The node
// controller implements this; consensus never imports controller, and
// cmd/node wires the two together.
type BlockSubmitter interface {
	SubmitSelfProducedBlock(block *core.Block) error
}

// Scheduler is the cancellable periodic task described in spec §4.6 and
// §9's "cancellable periodic task abstraction" design note.
type Scheduler struct {
	chain     *core.Chain
	mempool   *core.Mempool
	priv      crypto.PrivateKey
	pub       crypto.PublicKey
	submitter BlockSubmitter
}

// New builds a Scheduler for the given chain, mempool, and identity.
func New(chain *core.Chain, mempool *core.Mempool, priv crypto.PrivateKey, pub crypto.PublicKey, submitter BlockSubmitter) *Scheduler {
	return &Scheduler{chain: chain, mempool: mempool, priv: priv, pub: pub, submitter: submitter}
}

// Run ticks every block_time/2 until done is closed. Panics within a tick
// are recovered and logged so a single bad round never kills the task --
// per spec §7, "within the election task, all exceptions are caught and
// logged; the task never dies."
func (s *Scheduler) Run(done <-chan struct{}) {
	interval := s.chain.BlockTime() / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.safeTick()
		}
	}
}

func (s *Scheduler) safeTick() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[consensus] recovered panic in election tick: %v", r)
		}
	}()
	if err := s.tick(); err != nil {
		log.Printf("[consensus] election tick error: %v", err)
	}
}

// tick implements spec §4.6 step by step, under a single chain lock so the
// leaf read, the history computation, and the eventual submission form one
// atomic decision.
func (s *Scheduler) tick() error {
	s.chain.Lock()
	defer s.chain.Unlock()

	now := time.Now().Unix()
	pubHex := s.pub.Hex()

	for _, leaf := range s.chain.GetLeaves() {
		cache, err := s.chain.RegistrationCacheAt(leaf.Hash)
		if err != nil {
			return err
		}
		if !cache.Admissions[pubHex] {
			continue
		}
		expected, err := s.chain.ExpectedCreator(leaf.Hash, now)
		if err != nil {
			return err
		}
		if expected != pubHex {
			continue
		}
		if err := s.produceOn(leaf, cache, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) produceOn(leaf *core.Block, cache *core.RegistrationCache, now int64) error {
	txs := s.mempool.PopValid(s.chain.BlockSize(), cache.Admissions, cache.Doctors, cache.Vaccines)
	block := core.NewBlock(leaf, s.pub, now, txs)
	if err := block.Sign(s.priv); err != nil {
		return err
	}
	return s.submitter.SubmitSelfProducedBlock(block)
}

// ProduceOnLeafHash builds and submits a block on the named leaf
// regardless of slot timing, for the admission console's on-demand block
// creation (the original client's start_block_creation_repl). The caller
// does not need to hold the chain lock; this method brackets its own
// critical section like tick does.
func (s *Scheduler) ProduceOnLeafHash(leafHash string) error {
	s.chain.Lock()
	defer s.chain.Unlock()

	leaf, ok := s.chain.FindBlockByHash(leafHash)
	if !ok {
		return core.ErrNotFound
	}
	cache, err := s.chain.RegistrationCacheAt(leaf.Hash)
	if err != nil {
		return err
	}
	return s.produceOn(leaf, cache, time.Now().Unix())
}
