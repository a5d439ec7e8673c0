// Package controller wires incoming blocks, judgements, transactions, and
// sync requests through validation into the chain, and re-emits outputs
// back through the peer transport. It holds the chain by reference rather
// than the chain holding a back-reference to it -- see the design notes on
// inverting control between chain and node.
package controller

import (
	"log"
	"time"

	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
	"github.com/Benedikt1992/blockchain-vaccination-records/events"
	"github.com/Benedikt1992/blockchain-vaccination-records/metrics"
)

// Broadcaster is the peer fan-out surface the controller needs. network.Node
// implements it.
type Broadcaster interface {
	BroadcastBlock(payload []byte)
	BroadcastTransaction(payload []byte)
	BroadcastJudgement(payload []byte)
	SendSyncRequest(peerID string, payload []byte) error
	Peers() []string
}

// Controller is the node controller (C8).
type Controller struct {
	Chain   *core.Chain
	Mempool *core.Mempool

	emitter     *events.Emitter
	broadcaster Broadcaster
	priv        crypto.PrivateKey
	pub         crypto.PublicKey
}

// New builds a Controller. priv/pub are this node's identity, used to sign
// judgements and self-registration transactions.
func New(chain *core.Chain, mempool *core.Mempool, emitter *events.Emitter, broadcaster Broadcaster, priv crypto.PrivateKey, pub crypto.PublicKey) *Controller {
	return &Controller{
		Chain:       chain,
		Mempool:     mempool,
		emitter:     emitter,
		broadcaster: broadcaster,
		priv:        priv,
		pub:         pub,
	}
}

// ReceiveBlock implements network.Receiver. Spec §4.7 "on receiving a
// block": ignore if known, rebroadcast before expensive work, queue
// dangling if the parent is unknown, verify creator and structure, then
// insert/persist/judge/rebroadcast.
func (c *Controller) ReceiveBlock(payload []byte) {
	block, err := core.ParseBlock(payload)
	if err != nil {
		log.Printf("[controller] malformed block: %v", err)
		return
	}

	c.Chain.Lock()
	defer c.Chain.Unlock()

	if c.Chain.IsKnown(block.Hash) {
		return // DuplicateReceive: silent ignore
	}

	c.broadcaster.BroadcastBlock(payload)

	outcome, invalidated, err := c.Chain.AddBlock(block)
	switch outcome {
	case core.AddedDangling:
		metrics.BlocksDangling.Inc()
		c.emitter.Emit(events.Event{Type: events.EventBlockDangling, BlockHash: block.Hash})
		return
	case core.AddedDuplicate:
		if err != nil {
			c.denyAndBroadcast(block)
		}
		return
	case core.AddedLive:
		if err != nil {
			c.denyAndBroadcast(block)
			return
		}
		c.acceptInsertedBlock(block)
		for _, promoted := range invalidated {
			c.acceptInsertedBlock(promoted)
		}
	}
}

func (c *Controller) acceptInsertedBlock(block *core.Block) {
	metrics.BlocksAccepted.Inc()
	c.emitter.Emit(events.Event{Type: events.EventBlockAccepted, BlockHash: block.Hash})
	hashes := make([]string, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		hashes = append(hashes, tx.Hash())
		if tx.Type == core.TxVaccination {
			c.emitter.Emit(events.Event{
				Type: events.EventVaccinationTx,
				Data: map[string]any{
					"doctor_pub_key":  tx.DoctorPubKey,
					"patient_pub_key": tx.PatientPubKey,
					"vaccine":         tx.Vaccine,
					"block_hash":      block.Hash,
				},
			})
		}
	}
	c.Mempool.Remove(hashes)
	c.emitAcceptJudgement(block)
}

func (c *Controller) denyAndBroadcast(block *core.Block) {
	c.emitter.Emit(events.Event{Type: events.EventBlockDenied, BlockHash: block.Hash})
	if _, live := c.Chain.FindBlockByHash(block.Hash); live {
		c.emitJudgement(block.Hash, false)
		return
	}
	// A rejected block never enters the tree, so its deny is signed and
	// broadcast without being recorded in the local tally.
	parentCache, err := c.Chain.RegistrationCacheAt(block.PreviousBlockHash)
	if err != nil || !parentCache.Admissions[c.pub.Hex()] {
		return
	}
	j := core.NewJudgement(block.Hash, false, c.pub, time.Now().Unix())
	if err := j.Sign(c.priv); err != nil {
		log.Printf("[controller] sign judgement: %v", err)
		return
	}
	metrics.JudgementsEmitted.WithLabelValues("deny").Inc()
	c.rebroadcastJudgement(j)
}

func (c *Controller) emitAcceptJudgement(block *core.Block) {
	c.emitJudgement(block.Hash, true)
}

// emitJudgement emits a judgement only if this node is an admission at the
// judged block's parent (spec §4.8).
func (c *Controller) emitJudgement(blockHash string, accept bool) {
	block, ok := c.Chain.FindBlockByHash(blockHash)
	if !ok {
		return
	}
	var parentCache *core.RegistrationCache
	var err error
	if block.PreviousBlockHash == "" {
		parentCache, err = c.Chain.RegistrationCacheAt(blockHash)
	} else {
		parentCache, err = c.Chain.RegistrationCacheAt(block.PreviousBlockHash)
	}
	if err != nil || !parentCache.Admissions[c.pub.Hex()] {
		return
	}
	j := core.NewJudgement(blockHash, accept, c.pub, time.Now().Unix())
	if err := j.Sign(c.priv); err != nil {
		log.Printf("[controller] sign judgement: %v", err)
		return
	}
	isNew, freed, err := c.Chain.UpdateJudgements(j)
	if err != nil {
		log.Printf("[controller] record own judgement: %v", err)
		return
	}
	if accept {
		metrics.JudgementsEmitted.WithLabelValues("accept").Inc()
	} else {
		metrics.JudgementsEmitted.WithLabelValues("deny").Inc()
	}
	if len(freed) > 0 {
		c.Mempool.Requeue(freed)
		metrics.BranchesRelocatedDead.Inc()
		c.emitter.Emit(events.Event{Type: events.EventBranchDead, BlockHash: blockHash})
	}
	if isNew {
		c.rebroadcastJudgement(j)
	}
}

func (c *Controller) rebroadcastJudgement(j *core.Judgement) {
	data, err := j.CanonicalJSON()
	if err != nil {
		log.Printf("[controller] marshal judgement: %v", err)
		return
	}
	c.broadcaster.BroadcastJudgement(data)
}

// ReceiveJudgement implements network.Receiver: spec §4.7 "on receiving a
// judgement": validate, update tally, rebroadcast if new.
func (c *Controller) ReceiveJudgement(payload []byte) {
	j, err := core.ParseJudgement(payload)
	if err != nil {
		log.Printf("[controller] malformed judgement: %v", err)
		return
	}
	c.Chain.Lock()
	defer c.Chain.Unlock()

	isNew, freed, err := c.Chain.UpdateJudgements(j)
	if err != nil {
		log.Printf("[controller] judgement rejected: %v", err)
		return
	}
	if len(freed) > 0 {
		c.Mempool.Requeue(freed)
		metrics.BranchesRelocatedDead.Inc()
		c.emitter.Emit(events.Event{Type: events.EventBranchDead, BlockHash: j.HashOfJudgedBlock})
	}
	c.emitter.Emit(events.Event{Type: events.EventJudgementSeen, BlockHash: j.HashOfJudgedBlock})
	if isNew {
		c.broadcaster.BroadcastJudgement(payload)
	}
}

// ReceiveTransaction implements network.Receiver: spec §4.7 "on receiving
// a transaction": ignore if already pending or already settled on every
// live branch, else enqueue if self is (or expects to be) an admission
// somewhere.
func (c *Controller) ReceiveTransaction(payload []byte) {
	tx, err := core.ParseTransaction(payload)
	if err != nil {
		log.Printf("[controller] malformed transaction: %v", err)
		return
	}
	c.Chain.Lock()
	defer c.Chain.Unlock()

	h := tx.Hash()
	if c.Mempool.Contains(h) {
		return
	}
	if c.Chain.ContainsTransaction(tx) {
		return
	}
	if err := c.Mempool.Add(tx); err != nil {
		log.Printf("[controller] mempool add: %v", err)
		return
	}
	metrics.MempoolSize.Set(float64(c.Mempool.Size()))
	c.broadcaster.BroadcastTransaction(payload)
}

// SubmitSelfProducedBlock implements consensus.BlockSubmitter. Self-
// produced blocks skip the controller's receipt handling and go straight
// to insertion, persistence, accept-judgement, and broadcast (spec §4.7
// "self-produced blocks"). Chain.AddBlock still runs its creator and
// structural checks on them; a failure is returned as an error and no deny
// judgement is emitted. Called by the scheduler while it already holds the
// chain lock.
func (c *Controller) SubmitSelfProducedBlock(block *core.Block) error {
	outcome, invalidated, err := c.Chain.AddBlock(block)
	if err != nil {
		return err
	}
	if outcome != core.AddedLive {
		return nil
	}
	c.acceptInsertedBlock(block)
	for _, promoted := range invalidated {
		c.acceptInsertedBlock(promoted)
	}
	payload, err := block.CanonicalJSON()
	if err != nil {
		return err
	}
	c.broadcaster.BroadcastBlock(payload)
	return nil
}

// RegisterSelfAsAdmission submits a self-signed Permission(Admission)
// transaction, matching the original client's REGISTER_AS_ADMISSION
// startup behavior. Permission transactions require no prior eligibility
// beyond a valid signature -- an honest block producer decides whether to
// include it.
func (c *Controller) RegisterSelfAsAdmission() error {
	tx := core.NewPermissionTransaction(core.PermissionAdmission, c.pub, core.ProtocolVersion, time.Now().Unix())
	if err := tx.Sign(c.priv); err != nil {
		return err
	}
	c.Chain.Lock()
	alreadyAdmission := false
	for _, leafAdm := range mustGetAdmissions(c.Chain) {
		if leafAdm.Admissions[c.pub.Hex()] {
			alreadyAdmission = true
		}
	}
	c.Chain.Unlock()
	if alreadyAdmission {
		return nil
	}
	if err := c.Mempool.Add(tx); err != nil {
		return err
	}
	payload, err := tx.CanonicalJSON()
	if err != nil {
		return err
	}
	c.broadcaster.BroadcastTransaction(payload)
	return nil
}

func mustGetAdmissions(chain *core.Chain) []core.LeafAdmissions {
	out, err := chain.GetAdmissions()
	if err != nil {
		return nil
	}
	return out
}

// ReceiveSyncRequest implements network.Receiver: spec §4.9. Answers with
// the live subtree rooted at the requested anchor plus its judgements and
// any dead-branch judgements descended from it; if the anchor is no
// longer live, falls back to resending from genesis.
func (c *Controller) ReceiveSyncRequest(peerID string, payload []byte) {
	req, err := core.ParseSyncRequest(payload)
	if err != nil {
		log.Printf("[controller] malformed sync request: %v", err)
		return
	}
	c.Chain.Lock()
	defer c.Chain.Unlock()

	anchor := req.AnchorHash
	if !c.Chain.IsLive(anchor) {
		anchor = c.Chain.GenesisHash()
	}
	blocks := c.Chain.GetTreeListAtHash(anchor)
	deadJudgements := c.Chain.GetDeadBranchesSinceBlockHash(anchor)

	for _, block := range blocks {
		data, err := block.CanonicalJSON()
		if err != nil {
			continue
		}
		c.broadcaster.BroadcastBlock(data)
		for _, j := range c.Chain.JudgementsForBlock(block.Hash) {
			jd, err := j.CanonicalJSON()
			if err != nil {
				continue
			}
			c.broadcaster.BroadcastJudgement(jd)
		}
	}
	for _, j := range deadJudgements {
		jd, err := j.CanonicalJSON()
		if err != nil {
			continue
		}
		c.broadcaster.BroadcastJudgement(jd)
	}
	// The actual reply travels via the asynchronous broadcast path above,
	// per spec §6 ("actual payload returned via asynchronous /new_block +
	// /new_judgement deliveries"); the sync_request response itself is
	// just an ack, so peerID is only used for future direct-reply
	// transports and is otherwise unused here.
	_ = peerID
}

// Synchronize computes this node's first-branching block and sends a
// sync-request to each known peer in turn, stopping at the first peer
// that answers (spec §4.9).
func (c *Controller) Synchronize() error {
	c.Chain.Lock()
	anchor := c.Chain.GetFirstBranchingBlock()
	c.Chain.Unlock()

	req := &core.SyncRequest{AnchorHash: anchor.Hash}
	payload, err := req.CanonicalJSON()
	if err != nil {
		return err
	}
	for _, peerID := range c.broadcaster.Peers() {
		if err := c.broadcaster.SendSyncRequest(peerID, payload); err == nil {
			return nil
		}
	}
	return nil
}
