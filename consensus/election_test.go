package consensus

import (
	"testing"
	"time"

	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
	"github.com/Benedikt1992/blockchain-vaccination-records/internal/testutil"
)

type fakeSubmitter struct {
	blocks []*core.Block
	err    error
}

func (f *fakeSubmitter) SubmitSelfProducedBlock(block *core.Block) error {
	if f.err != nil {
		return f.err
	}
	f.blocks = append(f.blocks, block)
	return nil
}

func newSoleAdmissionChain(t *testing.T, priv crypto.PrivateKey, pub crypto.PublicKey) *core.Chain {
	t.Helper()
	store := testutil.NewMemBlockStore()
	grant := core.NewPermissionTransaction(core.PermissionAdmission, pub, core.ProtocolVersion, 0)
	if err := grant.Sign(priv); err != nil {
		t.Fatalf("sign grant: %v", err)
	}
	genesis := core.NewBlock(nil, pub, 0, []*core.Transaction{grant})
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("sign genesis: %v", err)
	}
	chain, err := core.NewChain(store, time.Second, 10, genesis)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain
}

func TestSchedulerTickProducesWhenExpectedCreator(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	chain := newSoleAdmissionChain(t, priv, pub)
	submitter := &fakeSubmitter{}
	s := New(chain, core.NewMempool(), priv, pub, submitter)

	if err := s.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(submitter.blocks) != 1 {
		t.Fatalf("expected the sole admission to produce exactly one block, got %d", len(submitter.blocks))
	}
	parent, ok := chain.FindBlockByHash(submitter.blocks[0].PreviousBlockHash)
	if !ok {
		t.Fatal("expected the produced block to extend a live block")
	}
	if err := submitter.blocks[0].Validate(parent); err != nil {
		t.Fatalf("expected the produced block to carry a valid signature: %v", err)
	}
}

func TestSchedulerTickSkipsNonAdmission(t *testing.T) {
	adminPriv, adminPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair admin: %v", err)
	}
	chain := newSoleAdmissionChain(t, adminPriv, adminPub)

	outsiderPriv, outsiderPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair outsider: %v", err)
	}
	submitter := &fakeSubmitter{}
	s := New(chain, core.NewMempool(), outsiderPriv, outsiderPub, submitter)

	if err := s.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(submitter.blocks) != 0 {
		t.Fatal("expected a non-admission identity to never produce a block")
	}
}

func TestSchedulerTickIncludesMempoolTransactions(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	chain := newSoleAdmissionChain(t, priv, pub)
	mempool := core.NewMempool()

	// A vaccine registration is valid only when its sender is an admission,
	// so the sole admission registers it.
	tx := core.NewVaccineTransaction(pub, "moderna", core.ProtocolVersion, 5)
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	if err := mempool.Add(tx); err != nil {
		t.Fatalf("mempool.Add: %v", err)
	}

	submitter := &fakeSubmitter{}
	s := New(chain, mempool, priv, pub, submitter)
	if err := s.tick(); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(submitter.blocks) != 1 {
		t.Fatalf("expected one produced block, got %d", len(submitter.blocks))
	}
	found := false
	for _, included := range submitter.blocks[0].Transactions {
		if included.Hash() == tx.Hash() {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the pending mempool transaction to be included in the produced block")
	}
}

func TestProduceOnLeafHashIgnoresSlotTiming(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	chain := newSoleAdmissionChain(t, priv, pub)
	submitter := &fakeSubmitter{}
	s := New(chain, core.NewMempool(), priv, pub, submitter)

	genesis := chain.GetLeaves()[0]
	if err := s.ProduceOnLeafHash(genesis.Hash); err != nil {
		t.Fatalf("ProduceOnLeafHash: %v", err)
	}
	if len(submitter.blocks) != 1 {
		t.Fatalf("expected exactly one produced block, got %d", len(submitter.blocks))
	}
}

func TestProduceOnLeafHashRejectsUnknownLeaf(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	chain := newSoleAdmissionChain(t, priv, pub)
	s := New(chain, core.NewMempool(), priv, pub, &fakeSubmitter{})

	if err := s.ProduceOnLeafHash("does-not-exist"); err == nil {
		t.Fatal("expected error producing on an unknown leaf hash")
	}
}

func TestSafeTickRecoversPanicAndSurvives(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	chain := newSoleAdmissionChain(t, priv, pub)
	s := New(chain, core.NewMempool(), priv, pub, &panickingSubmitter{})

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("expected safeTick to recover the panic itself, got %v", r)
			}
		}()
		s.safeTick()
	}()
}

type panickingSubmitter struct{}

func (panickingSubmitter) SubmitSelfProducedBlock(*core.Block) error {
	panic("boom")
}
