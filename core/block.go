package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

// ProtocolVersion is the wire-format/signing version every block and
// transaction created by this node carries. A block whose Version differs
// fails structural validation (rule 3 of Block.Validate).
const ProtocolVersion = 1

// MaxClockSkew is how far into the future a block's timestamp may sit and
// still be accepted, absorbing small inter-node clock drift.
const MaxClockSkew = 2 * time.Second

var (
	ErrTooManyTransactions = errors.New("block already holds block_size transactions")
	ErrBlockAlreadySigned  = errors.New("block already signed")
	ErrBlockUnsigned       = errors.New("block is unsigned")
	ErrDuplicateTx         = errors.New("duplicate transaction within block")
	ErrBadIndex            = errors.New("block index does not follow parent")
	ErrBadParentHash       = errors.New("previous_block does not match parent hash")
	ErrBadVersion          = errors.New("protocol version mismatch")
	ErrFutureTimestamp     = errors.New("block timestamp is in the future")
	ErrHashMismatch        = errors.New("block hash does not match recomputed digest")
)

// Block is the unit the chain stores and the creator-election scheduler
// produces. Fields are declared in wire order: Signature and Hash sit last
// since Hash covers Signature (see ComputeHash) while Signature covers
// everything before it (see signingBytes).
type Block struct {
	Index             int64          `json:"index"`
	PreviousBlockHash string         `json:"previous_block"`
	Timestamp         int64          `json:"timestamp"`
	Version           int            `json:"version"`
	PublicKey         string         `json:"public_key"`
	Transactions      []*Transaction `json:"transactions"`
	Signature         string         `json:"signature"`
	Hash              string         `json:"hash"`
}

// NewBlock creates an unsigned, unhashed block extending parent with txs.
func NewBlock(parent *Block, creator crypto.PublicKey, timestamp int64, txs []*Transaction) *Block {
	prevHash := ""
	index := int64(0)
	if parent != nil {
		prevHash = parent.Hash
		index = parent.Index + 1
	}
	return &Block{
		Index:             index,
		PreviousBlockHash: prevHash,
		Timestamp:         timestamp,
		Version:           ProtocolVersion,
		PublicKey:         creator.Hex(),
		Transactions:      append([]*Transaction(nil), txs...),
	}
}

// AddTransaction appends tx, enforcing the block_size cap.
func (b *Block) AddTransaction(tx *Transaction, blockSize int) error {
	if len(b.Transactions) >= blockSize {
		return ErrTooManyTransactions
	}
	b.Transactions = append(b.Transactions, tx)
	return nil
}

// signingBytes returns the bytes Signature is computed over: every field
// except Signature and Hash (Hash is derived after signing).
func (b Block) signingBytes() ([]byte, error) {
	b.Signature = ""
	b.Hash = ""
	return json.Marshal(b)
}

// Sign fills Signature and then Hash. Signing an already-signed block is
// rejected -- a block is immutable once signed.
func (b *Block) Sign(priv crypto.PrivateKey) error {
	if b.Signature != "" {
		return ErrBlockAlreadySigned
	}
	msg, err := b.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	b.Signature = crypto.Sign(priv, msg)
	b.UpdateHash()
	return nil
}

// UpdateHash recomputes Hash from the full content including Signature.
func (b *Block) UpdateHash() {
	b.Hash = b.ComputeHash()
}

// ComputeHash returns sha256(serialize(block)) where the serialization
// includes Signature but not Hash itself.
func (b *Block) ComputeHash() string {
	cp := *b
	cp.Hash = ""
	data, err := json.Marshal(cp)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

func (b *Block) isGenesis() bool {
	return b.Index == 0 && b.PreviousBlockHash == ""
}

// Validate runs the structural checks from the block-model spec against
// parent, except the block_size bound, which ValidateSize checks. It does
// not check creator identity -- that is the
// chain/election engine's responsibility, since it needs registration
// caches and block-creation history that this package does not hold.
func (b *Block) Validate(parent *Block) error {
	if b.isGenesis() {
		if parent != nil {
			return ErrBadIndex
		}
	} else {
		if parent == nil {
			return errors.New("missing parent for non-genesis block")
		}
		if b.Index != parent.Index+1 {
			return fmt.Errorf("%w: got %d want %d", ErrBadIndex, b.Index, parent.Index+1)
		}
		if b.PreviousBlockHash != parent.Hash {
			return ErrBadParentHash
		}
	}
	if b.Version != ProtocolVersion {
		return fmt.Errorf("%w: got %d want %d", ErrBadVersion, b.Version, ProtocolVersion)
	}
	now := time.Now()
	if time.Unix(b.Timestamp, 0).After(now.Add(MaxClockSkew)) {
		return ErrFutureTimestamp
	}
	pub, err := crypto.PubKeyFromHex(b.PublicKey)
	if err != nil {
		return fmt.Errorf("creator pubkey: %w", err)
	}
	if b.Signature == "" {
		return ErrBlockUnsigned
	}
	sigMsg, err := b.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	if err := crypto.Verify(pub, sigMsg, b.Signature); err != nil {
		return fmt.Errorf("signature invalid: %w", err)
	}
	if err := b.checkTransactionSet(); err != nil {
		return err
	}
	if computed := b.ComputeHash(); computed != b.Hash {
		return fmt.Errorf("%w: stored %s computed %s", ErrHashMismatch, b.Hash, computed)
	}
	return nil
}

// checkTransactionSet enforces the no-duplicates rule. The block_size
// bound is not checked here; ValidateSize checks it against the configured
// limit, which the chain engine passes in.
func (b *Block) checkTransactionSet() error {
	seen := make(map[string]bool, len(b.Transactions))
	for _, tx := range b.Transactions {
		h := tx.Hash()
		if seen[h] {
			return ErrDuplicateTx
		}
		seen[h] = true
	}
	return nil
}

// ValidateSize enforces the configured block_size limit explicitly; called
// by the chain engine, which is the only component that knows block_size.
func (b *Block) ValidateSize(blockSize int) error {
	if len(b.Transactions) > blockSize {
		return fmt.Errorf("%w: has %d, limit %d", ErrTooManyTransactions, len(b.Transactions), blockSize)
	}
	return nil
}

// CanonicalJSON returns the block's deterministic wire form.
func (b *Block) CanonicalJSON() ([]byte, error) {
	return json.Marshal(b)
}

// ParseBlock decodes a block from its canonical wire form using strict
// JSON unmarshalling. This replaces source-language eval()-based parsing:
// untrusted bytes are never evaluated as code, only decoded into a fixed
// Go struct shape, and input size is bounded (see MaxWireMessageSize).
func ParseBlock(data []byte) (*Block, error) {
	dec := json.NewDecoder(newLimitedReader(data))
	dec.DisallowUnknownFields()
	var b Block
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("parse block: %w", err)
	}
	return &b, nil
}
