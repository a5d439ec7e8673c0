package core

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

var (
	ErrJudgementUnsigned      = errors.New("judgement is unsigned")
	ErrJudgementAlreadyDenied = errors.New("judgement already denies this block; accept-after-deny is forbidden")
)

// Judgement is a single admission's signed accept/deny vote on a block.
// It is mutable exactly once: an accept may later be flipped to deny by
// re-signing (Deny), but a deny can never flip back to accept.
type Judgement struct {
	HashOfJudgedBlock string `json:"hash_of_judged_block"`
	AcceptBlock       bool   `json:"accept_block"`
	SenderPubKey      string `json:"sender_pubkey"`
	Timestamp         int64  `json:"timestamp"`
	Version           int    `json:"version"`
	Signature         string `json:"signature"`
}

// NewJudgement builds an unsigned judgement for the given block and vote.
func NewJudgement(blockHash string, accept bool, sender crypto.PublicKey, timestamp int64) *Judgement {
	return &Judgement{
		HashOfJudgedBlock: blockHash,
		AcceptBlock:       accept,
		SenderPubKey:      sender.Hex(),
		Timestamp:         timestamp,
		Version:           ProtocolVersion,
	}
}

func (j Judgement) signingBytes() ([]byte, error) {
	j.Signature = ""
	return json.Marshal(j)
}

// Sign fills Signature. Re-signing is allowed (used by Deny to flip the
// vote), unlike Block and Transaction which forbid re-signing.
func (j *Judgement) Sign(priv crypto.PrivateKey) error {
	msg, err := j.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	j.Signature = crypto.Sign(priv, msg)
	return nil
}

// Verify checks the judgement's signature.
func (j *Judgement) Verify() error {
	if j.Signature == "" {
		return ErrJudgementUnsigned
	}
	pub, err := crypto.PubKeyFromHex(j.SenderPubKey)
	if err != nil {
		return fmt.Errorf("sender pubkey: %w", err)
	}
	msg, err := j.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	return crypto.Verify(pub, msg, j.Signature)
}

// Validate checks the judgement is well-formed and signed. Whether the
// sender is actually an admission in the branch containing the judged
// block is checked by the chain engine (Chain.UpdateJudgements), which
// alone holds the registration caches needed to answer that.
func (j *Judgement) Validate() error {
	return j.Verify()
}

// Deny re-signs the judgement with AcceptBlock=false. It is a no-op error
// if the judgement already denies the block (matches the source's "already
// false" log-and-skip behavior, but surfaced as an explicit error here
// rather than silently tolerated).
func (j *Judgement) Deny(priv crypto.PrivateKey) error {
	if !j.AcceptBlock {
		return ErrJudgementAlreadyDenied
	}
	j.AcceptBlock = false
	return j.Sign(priv)
}

// Key returns the identity of the (block, sender) pair this judgement
// votes on, used by the chain engine to dedupe and to enforce
// deny-after-accept-only.
func (j *Judgement) Key() string {
	return j.HashOfJudgedBlock + ":" + j.SenderPubKey
}

// Equal reports whether two judgements carry the same vote for the same
// (block, sender) pair -- used to detect "no new information" receipts.
func (j *Judgement) Equal(other *Judgement) bool {
	if other == nil {
		return false
	}
	return j.Key() == other.Key() && j.AcceptBlock == other.AcceptBlock
}

// CanonicalJSON returns the judgement's deterministic wire form.
func (j *Judgement) CanonicalJSON() ([]byte, error) {
	return json.Marshal(j)
}

// ParseJudgement decodes a judgement from its canonical wire form via
// strict JSON unmarshalling (no eval-equivalent, bounded input size).
func ParseJudgement(data []byte) (*Judgement, error) {
	dec := json.NewDecoder(newLimitedReader(data))
	dec.DisallowUnknownFields()
	var j Judgement
	if err := dec.Decode(&j); err != nil {
		return nil, fmt.Errorf("parse judgement: %w", err)
	}
	return &j, nil
}
