package core

import (
	"testing"
	"time"

	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

func TestGenesisBlockSignAndValidate(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Unix(), nil)
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := genesis.Validate(nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestChildBlockValidateAgainstParent(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Unix(), nil)
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign genesis: %v", err)
	}
	child := NewBlock(genesis, pub, time.Now().Unix(), nil)
	if err := child.Sign(priv); err != nil {
		t.Fatalf("Sign child: %v", err)
	}
	if err := child.Validate(genesis); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestBlockValidateRejectsWrongParentHash(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Unix(), nil)
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign genesis: %v", err)
	}
	other := NewBlock(nil, pub, time.Now().Unix()-1, nil)
	if err := other.Sign(priv); err != nil {
		t.Fatalf("Sign other: %v", err)
	}
	child := NewBlock(genesis, pub, time.Now().Unix(), nil)
	if err := child.Sign(priv); err != nil {
		t.Fatalf("Sign child: %v", err)
	}
	// child names genesis as its parent; validating it against "other"
	// (a different block, so a different hash) must fail.
	if err := child.Validate(other); err == nil {
		t.Fatal("expected error validating a block against the wrong parent")
	}
}

func TestBlockValidateRejectsWrongVersion(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Unix(), nil)
	genesis.Version = ProtocolVersion + 1
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := genesis.Validate(nil); err == nil {
		t.Fatal("expected error validating a block with the wrong protocol version")
	}
}

func TestBlockValidateRejectsFutureTimestamp(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Add(time.Hour).Unix(), nil)
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := genesis.Validate(nil); err == nil {
		t.Fatal("expected error validating a block with a far-future timestamp")
	}
}

func TestBlockValidateRejectsTamperedHash(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Unix(), nil)
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	genesis.Hash = "deadbeef"
	if err := genesis.Validate(nil); err == nil {
		t.Fatal("expected error validating a block whose hash was tampered with")
	}
}

func TestBlockValidateRejectsDuplicateTransactions(t *testing.T) {
	priv, pub := mustKeyPair(t)
	vaccinePriv, vaccinePub := mustKeyPair(t)
	tx := NewVaccineTransaction(vaccinePub, "moderna", ProtocolVersion, 1000)
	if err := tx.Sign(vaccinePriv); err != nil {
		t.Fatalf("Sign tx: %v", err)
	}
	genesis := NewBlock(nil, pub, time.Now().Unix(), []*Transaction{tx, tx})
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := genesis.Validate(nil); err == nil {
		t.Fatal("expected error validating a block with a duplicated transaction")
	}
}

func TestBlockSignRejectsResigning(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Unix(), nil)
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := genesis.Sign(priv); err == nil {
		t.Fatal("expected error re-signing an already-signed block")
	}
}

func TestBlockValidateSize(t *testing.T) {
	_, pub := mustKeyPair(t)
	vaccinePriv, vaccinePub := mustKeyPair(t)
	tx := NewVaccineTransaction(vaccinePub, "moderna", ProtocolVersion, 1000)
	if err := tx.Sign(vaccinePriv); err != nil {
		t.Fatalf("Sign tx: %v", err)
	}
	b := NewBlock(nil, pub, time.Now().Unix(), []*Transaction{tx})
	if err := b.ValidateSize(1); err != nil {
		t.Fatalf("expected block at the limit to pass, got %v", err)
	}
	if err := b.ValidateSize(0); err == nil {
		t.Fatal("expected block exceeding block_size to fail")
	}
}

func TestBlockCanonicalJSONRoundTrip(t *testing.T) {
	priv, pub := mustKeyPair(t)
	genesis := NewBlock(nil, pub, time.Now().Unix(), nil)
	if err := genesis.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	data, err := genesis.CanonicalJSON()
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	parsed, err := ParseBlock(data)
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if parsed.Hash != genesis.Hash {
		t.Fatal("round-tripped block hash mismatch")
	}
}

func TestParseBlockRejectsUnknownFields(t *testing.T) {
	_, err := ParseBlock([]byte(`{"index":0,"previous_block":"","timestamp":1,"version":1,"public_key":"ab","signature":"","hash":"","bogus":true}`))
	if err == nil {
		t.Fatal("expected error parsing block with an unknown field")
	}
}
