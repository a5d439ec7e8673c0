package core

import "testing"

func signedVaccineTx(t *testing.T, vaccine string) *Transaction {
	t.Helper()
	priv, pub := mustKeyPair(t)
	tx := NewVaccineTransaction(pub, vaccine, ProtocolVersion, 1000)
	if err := tx.Sign(priv); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tx
}

func TestMempoolAddAndPending(t *testing.T) {
	m := NewMempool()
	tx := signedVaccineTx(t, "moderna")
	if err := m.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !m.Contains(tx.Hash()) {
		t.Fatal("expected mempool to contain the added transaction")
	}
	pending := m.Pending(10)
	if len(pending) != 1 || pending[0].Hash() != tx.Hash() {
		t.Fatal("expected Pending to return the added transaction")
	}
}

func TestMempoolAddRejectsUnsigned(t *testing.T) {
	m := NewMempool()
	_, pub := mustKeyPair(t)
	tx := NewVaccineTransaction(pub, "moderna", ProtocolVersion, 1000)
	if err := m.Add(tx); err == nil {
		t.Fatal("expected error adding an unsigned transaction")
	}
}

func TestMempoolAddRejectsDuplicate(t *testing.T) {
	m := NewMempool()
	tx := signedVaccineTx(t, "moderna")
	if err := m.Add(tx); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := m.Add(tx); err == nil {
		t.Fatal("expected error adding the same transaction twice")
	}
}

func TestMempoolPopValidSeparatesInvalid(t *testing.T) {
	m := NewMempool()
	validPriv, validPub := mustKeyPair(t)
	validTx := NewVaccineTransaction(validPub, "moderna", ProtocolVersion, 1000)
	if err := validTx.Sign(validPriv); err != nil {
		t.Fatalf("Sign valid: %v", err)
	}
	invalidTx := signedVaccineTx(t, "pfizer") // signer will not be in the admissions set

	if err := m.Add(validTx); err != nil {
		t.Fatalf("Add valid: %v", err)
	}
	if err := m.Add(invalidTx); err != nil {
		t.Fatalf("Add invalid: %v", err)
	}

	admissions := map[string]bool{validPub.Hex(): true}
	popped := m.PopValid(10, admissions, nil, nil)
	if len(popped) != 1 || popped[0].Hash() != validTx.Hash() {
		t.Fatal("expected PopValid to return only the valid transaction")
	}
	if m.Contains(validTx.Hash()) || m.Contains(invalidTx.Hash()) {
		t.Fatal("expected both transactions to be removed from pending after PopValid")
	}
	invalid := m.InvalidTransactions()
	if len(invalid) != 1 || invalid[0].Hash() != invalidTx.Hash() {
		t.Fatal("expected the rejected transaction to move to the invalid set")
	}
}

func TestMempoolPopValidRespectsLimit(t *testing.T) {
	m := NewMempool()
	var admissions = map[string]bool{}
	for i := 0; i < 3; i++ {
		priv, pub := mustKeyPair(t)
		tx := NewVaccineTransaction(pub, "moderna", ProtocolVersion, int64(i))
		if err := tx.Sign(priv); err != nil {
			t.Fatalf("Sign: %v", err)
		}
		admissions[pub.Hex()] = true
		if err := m.Add(tx); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	popped := m.PopValid(2, admissions, nil, nil)
	if len(popped) != 2 {
		t.Fatalf("expected PopValid(2, ...) to return 2 transactions, got %d", len(popped))
	}
	if m.Size() != 1 {
		t.Fatalf("expected 1 transaction to remain pending, got %d", m.Size())
	}
}

func TestMempoolRequeueSkipsAlreadyPending(t *testing.T) {
	m := NewMempool()
	tx := signedVaccineTx(t, "moderna")
	if err := m.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m.Requeue([]*Transaction{tx})
	if m.Size() != 1 {
		t.Fatalf("expected Requeue to not duplicate an already-pending transaction, size=%d", m.Size())
	}
}

func TestMempoolRemove(t *testing.T) {
	m := NewMempool()
	tx := signedVaccineTx(t, "moderna")
	if err := m.Add(tx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	m.Remove([]string{tx.Hash()})
	if m.Contains(tx.Hash()) {
		t.Fatal("expected transaction to be removed")
	}
}
