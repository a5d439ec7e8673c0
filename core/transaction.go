package core

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

// TxType identifies which of the three transaction variants a Transaction
// carries. Dispatch on this tag replaces runtime type identity: every
// operation on Transaction switches over Type rather than relying on a
// registry.
type TxType string

const (
	TxVaccination TxType = "vaccination"
	TxVaccine     TxType = "vaccine"
	TxPermission  TxType = "permission"
)

// PermissionKind is the role a Permission transaction grants.
type PermissionKind string

const (
	PermissionPatient   PermissionKind = "patient"
	PermissionDoctor    PermissionKind = "doctor"
	PermissionAdmission PermissionKind = "admission"
)

var (
	ErrAlreadySigned    = errors.New("transaction already signed")
	ErrUnknownTxType    = errors.New("unknown transaction type")
	ErrWrongKeyCount    = errors.New("wrong number of signing keys for transaction type")
	ErrTransactionUnsigned = errors.New("transaction is unsigned")
)

// Transaction is the tagged-variant envelope shared by all three kinds of
// operation the chain accepts. Fields are declared in the order they are
// serialized; encoding/json.Marshal preserves struct field order, which
// gives us the deterministic, ordered wire form the protocol requires
// without a custom encoder.
type Transaction struct {
	Type      TxType `json:"type"`
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`

	// Vaccination fields.
	DoctorPubKey  string `json:"doctor_pub_key,omitempty"`
	PatientPubKey string `json:"patient_pub_key,omitempty"`

	// Vaccine fields (Vaccine shares the Vaccine name field below).
	AdmissionPubKey string `json:"admission_pub_key,omitempty"`

	// Shared by Vaccination and Vaccine.
	Vaccine string `json:"vaccine,omitempty"`

	// Permission fields.
	PermissionKind PermissionKind `json:"permission_kind,omitempty"`
	SenderPubKey   string         `json:"sender_pub_key,omitempty"`

	// Signature holds one hex-encoded ed25519 signature for Vaccine and
	// Permission transactions. For Vaccination it holds the doctor's and
	// patient's signatures concatenated, doctor first (each is 128 hex
	// chars), per the fixed signing order the protocol mandates.
	Signature string `json:"signature,omitempty"`
}

// NewVaccinationTransaction builds an unsigned Vaccination transaction.
func NewVaccinationTransaction(doctorPub, patientPub crypto.PublicKey, vaccine string, version int, timestamp int64) *Transaction {
	return &Transaction{
		Type:          TxVaccination,
		Version:       version,
		Timestamp:     timestamp,
		DoctorPubKey:  doctorPub.Hex(),
		PatientPubKey: patientPub.Hex(),
		Vaccine:       vaccine,
	}
}

// NewVaccineTransaction builds an unsigned Vaccine registration transaction.
func NewVaccineTransaction(admissionPub crypto.PublicKey, vaccine string, version int, timestamp int64) *Transaction {
	return &Transaction{
		Type:            TxVaccine,
		Version:         version,
		Timestamp:       timestamp,
		AdmissionPubKey: admissionPub.Hex(),
		Vaccine:         vaccine,
	}
}

// NewPermissionTransaction builds an unsigned Permission grant transaction.
func NewPermissionTransaction(kind PermissionKind, senderPub crypto.PublicKey, version int, timestamp int64) *Transaction {
	return &Transaction{
		Type:           TxPermission,
		Version:        version,
		Timestamp:      timestamp,
		PermissionKind: kind,
		SenderPubKey:   senderPub.Hex(),
	}
}

// unsigned returns a copy of tx with the signature field cleared, used both
// to build the bytes a signature covers and to recompute them on verify.
func (tx Transaction) unsigned() Transaction {
	tx.Signature = ""
	return tx
}

func (tx *Transaction) signingBytes() ([]byte, error) {
	return json.Marshal(tx.unsigned())
}

// Sign signs the transaction. Vaccination transactions require exactly two
// keys (doctor, then patient); Vaccine and Permission require exactly one.
// Signing an already-signed transaction is rejected.
func (tx *Transaction) Sign(keys ...crypto.PrivateKey) error {
	if tx.Signature != "" {
		return ErrAlreadySigned
	}
	msg, err := tx.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	switch tx.Type {
	case TxVaccination:
		if len(keys) != 2 {
			return fmt.Errorf("%w: vaccination wants 2, got %d", ErrWrongKeyCount, len(keys))
		}
		tx.Signature = crypto.Sign(keys[0], msg) + crypto.Sign(keys[1], msg)
	case TxVaccine, TxPermission:
		if len(keys) != 1 {
			return fmt.Errorf("%w: %s wants 1, got %d", ErrWrongKeyCount, tx.Type, len(keys))
		}
		tx.Signature = crypto.Sign(keys[0], msg)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTxType, tx.Type)
	}
	return nil
}

const hexSigLen = 128 // ed25519 signature: 64 bytes hex-encoded

// Verify checks the transaction's signature(s) without consulting
// registration caches. Use Validate for the full variant-specific check.
func (tx *Transaction) Verify() error {
	if tx.Signature == "" {
		return ErrTransactionUnsigned
	}
	msg, err := tx.signingBytes()
	if err != nil {
		return fmt.Errorf("marshal signing body: %w", err)
	}
	switch tx.Type {
	case TxVaccination:
		if len(tx.Signature) != 2*hexSigLen {
			return errors.New("vaccination signature has wrong length")
		}
		doctorPub, err := crypto.PubKeyFromHex(tx.DoctorPubKey)
		if err != nil {
			return fmt.Errorf("doctor pubkey: %w", err)
		}
		patientPub, err := crypto.PubKeyFromHex(tx.PatientPubKey)
		if err != nil {
			return fmt.Errorf("patient pubkey: %w", err)
		}
		if err := crypto.Verify(doctorPub, msg, tx.Signature[:hexSigLen]); err != nil {
			return fmt.Errorf("doctor signature: %w", err)
		}
		if err := crypto.Verify(patientPub, msg, tx.Signature[hexSigLen:]); err != nil {
			return fmt.Errorf("patient signature: %w", err)
		}
		return nil
	case TxVaccine:
		pub, err := crypto.PubKeyFromHex(tx.AdmissionPubKey)
		if err != nil {
			return fmt.Errorf("admission pubkey: %w", err)
		}
		return crypto.Verify(pub, msg, tx.Signature)
	case TxPermission:
		pub, err := crypto.PubKeyFromHex(tx.SenderPubKey)
		if err != nil {
			return fmt.Errorf("sender pubkey: %w", err)
		}
		return crypto.Verify(pub, msg, tx.Signature)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTxType, tx.Type)
	}
}

// Validate checks the transaction's signature and, per variant, its
// eligibility against the registration caches computed at some branch hash.
// It returns false with a human-readable reason on failure.
func (tx *Transaction) Validate(admissions, doctors, vaccines map[string]bool) (bool, string) {
	if err := tx.Verify(); err != nil {
		return false, "signature invalid: " + err.Error()
	}
	switch tx.Type {
	case TxVaccination:
		if !doctors[tx.DoctorPubKey] {
			return false, "doctor not registered"
		}
		if !vaccines[tx.Vaccine] {
			return false, "vaccine not registered"
		}
		return true, ""
	case TxVaccine:
		if !admissions[tx.AdmissionPubKey] {
			return false, "sender not an admission"
		}
		return true, ""
	case TxPermission:
		switch tx.PermissionKind {
		case PermissionPatient, PermissionDoctor, PermissionAdmission:
		default:
			return false, "unknown permission kind"
		}
		return true, ""
	default:
		return false, "unknown transaction type"
	}
}

// Hash returns the sha256 hex digest of the transaction's canonical form,
// signature included, used for equality and for block content hashing.
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(tx)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Equal reports whether two transactions serialize identically.
func (tx *Transaction) Equal(other *Transaction) bool {
	if other == nil {
		return false
	}
	return tx.Hash() == other.Hash()
}

// CanonicalJSON returns the transaction's deterministic wire form.
func (tx *Transaction) CanonicalJSON() ([]byte, error) {
	return json.Marshal(tx)
}

// ParseTransaction decodes a transaction from its canonical wire form using
// strict JSON unmarshalling. Unknown fields and malformed input are
// rejected outright; the payload is never evaluated as code.
func ParseTransaction(data []byte) (*Transaction, error) {
	dec := json.NewDecoder(newLimitedReader(data))
	dec.DisallowUnknownFields()
	var tx Transaction
	if err := dec.Decode(&tx); err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	switch tx.Type {
	case TxVaccination, TxVaccine, TxPermission:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTxType, tx.Type)
	}
	return &tx, nil
}

// hexDecodeLen returns the decoded byte length of the hex string s, or the
// decoding error.
func hexDecodeLen(s string) (int, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
