package wallet

import (
	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers for the
// three transaction variants: vaccination records, vaccine registrations,
// and permission grants.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key.
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// Vaccinate builds an unsigned Vaccination transaction recording that the
// doctor identified by this wallet administered vaccine to patientPub.
// The caller must sign it with both the doctor's and the patient's private
// keys via tx.Sign(doctorPriv, patientPriv) before it is valid.
func (w *Wallet) Vaccinate(patientPub crypto.PublicKey, vaccine string, version int, timestamp int64) *core.Transaction {
	return core.NewVaccinationTransaction(w.pub, patientPub, vaccine, version, timestamp)
}

// RegisterVaccine builds and signs a Vaccine registration transaction. The
// wallet's key must belong to a registered admission for it to validate.
func (w *Wallet) RegisterVaccine(vaccine string, version int, timestamp int64) (*core.Transaction, error) {
	tx := core.NewVaccineTransaction(w.pub, vaccine, version, timestamp)
	if err := tx.Sign(w.priv); err != nil {
		return nil, err
	}
	return tx, nil
}

// GrantPermission builds and signs a Permission transaction of the given
// kind. Permission transactions require no prior eligibility beyond a
// valid signature -- block producers decide whether to include them.
func (w *Wallet) GrantPermission(kind core.PermissionKind, version int, timestamp int64) (*core.Transaction, error) {
	tx := core.NewPermissionTransaction(kind, w.pub, version, timestamp)
	if err := tx.Sign(w.priv); err != nil {
		return nil, err
	}
	return tx, nil
}
