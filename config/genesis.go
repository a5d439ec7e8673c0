package config

import (
	"fmt"

	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/crypto"
)

// BuildGenesisBlock assembles block #0 from the config's bootstrap set.
// Each founding admission is granted via a self-signed
// Permission(Admission) transaction, and each bootstrap vaccine via a
// Vaccine transaction signed by the first admission -- ordinary
// transactions, since Permission grants need no prior eligibility beyond
// a valid signature. The block itself is signed by creatorPriv, which
// must belong to the first configured admission.
func BuildGenesisBlock(cfg *Config, creatorPriv crypto.PrivateKey) (*core.Block, error) {
	if len(cfg.Genesis.Admissions) == 0 {
		return nil, fmt.Errorf("genesis config declares no founding admissions")
	}

	var txs []*core.Transaction
	for _, adm := range cfg.Genesis.Admissions {
		admPriv, err := crypto.PrivKeyFromHex(adm.PrivKeyHex)
		if err != nil {
			return nil, fmt.Errorf("genesis admission %s: %w", adm.PubKeyHex, err)
		}
		tx := core.NewPermissionTransaction(core.PermissionAdmission, admPriv.Public(), cfg.Version, cfg.Genesis.Timestamp)
		if err := tx.Sign(admPriv); err != nil {
			return nil, fmt.Errorf("sign genesis admission tx: %w", err)
		}
		txs = append(txs, tx)
	}

	firstAdmPriv, err := crypto.PrivKeyFromHex(cfg.Genesis.Admissions[0].PrivKeyHex)
	if err != nil {
		return nil, fmt.Errorf("genesis first admission: %w", err)
	}
	for _, vaccine := range cfg.Genesis.Vaccines {
		tx := core.NewVaccineTransaction(firstAdmPriv.Public(), vaccine, cfg.Version, cfg.Genesis.Timestamp)
		if err := tx.Sign(firstAdmPriv); err != nil {
			return nil, fmt.Errorf("sign genesis vaccine tx: %w", err)
		}
		txs = append(txs, tx)
	}

	block := core.NewBlock(nil, creatorPriv.Public(), cfg.Genesis.Timestamp, txs)
	if err := block.Sign(creatorPriv); err != nil {
		return nil, fmt.Errorf("sign genesis block: %w", err)
	}
	return block, nil
}
