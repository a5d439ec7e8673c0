// Package indexer maintains secondary indexes over accepted vaccinations so
// callers can query a patient's or a doctor's vaccination history without
// walking the chain tree and refolding transactions.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/Benedikt1992/blockchain-vaccination-records/core"
	"github.com/Benedikt1992/blockchain-vaccination-records/events"
	"github.com/Benedikt1992/blockchain-vaccination-records/storage"
)

const (
	prefixPatientVaccinations = "idx:patient:vaccination:"
	prefixDoctorVaccinations  = "idx:doctor:vaccination:"
)

// vaccinationRecord is the denormalized entry the index stores per patient
// or per doctor.
type vaccinationRecord struct {
	BlockHash     string `json:"block_hash"`
	DoctorPubKey  string `json:"doctor_pub_key"`
	PatientPubKey string `json:"patient_pub_key"`
	Vaccine       string `json:"vaccine"`
}

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventVaccinationTx, idx.onVaccinationRecorded)
	return idx
}

// GetVaccinationsByPatient returns every vaccination recorded for patient,
// across all accepted blocks this node has seen.
func (idx *Indexer) GetVaccinationsByPatient(patientPubKey string) ([]vaccinationRecord, error) {
	return idx.getList(prefixPatientVaccinations + patientPubKey)
}

// GetVaccinationsByDoctor returns every vaccination administered by doctor.
func (idx *Indexer) GetVaccinationsByDoctor(doctorPubKey string) ([]vaccinationRecord, error) {
	return idx.getList(prefixDoctorVaccinations + doctorPubKey)
}

// ---- event handlers ----

func (idx *Indexer) onVaccinationRecorded(ev events.Event) {
	doctor, _ := ev.Data["doctor_pub_key"].(string)
	patient, _ := ev.Data["patient_pub_key"].(string)
	vaccine, _ := ev.Data["vaccine"].(string)
	blockHash, _ := ev.Data["block_hash"].(string)
	if doctor == "" || patient == "" || vaccine == "" {
		return
	}
	rec := vaccinationRecord{BlockHash: blockHash, DoctorPubKey: doctor, PatientPubKey: patient, Vaccine: vaccine}
	if err := idx.addToList(prefixPatientVaccinations+patient, rec); err != nil {
		log.Printf("[indexer] patient index write failed (patient=%s): %v", patient, err)
	}
	if err := idx.addToList(prefixDoctorVaccinations+doctor, rec); err != nil {
		log.Printf("[indexer] doctor index write failed (doctor=%s): %v", doctor, err)
	}
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]vaccinationRecord, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var recs []vaccinationRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return recs, nil
}

func (idx *Indexer) addToList(key string, rec vaccinationRecord) error {
	recs, err := idx.getList(key)
	if err != nil {
		return fmt.Errorf("read list: %w", err)
	}
	for _, existing := range recs {
		if existing == rec {
			return nil // already present
		}
	}
	recs = append(recs, rec)
	data, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
