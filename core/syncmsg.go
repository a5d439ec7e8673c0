package core

import (
	"encoding/json"
	"fmt"
)

// SyncRequest carries the sync anchor: the requester's first-branching
// block (or genesis), per spec §4.9. The responder walks forward from
// this hash and answers asynchronously via normal block/judgement
// delivery.
type SyncRequest struct {
	AnchorHash string `json:"anchor_hash"`
}

// CanonicalJSON returns the deterministic wire form of a sync request.
func (r *SyncRequest) CanonicalJSON() ([]byte, error) {
	return json.Marshal(r)
}

// ParseSyncRequest decodes a sync request via strict JSON unmarshalling.
func ParseSyncRequest(data []byte) (*SyncRequest, error) {
	dec := json.NewDecoder(newLimitedReader(data))
	dec.DisallowUnknownFields()
	var r SyncRequest
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("parse sync request: %w", err)
	}
	return &r, nil
}
