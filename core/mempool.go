package core

import (
	"errors"
	"sync"
)

const maxMempoolSize = 10_000

// Mempool is the pending-transaction queue plus the independently-tracked
// invalid-transaction set (§3 "Lifecycles": a transaction lives in the
// pending queue until included in a block or observed on every live
// branch; txs found invalid at block-creation time move to the invalid
// set rather than being retried forever).
type Mempool struct {
	mu      sync.RWMutex
	pending map[string]*Transaction
	order   []string // insertion order, for deterministic Pending/PopValid
	invalid map[string]*Transaction
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{
		pending: make(map[string]*Transaction),
		invalid: make(map[string]*Transaction),
	}
}

// Add enqueues tx if its signature is valid and it is not already pending.
// Eligibility against registration caches is checked later, at block
// creation or receipt time, since it depends on which branch is in play.
func (m *Mempool) Add(tx *Transaction) error {
	if err := tx.Verify(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) >= maxMempoolSize {
		return errors.New("mempool full")
	}
	h := tx.Hash()
	if _, exists := m.pending[h]; exists {
		return errors.New("transaction already pending")
	}
	m.pending[h] = tx
	m.order = append(m.order, h)
	return nil
}

// Contains reports whether a transaction with this hash is pending.
func (m *Mempool) Contains(hash string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pending[hash]
	return ok
}

// Pending returns up to n pending transactions in insertion order without
// removing them.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, n)
	for _, h := range m.order {
		tx, ok := m.pending[h]
		if !ok {
			continue
		}
		result = append(result, tx)
		if len(result) >= n {
			break
		}
	}
	return result
}

// PopValid removes up to n transactions from the pending queue that
// validate against the given registration caches, in insertion order.
// Transactions that fail validation are moved to the invalid set (and
// their reason discarded along with them, mirroring the original client's
// "drop and move on" block-creation loop) rather than left pending
// forever.
func (m *Mempool) PopValid(n int, admissions, doctors, vaccines map[string]bool) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var valid []*Transaction
	var consumed []string
	for _, h := range m.order {
		if len(valid) >= n {
			break
		}
		tx, ok := m.pending[h]
		if !ok {
			continue
		}
		consumed = append(consumed, h)
		if ok, _ := tx.Validate(admissions, doctors, vaccines); ok {
			valid = append(valid, tx)
		} else {
			m.invalid[h] = tx
		}
	}
	m.removeLocked(consumed)
	return valid
}

// Remove deletes transactions by hash, e.g. after they are observed
// included in an accepted block.
func (m *Mempool) Remove(hashes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(hashes)
}

func (m *Mempool) removeLocked(hashes []string) {
	removed := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		delete(m.pending, h)
		removed[h] = true
	}
	filtered := m.order[:0]
	for _, h := range m.order {
		if !removed[h] {
			filtered = append(filtered, h)
		}
	}
	m.order = filtered
}

// Requeue re-adds transactions freed by a dead-branch relocation so they
// are reconsidered for inclusion in a future block.
func (m *Mempool) Requeue(txs []*Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		h := tx.Hash()
		if _, exists := m.pending[h]; exists {
			continue
		}
		if len(m.pending) >= maxMempoolSize {
			break
		}
		m.pending[h] = tx
		m.order = append(m.order, h)
	}
}

// InvalidTransactions returns a snapshot of transactions that failed
// validation at block-creation time.
func (m *Mempool) InvalidTransactions() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transaction, 0, len(m.invalid))
	for _, tx := range m.invalid {
		out = append(out, tx)
	}
	return out
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}
