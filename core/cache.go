package core

// RegistrationCache is the result of folding a branch's transactions into
// the three sets the protocol cares about: who may produce/judge blocks,
// who may sign as a doctor, and which vaccine names are registered. There
// is no revocation in the core protocol -- grants are monotonic along a
// branch, so folding is a pure, order-independent union once genesis-to-
// leaf ordering is respected for determinism.
type RegistrationCache struct {
	Admissions map[string]bool
	Doctors    map[string]bool
	Vaccines   map[string]bool
}

// newEmptyCache returns a cache with no entries.
func newEmptyCache() *RegistrationCache {
	return &RegistrationCache{
		Admissions: make(map[string]bool),
		Doctors:    make(map[string]bool),
		Vaccines:   make(map[string]bool),
	}
}

// clone deep-copies the cache so callers can mutate the result of a fold
// without corrupting a memoized entry.
func (c *RegistrationCache) clone() *RegistrationCache {
	out := newEmptyCache()
	for k := range c.Admissions {
		out.Admissions[k] = true
	}
	for k := range c.Doctors {
		out.Doctors[k] = true
	}
	for k := range c.Vaccines {
		out.Vaccines[k] = true
	}
	return out
}

// applyTransaction updates the cache in place with the effect of a single
// transaction. Vaccination transactions have no cache effect -- they only
// record a fact, they do not grant anything.
func (c *RegistrationCache) applyTransaction(tx *Transaction) {
	switch tx.Type {
	case TxVaccine:
		c.Vaccines[tx.Vaccine] = true
	case TxPermission:
		switch tx.PermissionKind {
		case PermissionAdmission:
			c.Admissions[tx.SenderPubKey] = true
		case PermissionDoctor:
			c.Doctors[tx.SenderPubKey] = true
		case PermissionPatient:
			// Patient grants do not feed any of the three tallied sets;
			// patients are identified per-transaction, not cached.
		}
	case TxVaccination:
		// No cache effect; validity was already checked against the
		// caches at insertion time.
	}
}

// foldRegistrationCache builds the registration cache for the end of path,
// where path is ordered genesis-first, leaf-last. initial is the starting
// cache (the chain passes an empty one; the genesis grants come from the
// genesis block's own transactions in path).
func foldRegistrationCache(initial *RegistrationCache, path []*Block) *RegistrationCache {
	cache := initial.clone()
	for _, block := range path {
		for _, tx := range block.Transactions {
			cache.applyTransaction(tx)
		}
	}
	return cache
}
