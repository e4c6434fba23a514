package protocol

import (
	"sort"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/numeric"
)

// MinVaultCollateral is the smallest opening margin, in e8s of ICP.
const MinVaultCollateral = numeric.ICP(100_000)

// Vault is one collateralized debt position.
type Vault struct {
	ID         uint64
	Owner      crypto.Address
	Collateral numeric.ICP
	Debt       numeric.ICUSD
}

// Ratio returns the vault's collateral ratio at the given price.
func (v *Vault) Ratio(price numeric.UsdIcp) numeric.Ratio {
	return numeric.CollateralRatio(v.Collateral, v.Debt, price)
}

func (v *Vault) empty() bool {
	return v.Collateral == 0 && v.Debt == 0
}

// registry holds every open vault, indexed by id and by owner. It is the
// exclusive owner of vault records; mutations stay inside the package and
// are always paired with an emitted event.
type registry struct {
	vaults  map[uint64]*Vault
	byOwner map[crypto.Address]map[uint64]struct{}
	nextID  uint64
}

func newRegistry() *registry {
	return &registry{
		vaults:  make(map[uint64]*Vault),
		byOwner: make(map[crypto.Address]map[uint64]struct{}),
		nextID:  1,
	}
}

// insert records a vault under the given id and advances the id allocator
// past it. Ids are never reused.
func (r *registry) insert(id uint64, owner crypto.Address, collateral numeric.ICP) *Vault {
	v := &Vault{ID: id, Owner: owner, Collateral: collateral}
	r.vaults[id] = v
	owned, ok := r.byOwner[owner]
	if !ok {
		owned = make(map[uint64]struct{})
		r.byOwner[owner] = owned
	}
	owned[id] = struct{}{}
	if id >= r.nextID {
		r.nextID = id + 1
	}
	return v
}

func (r *registry) get(id uint64) (*Vault, bool) {
	v, ok := r.vaults[id]
	return v, ok
}

func (r *registry) remove(id uint64) {
	v, ok := r.vaults[id]
	if !ok {
		return
	}
	delete(r.vaults, id)
	if owned, ok := r.byOwner[v.Owner]; ok {
		delete(owned, id)
		if len(owned) == 0 {
			delete(r.byOwner, v.Owner)
		}
	}
}

func (r *registry) count() int { return len(r.vaults) }

// listByOwner returns the owner's vaults ordered by id.
func (r *registry) listByOwner(owner crypto.Address) []*Vault {
	owned := r.byOwner[owner]
	if len(owned) == 0 {
		return nil
	}
	out := make([]*Vault, 0, len(owned))
	for id := range owned {
		out = append(out, r.vaults[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// totals sums collateral and debt across every vault.
func (r *registry) totals() (numeric.ICP, numeric.ICUSD) {
	var collateral numeric.ICP
	var debt numeric.ICUSD
	for _, v := range r.vaults {
		collateral += v.Collateral
		debt += v.Debt
	}
	return collateral, debt
}

// totalRatio computes the aggregate collateral ratio at the given price.
func (r *registry) totalRatio(price numeric.UsdIcp) numeric.Ratio {
	collateral, debt := r.totals()
	return numeric.CollateralRatio(collateral, debt, price)
}

// sortedByRatio returns every vault ordered by ascending collateral ratio
// at the given price, ties broken by lower id.
func (r *registry) sortedByRatio(price numeric.UsdIcp) []*Vault {
	out := make([]*Vault, 0, len(r.vaults))
	for _, v := range r.vaults {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Ratio(price), out[j].Ratio(price)
		if ri != rj {
			return ri < rj
		}
		return out[i].ID < out[j].ID
	})
	return out
}
