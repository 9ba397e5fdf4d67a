package authority

import (
	"sync"

	"github.com/corechain/corenet/common"
)

// KeyWeight is one (key, weight) entry of a permission's key list.
type KeyWeight struct {
	Key    common.PubKey
	Weight uint32
}

// LevelWeight is one (permission_level, weight) entry of a permission's
// authorizing list — another account's permission that can satisfy this
// one, e.g. delegated authority.
type LevelWeight struct {
	Level  PermissionLevel
	Weight uint32
}

// Permission is the authority-index record for one (account, permission)
// pair (spec.md §4.7).
type Permission struct {
	Account    string
	Name       string
	Threshold  uint32
	Keys       []KeyWeight
	Authorizes []LevelWeight // other levels whose authority this one delegates from
}

// delta is one permission's before/after state for a single committed
// block, enough to reconstruct the index on rollback (spec.md §4.7:
// "maintain a per-block delta for rollback").
type delta struct {
	account, name string
	before        *Permission // nil if the permission did not exist before
}

// blockDeltas is the ordered set of deltas applied by one committed block.
type blockDeltas struct {
	blockNum uint32
	blockID  common.Hash
	deltas   []delta
}

// Index is the account-permission authority index (spec.md §4.7),
// grounded on the original's account_query_db: maintained by
// committed-block deltas, queried under a shared lock, rolled back on
// reorg. Permissions are stored flat, keyed by "account/name", matching
// the original's account_name+permission_name composite key.
type Index struct {
	mu          sync.RWMutex
	permissions map[string]*Permission
	log         []*blockDeltas
}

// NewIndex creates an empty authority index.
func NewIndex() *Index {
	return &Index{permissions: make(map[string]*Permission)}
}

func key(account, name string) string { return account + "/" + name }

// Lookup returns the current Permission record for (account, name), if any.
func (idx *Index) Lookup(account, name string) (*Permission, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	p, ok := idx.permissions[key(account, name)]
	return p, ok
}

// BeginBlock starts accumulating deltas for a new block.
func (idx *Index) BeginBlock(num uint32, id common.Hash) *blockDeltas {
	return &blockDeltas{blockNum: num, blockID: id}
}

// ApplyPermission sets or replaces a permission's record within an
// in-progress block's delta set, recording its prior state for rollback.
// Call CommitBlock once every action in the block has been applied.
func (idx *Index) ApplyPermission(bd *blockDeltas, p *Permission) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := key(p.Account, p.Name)
	prev := idx.permissions[k] // nil if new
	bd.deltas = append(bd.deltas, delta{account: p.Account, name: p.Name, before: prev})
	idx.permissions[k] = p
}

// RemovePermission deletes a permission's record within an in-progress
// block's delta set, recording its prior state for rollback.
func (idx *Index) RemovePermission(bd *blockDeltas, account, name string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	k := key(account, name)
	prev, existed := idx.permissions[k]
	if !existed {
		return
	}
	bd.deltas = append(bd.deltas, delta{account: account, name: name, before: prev})
	delete(idx.permissions, k)
}

// CommitBlock finalizes bd's deltas into the rollback log. The index has
// already reflected every ApplyPermission/RemovePermission call made
// against bd, so by the time CommitBlock returns the index is fully
// consistent with the committed block (spec.md §4.7: "any reorg MUST be
// reflected before returning from commit_block").
func (idx *Index) CommitBlock(bd *blockDeltas) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.log = append(idx.log, bd)
}

// RevertTo rolls the index back to its state immediately before the block
// at blockNum was committed, undoing that block and every block after it
// in the log (spec.md §8: "Authority rollback").
func (idx *Index) RevertTo(blockNum uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	i := len(idx.log) - 1
	for i >= 0 && idx.log[i].blockNum >= blockNum {
		bd := idx.log[i]
		for j := len(bd.deltas) - 1; j >= 0; j-- {
			d := bd.deltas[j]
			k := key(d.account, d.name)
			if d.before == nil {
				delete(idx.permissions, k)
			} else {
				idx.permissions[k] = d.before
			}
		}
		i--
	}
	idx.log = idx.log[:i+1]
}

// GetAccountsByAuthorizers answers the query described in spec.md §4.7.
func (idx *Index) GetAccountsByAuthorizers(params GetAccountsByAuthorizersParams) GetAccountsByAuthorizersResult {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var out []AccountResult

	for _, key := range idx.keysForQuery(params.Keys) {
		for _, p := range idx.permissions {
			for _, kw := range p.Keys {
				if kw.Key == key {
					out = append(out, AccountResult{
						AccountName:    p.Account,
						PermissionName: p.Name,
						AuthorizingKey: pubkeyPtr(key),
						Weight:         kw.Weight,
						Threshold:      p.Threshold,
					})
				}
			}
		}
	}

	for _, want := range params.Accounts {
		for _, p := range idx.permissions {
			for _, lw := range p.Authorizes {
				if levelMatchesQuery(lw.Level, want) {
					out = append(out, AccountResult{
						AccountName:        p.Account,
						PermissionName:     p.Name,
						AuthorizingAccount: &lw.Level,
						Weight:             lw.Weight,
						Threshold:          p.Threshold,
					})
				}
			}
		}
	}

	return GetAccountsByAuthorizersResult{Accounts: out}
}

func levelMatchesQuery(level PermissionLevel, want PermissionLevel) bool {
	if level.Actor != want.Actor {
		return false
	}
	return want.Permission == "" || level.Permission == want.Permission
}

func (idx *Index) keysForQuery(keys []common.PubKey) []common.PubKey { return keys }

func pubkeyPtr(k common.PubKey) *common.PubKey { return &k }
