package authority

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corechain/corenet/common"
)

func TestPermissionLevelJSONBareString(t *testing.T) {
	var p PermissionLevel
	require.NoError(t, p.UnmarshalJSON([]byte(`"alice"`)))
	require.Equal(t, "alice", p.Actor)
	require.Equal(t, "", p.Permission)

	out, err := p.MarshalJSON()
	require.NoError(t, err)
	require.Equal(t, `"alice"`, string(out))
}

func TestPermissionLevelJSONObject(t *testing.T) {
	var p PermissionLevel
	require.NoError(t, p.UnmarshalJSON([]byte(`{"actor":"alice","permission":"active"}`)))
	require.Equal(t, "alice", p.Actor)
	require.Equal(t, "active", p.Permission)
}

func TestPermissionLevelJSONMissingActor(t *testing.T) {
	var p PermissionLevel
	err := p.UnmarshalJSON([]byte(`{"permission":"active"}`))
	require.Error(t, err)
	var invalid *InvalidRequestError
	require.ErrorAs(t, err, &invalid)
}

func TestPermissionLevelJSONExtraFields(t *testing.T) {
	var p PermissionLevel
	err := p.UnmarshalJSON([]byte(`{"actor":"alice","permission":"active","extra":"x"}`))
	require.Error(t, err)
}

func pk(b byte) common.PubKey {
	var k common.PubKey
	k[0] = b
	return k
}

// TestGetAccountsByAuthorizersSoundness reproduces spec.md §8 scenario 5:
// alice has active (threshold 2, keys K1,K2) and owner (threshold 1, key K3).
func TestGetAccountsByAuthorizersSoundness(t *testing.T) {
	idx := NewIndex()
	bd := idx.BeginBlock(1, common.Hash{})
	idx.ApplyPermission(bd, &Permission{
		Account: "alice", Name: "active", Threshold: 2,
		Keys: []KeyWeight{{Key: pk(1), Weight: 1}, {Key: pk(2), Weight: 1}},
	})
	idx.ApplyPermission(bd, &Permission{
		Account: "alice", Name: "owner", Threshold: 1,
		Keys: []KeyWeight{{Key: pk(3), Weight: 1}},
	})
	idx.CommitBlock(bd)

	result := idx.GetAccountsByAuthorizers(GetAccountsByAuthorizersParams{
		Accounts: []PermissionLevel{{Actor: "alice"}},
		Keys:     []common.PubKey{pk(1), pk(2), pk(3)},
	})

	require.Len(t, result.Accounts, 3)
	for _, row := range result.Accounts {
		require.Equal(t, "alice", row.AccountName)
		require.NotNil(t, row.AuthorizingKey)
		require.Nil(t, row.AuthorizingAccount)
	}
}

// TestRollbackRestoresPriorState reproduces spec.md §8's Authority
// rollback invariant: after commit_block(B) and a revert of B, the index
// matches its pre-commit state exactly.
func TestRollbackRestoresPriorState(t *testing.T) {
	idx := NewIndex()

	bd1 := idx.BeginBlock(1, common.Hash{})
	idx.ApplyPermission(bd1, &Permission{Account: "alice", Name: "active", Threshold: 1,
		Keys: []KeyWeight{{Key: pk(1), Weight: 1}}})
	idx.CommitBlock(bd1)

	before, ok := idx.Lookup("alice", "active")
	require.True(t, ok)
	require.Equal(t, uint32(1), before.Threshold)

	bd2 := idx.BeginBlock(2, common.Hash{})
	idx.ApplyPermission(bd2, &Permission{Account: "alice", Name: "active", Threshold: 2,
		Keys: []KeyWeight{{Key: pk(1), Weight: 1}, {Key: pk(2), Weight: 1}}})
	idx.CommitBlock(bd2)

	after, ok := idx.Lookup("alice", "active")
	require.True(t, ok)
	require.Equal(t, uint32(2), after.Threshold)

	idx.RevertTo(2)

	reverted, ok := idx.Lookup("alice", "active")
	require.True(t, ok)
	require.Equal(t, before, reverted)
}

func TestRevertRemovesPermissionIntroducedByRevertedBlock(t *testing.T) {
	idx := NewIndex()
	bd := idx.BeginBlock(1, common.Hash{})
	idx.ApplyPermission(bd, &Permission{Account: "bob", Name: "active", Threshold: 1})
	idx.CommitBlock(bd)

	_, ok := idx.Lookup("bob", "active")
	require.True(t, ok)

	idx.RevertTo(1)

	_, ok = idx.Lookup("bob", "active")
	require.False(t, ok)
}

func TestGetAccountsByAuthorizersDelegatedLevel(t *testing.T) {
	idx := NewIndex()
	bd := idx.BeginBlock(1, common.Hash{})
	idx.ApplyPermission(bd, &Permission{
		Account: "dao", Name: "active", Threshold: 1,
		Authorizes: []LevelWeight{{Level: PermissionLevel{Actor: "alice", Permission: "active"}, Weight: 1}},
	})
	idx.CommitBlock(bd)

	result := idx.GetAccountsByAuthorizers(GetAccountsByAuthorizersParams{
		Accounts: []PermissionLevel{{Actor: "alice", Permission: "active"}},
	})
	require.Len(t, result.Accounts, 1)
	require.Equal(t, "dao", result.Accounts[0].AccountName)
	require.Equal(t, "alice", result.Accounts[0].AuthorizingAccount.Actor)
}
