// Package authority maintains an account-permission authority index kept
// in step with committed blocks, and answers get_accounts_by_authorizers
// queries over it (spec.md §4.7). JSON is the standard library's
// encoding/json: no third-party JSON library appears in any retrieved
// example's go.mod, so this is a stdlib-only component by necessity, not
// by default (see DESIGN.md).
package authority

import (
	"encoding/json"
	"fmt"

	"github.com/corechain/corenet/common"
)

// PermissionLevel identifies a permission, or — when Permission is empty —
// any permission of Actor. It marshals as a bare string when Permission is
// empty and as {"actor","permission"} otherwise, mirroring the original
// account_query_db.hpp to_variant/from_variant overload (spec.md §6).
type PermissionLevel struct {
	Actor      string
	Permission string
}

// MarshalJSON implements the bare-string/object sum type.
func (p PermissionLevel) MarshalJSON() ([]byte, error) {
	if p.Permission == "" {
		return json.Marshal(p.Actor)
	}
	return json.Marshal(struct {
		Actor      string `json:"actor"`
		Permission string `json:"permission"`
	}{p.Actor, p.Permission})
}

// UnmarshalJSON accepts either a bare actor string or an {actor,
// permission} object. A missing actor is an invalid-request error; extra
// fields are rejected (spec.md §6).
func (p *PermissionLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Actor, p.Permission = s, ""
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return &InvalidRequestError{Msg: fmt.Sprintf("permission_level is neither a string nor an object: %v", err)}
	}
	actorRaw, hasActor := obj["actor"]
	if !hasActor {
		return &InvalidRequestError{Msg: "Missing Actor field"}
	}
	permRaw, hasPerm := obj["permission"]
	switch {
	case hasPerm && len(obj) == 2:
		var actor, perm string
		if err := json.Unmarshal(actorRaw, &actor); err != nil {
			return &InvalidRequestError{Msg: "invalid actor field"}
		}
		if err := json.Unmarshal(permRaw, &perm); err != nil {
			return &InvalidRequestError{Msg: "invalid permission field"}
		}
		p.Actor, p.Permission = actor, perm
	case len(obj) == 1:
		var actor string
		if err := json.Unmarshal(actorRaw, &actor); err != nil {
			return &InvalidRequestError{Msg: "invalid actor field"}
		}
		p.Actor, p.Permission = actor, ""
	default:
		return &InvalidRequestError{Msg: "Unrecognized fields in account"}
	}
	return nil
}

// InvalidRequestError reports a malformed Authority RPC payload (spec.md
// §7: "InvalidHttpRequest (Authority RPC only) — 400-class response").
type InvalidRequestError struct{ Msg string }

func (e *InvalidRequestError) Error() string { return "authority: invalid request: " + e.Msg }

// GetAccountsByAuthorizersParams is the query payload (spec.md §4.7).
type GetAccountsByAuthorizersParams struct {
	Accounts []PermissionLevel `json:"accounts"`
	Keys     []common.PubKey   `json:"keys"`
}

// AccountResult is one row of a get_accounts_by_authorizers response.
type AccountResult struct {
	AccountName        string           `json:"account_name"`
	PermissionName     string           `json:"permission_name"`
	AuthorizingAccount *PermissionLevel `json:"authorizing_account,omitempty"`
	AuthorizingKey     *common.PubKey   `json:"authorizing_key,omitempty"`
	Weight             uint32           `json:"weight"`
	Threshold          uint32           `json:"threshold"`
}

// GetAccountsByAuthorizersResult wraps the result rows.
type GetAccountsByAuthorizersResult struct {
	Accounts []AccountResult `json:"accounts"`
}
