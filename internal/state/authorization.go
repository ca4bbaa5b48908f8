package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// AuthorizationKey is an (authorizer, delegate) pair.
type AuthorizationKey struct {
	Authorizer common.Address `json:"authorizer"`
	Delegate   common.Address `json:"delegate"`
}

// Authorizations records which delegates may manage which accounts. An
// account is always authorized for itself.
type Authorizations struct {
	grants map[AuthorizationKey]bool
}

func NewAuthorizations() *Authorizations {
	return &Authorizations{grants: make(map[AuthorizationKey]bool)}
}

func (a *Authorizations) IsAuthorized(authorizer, delegate common.Address) bool {
	return a.grants[AuthorizationKey{Authorizer: authorizer, Delegate: delegate}]
}

// Set stores a grant and returns the previous value.
func (a *Authorizations) Set(authorizer, delegate common.Address, granted bool) bool {
	key := AuthorizationKey{Authorizer: authorizer, Delegate: delegate}
	prev := a.grants[key]
	if granted {
		a.grants[key] = true
	} else {
		delete(a.grants, key)
	}
	return prev
}

// IsSenderAuthorized reports whether sender may act on behalf of onBehalf.
func (a *Authorizations) IsSenderAuthorized(sender, onBehalf common.Address) bool {
	return sender == onBehalf || a.IsAuthorized(onBehalf, sender)
}

// Grants returns every active grant in canonical order
func (a *Authorizations) Grants() []AuthorizationKey {
	out := make([]AuthorizationKey, 0, len(a.grants))
	for k := range a.grants {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Authorizer[:], out[j].Authorizer[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Delegate[:], out[j].Delegate[:]) < 0
	})
	return out
}
