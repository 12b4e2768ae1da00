package filter

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/component"
)

// Auth maps bearer tokens to user ids. A context with a known token gets
// its userId stamped and the token removed; an unknown token or a missing
// identity is rejected with UNAUTHENTICATED.
type Auth struct {
	tokens      map[string]string
	trustUserID bool
}

// NewAuth creates an Auth filter. When trustUserID is set, a context that
// carries a userId but no token is accepted as is.
func NewAuth(tokens map[string]string, trustUserID bool) *Auth {
	t := make(map[string]string, len(tokens))
	for k, v := range tokens {
		t[k] = v
	}
	return &Auth{tokens: t, trustUserID: trustUserID}
}

// NewAuthFromProps reads "tokens" (tok:user;tok2:user2) and "trustUserId".
func NewAuthFromProps(props component.Props) (*Auth, error) {
	tokens := make(map[string]string)
	for _, pair := range props.GetList("tokens") {
		tok, user, ok := strings.Cut(pair, ":")
		if !ok || tok == "" || user == "" {
			return nil, fmt.Errorf("%s - malformed auth token entry %q, want token:user", logPrefix, pair)
		}
		tokens[tok] = user
	}
	return NewAuth(tokens, props.GetBool("trustUserId", false)), nil
}

func (*Auth) Name() string { return AuthName }

func (a *Auth) Apply(_ context.Context, ic *call.InvokeContext) error {
	token := ic.Get(call.AttrToken)
	if token == "" {
		if a.trustUserID && ic.UserID() != "" {
			return nil
		}
		return call.NewError(call.CodeUnauthenticated, "missing credentials")
	}

	user, ok := a.lookup(token)
	if !ok {
		return call.NewError(call.CodeUnauthenticated, "invalid token")
	}
	ic.Set(call.AttrUserID, user)
	ic.Delete(call.AttrToken)
	return nil
}

func (a *Auth) lookup(token string) (string, bool) {
	for known, user := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			return user, true
		}
	}
	return "", false
}
