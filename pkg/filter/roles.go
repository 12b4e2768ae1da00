package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/morezero/callcore/pkg/call"
)

// Roles rejects contexts that hold none of the required roles.
type Roles struct {
	required []string
}

func NewRoles(required ...string) (*Roles, error) {
	if len(required) == 0 {
		return nil, fmt.Errorf("%s - roles filter needs at least one required role", logPrefix)
	}
	return &Roles{required: required}, nil
}

func (*Roles) Name() string { return RolesName }

func (r *Roles) Apply(_ context.Context, ic *call.InvokeContext) error {
	have := ic.Roles()
	for _, want := range r.required {
		for _, role := range have {
			if role == want {
				return nil
			}
		}
	}
	return &call.Error{
		Code:    call.CodeForbidden,
		Message: fmt.Sprintf("requires one of roles: %s", strings.Join(r.required, ", ")),
		Details: map[string]any{"filter": RolesName, "required": r.required},
	}
}
