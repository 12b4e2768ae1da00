// Package filter provides the built-in invocation filters and a registry
// that builds them by name from configuration.
package filter

import (
	"github.com/go-redis/redis/v8"

	"github.com/morezero/callcore/pkg/call"
	"github.com/morezero/callcore/pkg/component"
)

const logPrefix = "filter:filter"

// Names of the built-in filters.
const (
	TraceName     = "trace"
	AuthName      = "auth"
	RolesName     = "roles"
	RateLimitName = "ratelimit"
)

// Deps are shared clients some filters need.
type Deps struct {
	// Redis backs the distributed rate limiter when set.
	Redis *redis.Client
}

// NewRegistry returns a registry with the built-in filters.
//
// Properties per filter (scoped by name, e.g. "auth.tokens"):
//
//	auth.tokens            tok1:alice;tok2:bob
//	auth.trustUserId       accept a caller supplied userId without a token
//	roles.require          admin;operator (any one suffices)
//	ratelimit.rps          tokens added per second (default 50)
//	ratelimit.burst        bucket size (default 100)
//	ratelimit.backend      local | redis (default local, redis needs Deps.Redis)
func NewRegistry(deps Deps) *component.Registry[call.InvokeFilter] {
	r := component.NewRegistry[call.InvokeFilter]("filter")
	r.Register(TraceName, func(component.Props) (call.InvokeFilter, error) {
		return NewTrace(), nil
	})
	r.Register(AuthName, func(props component.Props) (call.InvokeFilter, error) {
		return NewAuthFromProps(props)
	})
	r.Register(RolesName, func(props component.Props) (call.InvokeFilter, error) {
		return NewRoles(props.GetList("require")...)
	})
	r.Register(RateLimitName, func(props component.Props) (call.InvokeFilter, error) {
		return NewRateLimitFromProps(props, deps.Redis)
	})
	return r
}
