// Package reqcontext carries the per-request identity bundle through the
// core's operations and binds it into structured logs (C16, §4.16).
package reqcontext

import (
	"context"

	"github.com/sirupsen/logrus"
)

// RequestContext is the opaque identity bundle every public operation consumes.
type RequestContext struct {
	RequestID     string
	OwnerID       string
	IsAuthenticated bool
	Roles         []string
}

// Anonymous returns a RequestContext for an unauthenticated caller.
func Anonymous(requestID string) RequestContext {
	return RequestContext{RequestID: requestID}
}

// HasRole reports whether the context carries the given role.
func (c RequestContext) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CanRead reports whether the context is entitled to read an entity carrying
// the given access level and owner id, per §3.3.
func (c RequestContext) CanRead(level AccessLevelLike, ownerID string) bool {
	switch level.String() {
	case "public":
		return true
	case "auth":
		return c.IsAuthenticated
	case "owner", "private":
		return c.IsAuthenticated && c.OwnerID != "" && c.OwnerID == ownerID
	default:
		return false
	}
}

// AccessLevelLike decouples this package from models to avoid an import
// cycle; models.AccessLevel satisfies it trivially via its string kind.
type AccessLevelLike interface {
	String() string
}

type ctxKey struct{}

// WithContext binds a RequestContext onto a context.Context.
func WithContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, rc)
}

// FromContext retrieves the bound RequestContext, if any.
func FromContext(ctx context.Context) (RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(RequestContext)
	return rc, ok
}

// Logger returns a logrus.Entry pre-bound with the request's correlation fields.
func Logger(base *logrus.Logger, rc RequestContext) *logrus.Entry {
	return base.WithFields(logrus.Fields{
		"request_id":       rc.RequestID,
		"owner_id":         rc.OwnerID,
		"is_authenticated": rc.IsAuthenticated,
	})
}
