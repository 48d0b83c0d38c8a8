package httpx

import "context"

type ctxKey string

const (
	ctxKeyPrincipal ctxKey = "principal"
	ctxKeyBearer    ctxKey = "bearer"
)

// Principal is the authenticated caller attached to a request.
type Principal struct {
	ID        string
	Email     string
	SessionID string
}

// WithPrincipal returns ctx carrying p and the raw bearer token it came from.
func WithPrincipal(ctx context.Context, p Principal, bearer string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyPrincipal, p)
	return context.WithValue(ctx, ctxKeyBearer, bearer)
}

// PrincipalFrom returns the authenticated caller, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok
}

// BearerFrom returns the raw access token of the authenticated caller.
func BearerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ctxKeyBearer).(string)
	return s
}
