// Package requestcontext carries request-scoped values (who is asking, which
// request, at what instant) through context without importing net/http.
// Middleware writes them; access, consent and audit code reads them.
package requestcontext

import (
	"context"
	"time"
)

type ctxKey int

const (
	keyRequesterID ctxKey = iota
	keyRequesterRole
	keyRequestID
	keyRequestTime
)

func stringValue(ctx context.Context, k ctxKey) string {
	s, _ := ctx.Value(k).(string)
	return s
}

// RequesterID is the authenticated requester, or "" for anonymous calls.
func RequesterID(ctx context.Context) string { return stringValue(ctx, keyRequesterID) }

// RequesterRole is the role claimed by the requester's token.
func RequesterRole(ctx context.Context) string { return stringValue(ctx, keyRequesterRole) }

// RequestID correlates audit entries and log lines for one request.
func RequestID(ctx context.Context) string { return stringValue(ctx, keyRequestID) }

// WithRequester records a verified requester identity.
func WithRequester(ctx context.Context, requesterID, role string) context.Context {
	ctx = context.WithValue(ctx, keyRequesterID, requesterID)
	return context.WithValue(ctx, keyRequesterRole, role)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// Now is the instant pinned for this request, so consent expiry and
// time-window rules see one clock reading. Outside a request it is time.Now.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(keyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request instant.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, keyRequestTime, t)
}
