package httpx

import "context"

type ctxKey string

const (
	// CtxKeySessionID carries the authenticated session identifier once the
	// security pipeline has admitted a request.
	CtxKeySessionID ctxKey = "session_id"
	// CtxKeyUserID carries the owning user of the authenticated session.
	CtxKeyUserID ctxKey = "user_id"
)

func SessionIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeySessionID).(string); ok {
		return v
	}
	return ""
}

func UserIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyUserID).(string); ok {
		return v
	}
	return ""
}

// ContextWithSession stamps the admitted session onto a request context for
// downstream handlers and rate limiters.
func ContextWithSession(ctx context.Context, sessionID, userID string) context.Context {
	ctx = context.WithValue(ctx, CtxKeySessionID, sessionID)
	return context.WithValue(ctx, CtxKeyUserID, userID)
}
