package audit

import "context"

type requestMetaKey struct{}

// RequestMeta carries transport details copied into every entry logged with
// the request's context
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

// WithRequestMeta attaches request details to ctx
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

func requestMetaFrom(ctx context.Context) (RequestMeta, bool) {
	if ctx == nil {
		return RequestMeta{}, false
	}
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}
