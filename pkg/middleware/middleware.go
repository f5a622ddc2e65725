package middleware

import "net/http"

type Middleware func(next http.RoundTripper) http.RoundTripper

// Chain applies middlewares so the first one listed is the outermost.
func Chain(base http.RoundTripper, mws ...Middleware) http.RoundTripper {
	rt := base
	for i := len(mws) - 1; i >= 0; i-- {
		rt = mws[i](rt)
	}
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}
