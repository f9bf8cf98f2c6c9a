package httpapi

import (
	"context"
)

// serverBaseCtx is the daemon-lifetime context. main cancels it on shutdown
// so that any generation spawned by a send handler stops even after the
// triggering HTTP request has already returned.
var serverBaseCtx = context.Background()

// SetBaseContext installs the daemon-lifetime context. A nil ctx restores
// Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context canceled when either a or b is done. The
// send handler joins the daemon-lifetime context with the request context so
// a generation dies on client disconnect or on shutdown, whichever is first.
// The returned cancel func must be called when the handler ends to release
// the watching goroutine.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		}
	}()
	return ctx, cancel
}
