package deployment

import "context"

// newBackgroundContext roots an async Pipeline run in its own context
// rather than the triggering HTTP request's: a client disconnecting must
// never cancel a deployment already in flight (§5).
func newBackgroundContext() context.Context {
	return context.Background()
}
