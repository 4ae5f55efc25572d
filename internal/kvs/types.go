// Package kvs publishes directory redirects to a CloudFront KeyValueStore.
//
// A viewer-request function on the distribution looks up the request URI in
// the store and redirects "/docs" to "/docs/" so S3 index documents resolve.
//
// A store may be shared by deploys of different key prefixes. Each deploy
// removes stale keys only under its own prefix; entries it publishes outside
// that prefix (from a _redirects file) are never deleted by it.
package kvs

// Entry is a single redirect: Key is the request path, Value the target.
type Entry struct {
	Key   string
	Value string
}

// Plan describes the operations that bring a store to the desired state.
type Plan struct {
	Puts    []Entry  // new or changed keys
	Deletes []string // keys no longer wanted
}

// Empty reports whether the plan has no operations.
func (p *Plan) Empty() bool {
	return len(p.Puts) == 0 && len(p.Deletes) == 0
}
