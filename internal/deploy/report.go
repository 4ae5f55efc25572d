package deploy

import (
	"sort"

	"github.com/sinkhq/sink/internal/bucket"
)

// Op names the kind of remote mutation a Result records.
type Op string

const (
	OpDelete     Op = "delete"
	OpPut        Op = "put"
	OpInvalidate Op = "invalidate"
	OpRedirects  Op = "redirects"
	OpFunction   Op = "function"
)

// Result is the outcome of one mutation.
type Result struct {
	Op Op
	bucket.Outcome
}

// Report aggregates the outcomes of a run so callers can inspect which keys
// converged and which did not.
type Report struct {
	Results []Result
	// Skipped holds keys whose local and remote tags matched.
	Skipped []string
	// InvalidationPaths is the reduced path set, empty if nothing changed.
	InvalidationPaths []string
	// DistributionID is the distribution invalidated, configured or resolved.
	DistributionID string
	UploadedBytes  int64
	// Redirects is the number of redirect entries published.
	Redirects int
}

func (r *Report) add(op Op, outcomes ...bucket.Outcome) {
	for _, o := range outcomes {
		r.Results = append(r.Results, Result{Op: op, Outcome: o})
	}
}

// Failed returns every unsuccessful result.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// Succeeded returns the sorted keys of successful results for op.
func (r *Report) Succeeded(op Op) []string {
	var keys []string
	for _, res := range r.Results {
		if res.Op == op && res.OK() {
			keys = append(keys, res.Key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Mutations counts results for object puts and deletes.
func (r *Report) Mutations() int {
	n := 0
	for _, res := range r.Results {
		if res.Op == OpPut || res.Op == OpDelete {
			n++
		}
	}
	return n
}
