// Package invalidation turns changed object keys into a bounded set of
// CloudFront wildcard invalidation paths.
package invalidation

import (
	"net/url"
	"path"
	"sort"
	"strings"
)

// MaxWildcardPaths is the CloudFront limit on wildcard paths in progress.
// See: https://docs.aws.amazon.com/AmazonCloudFront/latest/DeveloperGuide/Invalidation.html#InvalidationLimits
const MaxWildcardPaths = 15

// PathFor returns the parent-directory wildcard of an object key. Segments
// are percent-encoded since CloudFront rejects raw non-ASCII and unsafe
// characters in invalidation paths.
func PathFor(key string) string {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return "/*"
	}
	return "/" + escape(strings.TrimPrefix(dir, "/")) + "/*"
}

func escape(dir string) string {
	segments := strings.Split(dir, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// Set is a collection of invalidation paths in which no member is covered
// by another.
type Set struct {
	paths []string
}

// Add inserts p unless an existing wildcard already covers it. It reports
// whether p was inserted.
func (s *Set) Add(p string) bool {
	for _, existing := range s.paths {
		if covers(existing, p) {
			return false
		}
	}
	s.paths = append(s.paths, p)
	return true
}

// Len returns the number of paths in the set.
func (s *Set) Len() int { return len(s.paths) }

// Paths returns the members in lexical order.
func (s *Set) Paths() []string {
	out := append([]string(nil), s.paths...)
	sort.Strings(out)
	return out
}

func covers(wildcard, p string) bool {
	if wildcard == p {
		return true
	}
	if !strings.HasSuffix(wildcard, "*") {
		return false
	}
	return strings.HasPrefix(p, strings.TrimSuffix(wildcard, "*"))
}

// RootPath returns the wildcard covering everything under keyPrefix.
func RootPath(keyPrefix string) string {
	if keyPrefix == "" {
		return "/*"
	}
	return "/" + escape(keyPrefix) + "/*"
}

// Reduce maps keys to their covering wildcard paths. Keys are visited
// shallowest first so a parent directory is always seen before its children.
// When more than MaxWildcardPaths wildcards remain, the set collapses to a
// single path, see Collapse.
func Reduce(keys []string, keyPrefix string) []string {
	ordered := append([]string(nil), keys...)
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], "/"), strings.Count(ordered[j], "/")
		if di != dj {
			return di < dj
		}
		return ordered[i] < ordered[j]
	})

	var set Set
	for _, key := range ordered {
		set.Add(PathFor(key))
	}
	return Collapse(set.Paths(), keyPrefix)
}

// Collapse returns paths unchanged if they fit the wildcard limit. Otherwise
// it returns the longest common prefix of all members followed by "*". The
// common prefix is taken from the first and last members in sorted order.
// If that prefix would reach outside the deployment root, the root wildcard
// is returned instead.
func Collapse(paths []string, keyPrefix string) []string {
	wildcards := 0
	for _, p := range paths {
		if strings.HasSuffix(p, "*") {
			wildcards++
		}
	}
	if wildcards <= MaxWildcardPaths {
		return paths
	}

	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	prefix := trimPartialEscape(commonPrefix(sorted[0], sorted[len(sorted)-1]))

	root := RootPath(keyPrefix)
	if !strings.HasPrefix(prefix, strings.TrimSuffix(root, "*")) {
		return []string{root}
	}
	return []string{strings.TrimSuffix(prefix, "*") + "*"}
}

func commonPrefix(a, b string) string {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}

// trimPartialEscape drops a trailing "%" or "%X" left when a common prefix
// ends inside a percent-encoded byte.
func trimPartialEscape(p string) string {
	if i := strings.LastIndexByte(p, '%'); i >= 0 && len(p)-i < 3 {
		return p[:i]
	}
	return p
}
