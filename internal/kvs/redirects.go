package kvs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// RedirectsFile is the optional redirect list at the root of a build.
const RedirectsFile = "_redirects"

// DirectoryRedirects returns a "/dir" -> "/dir/" entry for every directory
// that holds at least one of keys, directly or through a subdirectory.
func DirectoryRedirects(keys []string) []Entry {
	dirs := make(map[string]struct{})
	for _, key := range keys {
		for dir := path.Dir(key); dir != "." && dir != "/"; dir = path.Dir(dir) {
			dirs[dir] = struct{}{}
		}
	}

	entries := make([]Entry, 0, len(dirs))
	for dir := range dirs {
		p := "/" + dir
		entries = append(entries, Entry{Key: p, Value: p + "/"})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// ParseFile reads RedirectsFile from buildDir. Lines are whitespace
// separated "source destination [status]"; blank lines and lines starting
// with # are ignored. A missing file yields no entries. Malformed lines are
// returned as skipped line numbers.
func ParseFile(buildDir string) (entries []Entry, skipped []int, err error) {
	p := filepath.Join(buildDir, RedirectsFile)

	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", p, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			skipped = append(skipped, lineNum)
			continue
		}
		entries = append(entries, Entry{Key: parts[0], Value: parts[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", p, err)
	}

	return entries, skipped, nil
}

// Merge combines entry lists; later lists override earlier ones per key.
// The result is sorted by key.
func Merge(lists ...[]Entry) []Entry {
	merged := make(map[string]string)
	for _, list := range lists {
		for _, e := range list {
			merged[e.Key] = e.Value
		}
	}

	entries := make([]Entry, 0, len(merged))
	for k, v := range merged {
		entries = append(entries, Entry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}

// ResolveChains rewrites each entry to point at the end of its redirect
// chain, so /a -> /b and /b -> /c become /a -> /c. A cycle is an error.
func ResolveChains(entries []Entry) ([]Entry, error) {
	targets := make(map[string]string, len(entries))
	for _, e := range entries {
		targets[e.Key] = e.Value
	}

	resolved := make([]Entry, 0, len(entries))
	for _, e := range entries {
		dest := e.Value
		seen := map[string]bool{e.Key: true}
		for {
			next, ok := targets[dest]
			if !ok {
				break
			}
			if seen[dest] {
				return nil, fmt.Errorf("redirect cycle: %s -> %s -> ... -> %s", e.Key, e.Value, dest)
			}
			seen[dest] = true
			dest = next
		}
		resolved = append(resolved, Entry{Key: e.Key, Value: dest})
	}

	return resolved, nil
}
