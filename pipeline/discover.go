package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DiscoverFiles resolves path patterns (glob wildcards, and `**` descent when
// recursive is set) into a deduplicated, sorted list of file paths. Zero
// matches is a normal outcome: the caller decides how to report it.
func DiscoverFiles(patterns []string, recursive bool) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string

	for _, pattern := range patterns {
		p := pattern
		if recursive && !strings.Contains(p, "**") {
			if fi, err := os.Stat(p); err == nil && fi.IsDir() {
				p = filepath.Join(p, "**", "*.json")
			} else {
				dir := filepath.Dir(p)
				name := filepath.Base(p)
				p = filepath.Join(dir, "**", name)
			}
		}

		matches, err := doublestar.FilepathGlob(p)
		if err != nil {
			return nil, fmt.Errorf("bad file pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err != nil || fi.IsDir() {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}

	sort.Strings(out)
	return out, nil
}
