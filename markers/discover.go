package markers

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vinayprograms/agentbatch/errors"
)

// DefaultPattern is the glob used when none is given.
const DefaultPattern = "*.md"

// Discover lists task files under root. A file root is returned as-is unless it
// is a marker; a directory root is globbed (non-recursively) with pattern.
// Markers and directories are never returned. Results are absolute and sorted.
func Discover(root, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "bad pattern "+pattern)
	}
	// Markers live next to their task, so only files directly in root count.
	if strings.ContainsAny(pattern, `/`+string(filepath.Separator)) {
		return nil, errors.New(errors.ErrCodeInvalidInput,
			"pattern "+pattern+" must match file names, not paths; pass the subdirectory as a root instead")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "resolve "+root)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "path does not exist: "+root)
	}

	if !info.IsDir() {
		if IsMarker(filepath.Base(abs)) {
			return nil, nil
		}
		return []string{abs}, nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "read "+root)
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || IsMarker(name) {
			continue
		}
		if ok, _ := filepath.Match(pattern, name); !ok {
			continue
		}
		files = append(files, filepath.Join(abs, name))
	}
	sort.Strings(files)
	return files, nil
}

// DiscoverAll runs Discover over several roots and de-duplicates the result.
func DiscoverAll(roots []string, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	var files []string
	for _, root := range roots {
		found, err := Discover(root, pattern)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files, nil
}

// List returns every marker file in dir.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var found []string
	for _, e := range entries {
		if e.IsDir() || !IsMarker(e.Name()) {
			continue
		}
		found = append(found, filepath.Join(dir, e.Name()))
	}
	sort.Strings(found)
	return found, nil
}
