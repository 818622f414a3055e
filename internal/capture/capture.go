// Package capture discovers reflectance captures laid out with the
// acquisition software's directory convention:
//
//	<root>/<capture_id>/results/REFLECTANCE_<capture_id>.hdr
package capture

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const headerPrefix = "REFLECTANCE_"

// Capture identifies one discovered capture.
type Capture struct {
	ID         string
	HeaderPath string
}

// Discover walks root for reflectance headers. When ids is non-empty only
// those capture ids are returned, and an id with no matching header is an
// error. Unreadable subdirectories are reported and skipped.
func Discover(root string, ids []string, log *slog.Logger) ([]Capture, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	found := map[string]string{}
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if log != nil {
				log.Warn("skipping unreadable entry", "path", path, "error", err)
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, headerPrefix) || !strings.HasSuffix(name, ".hdr") {
			return nil
		}
		if filepath.Base(filepath.Dir(path)) != "results" {
			return nil
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, headerPrefix), ".hdr")
		if prev, ok := found[id]; ok {
			if log != nil {
				log.Warn("duplicate capture id", "id", id, "kept", prev, "ignored", path)
			}
			return nil
		}
		found[id] = path
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}

	if len(ids) > 0 {
		captures := make([]Capture, 0, len(ids))
		for _, id := range ids {
			path, ok := found[id]
			if !ok {
				return nil, fmt.Errorf("capture %s not found under %s", id, root)
			}
			captures = append(captures, Capture{ID: id, HeaderPath: path})
		}
		return captures, nil
	}

	captures := make([]Capture, 0, len(found))
	for id, path := range found {
		captures = append(captures, Capture{ID: id, HeaderPath: path})
	}
	sort.Slice(captures, func(i, j int) bool { return captures[i].ID < captures[j].ID })
	return captures, nil
}

// IDFromPath derives the capture id for a reflectance header path. The id
// is the directory two levels above the header; when the layout does not
// match the convention, the header filename is used instead.
func IDFromPath(path string) string {
	dir := filepath.Dir(path)
	if filepath.Base(dir) == "results" {
		return filepath.Base(filepath.Dir(dir))
	}
	name := filepath.Base(path)
	return strings.TrimSuffix(strings.TrimPrefix(name, headerPrefix), ".hdr")
}
