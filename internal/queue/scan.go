package queue

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kozaktomas/face-sorter/internal/constants"
)

// IsImageFile reports whether name has an accepted image extension.
func IsImageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, accepted := range constants.ImageExtensions {
		if ext == accepted {
			return true
		}
	}
	return false
}

// ScanFolders lists the image files directly inside each folder, or in the
// whole tree below it when recursive is set. Paths are absolute, unique and
// in folder then name order.
func ScanFolders(folders []string, recursive bool) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	add := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", path, err)
		}
		if strings.ContainsAny(abs, "\r\n") {
			return nil
		}
		if _, dup := seen[abs]; !dup {
			seen[abs] = struct{}{}
			out = append(out, abs)
		}
		return nil
	}

	for _, folder := range folders {
		if !recursive {
			entries, err := os.ReadDir(folder)
			if err != nil {
				return nil, fmt.Errorf("scan folder %s: %w", folder, err)
			}
			for _, e := range entries {
				if !e.IsDir() && IsImageFile(e.Name()) {
					if err := add(filepath.Join(folder, e.Name())); err != nil {
						return nil, err
					}
				}
			}
			continue
		}
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsImageFile(d.Name()) {
				return add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan folder %s: %w", folder, err)
		}
	}
	return out, nil
}

// CountImages returns how many images ScanFolders would find.
func CountImages(folders []string, recursive bool) (int, error) {
	paths, err := ScanFolders(folders, recursive)
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

// MatchingFolders returns the immediate subdirectories of root whose name
// contains filter, case-insensitively. An empty filter selects all of them.
func MatchingFolders(root, filter string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read root folder: %w", err)
	}
	filter = strings.ToLower(filter)
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if filter == "" || strings.Contains(strings.ToLower(e.Name()), filter) {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
