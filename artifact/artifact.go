// Package artifact models versioned code artifacts: the file sets
// produced by synthesis and rewritten by reflection.
package artifact

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// Artifact is one versioned snapshot of the generated project.
// Versions start at 0 (synthesizer output) and increase by one per
// completed reflection iteration.
type Artifact struct {
	Version int               `json:"version"`
	Files   map[string]string `json:"files"`
}

// New creates an empty artifact at the given version.
func New(version int) *Artifact {
	return &Artifact{
		Version: version,
		Files:   make(map[string]string),
	}
}

// Clone returns a deep copy at the next version number.
// The reflection loop edits the clone; the original stays frozen.
func (a *Artifact) Clone() *Artifact {
	files := make(map[string]string, len(a.Files))
	for p, content := range a.Files {
		files[p] = content
	}
	return &Artifact{
		Version: a.Version + 1,
		Files:   files,
	}
}

// Paths returns all file paths in sorted order.
func (a *Artifact) Paths() []string {
	paths := make([]string, 0, len(a.Files))
	for p := range a.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Get returns a file's content, or false if the path is absent.
func (a *Artifact) Get(path string) (string, bool) {
	content, ok := a.Files[path]
	return content, ok
}

// Set stores a file, cleaning the path first.
func (a *Artifact) Set(filePath, content string) error {
	clean, err := CleanPath(filePath)
	if err != nil {
		return err
	}
	a.Files[clean] = content
	return nil
}

// CleanPath validates and normalizes an artifact file path.
// Absolute paths and traversal outside the artifact root are rejected;
// model output is not trusted to name safe locations.
func CleanPath(filePath string) (string, error) {
	p := strings.TrimSpace(filePath)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")

	if p == "" {
		return "", fmt.Errorf("empty file path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("absolute path not allowed: %s", filePath)
	}

	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path escapes artifact root: %s", filePath)
	}
	if clean == "." {
		return "", fmt.Errorf("invalid file path: %s", filePath)
	}
	return clean, nil
}
