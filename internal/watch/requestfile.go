// Package watch runs workflow requests dropped as YAML files into a
// watched directory. Processed files are renamed with a .done or
// .failed suffix so a directory doubles as a simple job queue.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"lowforge/internal/model"
)

// requestFile is the on-disk YAML shape of a development request.
type requestFile struct {
	Title        string   `yaml:"title"`
	Description  string   `yaml:"description"`
	Requirements []string `yaml:"requirements"`
	Priority     int      `yaml:"priority"`
	Requester    string   `yaml:"requester"`
	Tags         []string `yaml:"tags"`
}

// LoadRequest parses a request file into a model.Request. The title is
// required; a missing or out-of-range priority falls back to medium.
func LoadRequest(path string) (*model.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	var rf requestFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse request file %s: %w", filepath.Base(path), err)
	}
	if strings.TrimSpace(rf.Title) == "" {
		return nil, fmt.Errorf("request file %s has no title", filepath.Base(path))
	}

	req := model.NewRequest(rf.Title, rf.Description, rf.Requirements, model.Priority(rf.Priority))
	req.Requester = rf.Requester
	req.Tags = rf.Tags
	return req, nil
}

// IsRequestFile reports whether the path looks like an unprocessed
// request file (.yaml/.yml, not yet renamed by a previous run).
func IsRequestFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
