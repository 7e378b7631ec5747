package stage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadTest parses a YAML or JSON test file.
func LoadTest(path string) (*Test, error) {
	var t Test
	if err := decodeFile(path, &t); err != nil {
		return nil, err
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if len(t.Stages) == 0 {
		return nil, fmt.Errorf("test %s: at least one stage is required", path)
	}
	for i, s := range t.Stages {
		if s.IsRef() {
			if s.ID == "" {
				return nil, fmt.Errorf("test %s: stage %d: reference without id", path, i+1)
			}
			continue
		}
		if err := checkRequest(s); err != nil {
			return nil, fmt.Errorf("test %s: stage %d (%s): %w", path, i+1, s.Title(), err)
		}
	}
	if t.Variables == nil {
		t.Variables = make(Vars)
	}
	return &t, nil
}

// IncludePaths returns the include paths of t resolved against dir.
func (t *Test) IncludePaths(dir string) []string {
	paths := make([]string, len(t.Includes))
	for i, inc := range t.Includes {
		if filepath.IsAbs(inc) {
			paths[i] = inc
		} else {
			paths[i] = filepath.Join(dir, inc)
		}
	}
	return paths
}

type libraryFile struct {
	Stages []Stage `yaml:"stages" json:"stages"`
}

// LoadLibrary parses YAML or JSON files holding reusable stages:
//
//	stages:
//	  - id: auth
//	    request: {method: POST, path: /login}
func LoadLibrary(paths ...string) (Library, error) {
	lib := make(Library)
	for _, path := range paths {
		var f libraryFile
		if err := decodeFile(path, &f); err != nil {
			return nil, err
		}
		for i, s := range f.Stages {
			if err := checkRequest(s); err != nil {
				return nil, fmt.Errorf("library %s: stage %d (%s): %w", path, i+1, s.Title(), err)
			}
		}
		if err := lib.Add(f.Stages...); err != nil {
			return nil, fmt.Errorf("library %s: %w", path, err)
		}
	}
	return lib, nil
}

func checkRequest(s Stage) error {
	if s.Request.Method == "" {
		return fmt.Errorf("request.method is required")
	}
	if s.Request.Path == "" {
		return fmt.Errorf("request.path is required")
	}
	if a := s.Save.Authorization; a != nil {
		if a.Type != "bearer" && a.Type != "header" {
			return fmt.Errorf("save.authorization.type %q: expected bearer or header", a.Type)
		}
		if (a.JSON == "") == (a.Headers == "") {
			return fmt.Errorf("save.authorization: exactly one of json and headers is required")
		}
	}
	return nil
}

func decodeFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	case ".json":
		err = json.Unmarshal(data, v)
	default:
		return fmt.Errorf("%s: unsupported format %q (expected .yaml, .yml or .json)", path, ext)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
