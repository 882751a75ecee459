package main

import (
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v2"
)

// Target is one file to compress, grounded on htpack's FileToPack.
type Target struct {
	Path          string `yaml:"path"`
	DisableGzip   bool   `yaml:"disable_gzip"`
	DisableBrotli bool   `yaml:"disable_brotli"`
}

// Targets mirrors htpack's FilesToPack, keyed by the file's own path rather
// than a served URL since there's no archive namespace to map into anymore.
type Targets map[string]Target

func loadSpec(path string) (Targets, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var targets Targets
	if err := yaml.UnmarshalStrict(raw, &targets); err != nil {
		return nil, fmt.Errorf("parsing YAML spec %s: %v", path, err)
	}
	return targets, nil
}

// targetsFromList walks args (files or directories), the same traversal
// htpacker's filesFromListR uses, but keyed by the on-disk path rather than
// a derived served name.
func targetsFromList(args []string) (Targets, error) {
	targets := make(Targets)
	for _, arg := range args {
		if err := walk(arg, targets); err != nil {
			return nil, err
		}
	}
	return targets, nil
}

func walk(path string, targets Targets) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}

	switch {
	case fi.Mode().IsDir():
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := walk(filepath.Join(path, e.Name()), targets); err != nil {
				return err
			}
		}
		return nil

	case fi.Mode().IsRegular():
		if isAlreadyCompressed(path) {
			return nil
		}
		targets[path] = Target{Path: path}
		return nil

	default:
		return fmt.Errorf("%s: not a file or directory (mode %s)", path, fi.Mode())
	}
}

func isAlreadyCompressed(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".gz" || ext == ".br"
}
