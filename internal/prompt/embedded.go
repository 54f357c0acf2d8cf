package prompt

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"tablesearch/internal/logging"
)

// Built-in prompt set names, one per worker.
const (
	MainSet    = "main"
	TabularSet = "tabular"
	DeepSet    = "deep"
)

// embeddedTemplates contains templates/*.yaml baked into the binary.
//
//go:embed templates
var embeddedTemplates embed.FS

// ErrUnknownSet is returned for a set name with no template file.
var ErrUnknownSet = errors.New("unknown prompt set")

// Load returns the built-in set with the given name.
func Load(name string) (Set, error) {
	data, err := embeddedTemplates.ReadFile("templates/" + name + ".yaml")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Set{}, fmt.Errorf("%w: %s", ErrUnknownSet, name)
		}
		return Set{}, err
	}
	return parse(name, data)
}

// LoadWithOverrides returns the set from dir/<name>.yaml when that file
// exists and the built-in set otherwise. An empty dir always selects the
// built-in set.
func LoadWithOverrides(dir, name string) (Set, error) {
	if dir == "" {
		return Load(name)
	}
	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Load(name)
	}
	if err != nil {
		return Set{}, fmt.Errorf("read prompt override %s: %w", path, err)
	}
	logging.BootDebug("Using prompt override %s", path)
	return parse(path, data)
}

// MustLoad is Load for built-in names known at compile time.
func MustLoad(name string) Set {
	s, err := Load(name)
	if err != nil {
		panic(err)
	}
	return s
}

func parse(source string, data []byte) (Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Set{}, fmt.Errorf("parse prompt set %s: %w", source, err)
	}
	if err := s.Validate(); err != nil {
		return Set{}, fmt.Errorf("prompt set %s: %w", source, err)
	}
	return s, nil
}
