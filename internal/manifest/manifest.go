// Package manifest reads module manifests (modsync.toml). A manifest lives
// at a module's root inside the monorepo and declares its name, remote
// mirror, sync policy, dependencies, and webhook settings. Registration
// upserts the manifest's contents into the store.
package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/modsync/modsync/internal/store"
)

// Filename is the conventional manifest name at a module root.
const Filename = "modsync.toml"

// ErrInvalidManifest wraps all validation failures.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is the on-disk shape of modsync.toml.
type Manifest struct {
	Name     string   `toml:"name"`
	Path     string   `toml:"path"` // module path prefix, relative to repo root
	Version  string   `toml:"version,omitempty"`
	AutoSync bool     `toml:"auto_sync"`
	Deps     []string `toml:"depends_on,omitempty"`

	Remote struct {
		URL    string `toml:"url"`
		Branch string `toml:"branch"`
	} `toml:"remote"`

	Webhook struct {
		Secret string   `toml:"secret,omitempty"`
		Events []string `toml:"events,omitempty"`
	} `toml:"webhook"`
}

// Load reads and validates a manifest file. root is the repository root;
// when the manifest omits path, it defaults to the manifest's own directory
// relative to root.
func Load(root, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if m.Path == "" {
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return nil, fmt.Errorf("%s: resolving module path: %w", path, err)
		}
		m.Path = rel
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// Validate checks the manifest's required fields and shapes.
func (m *Manifest) Validate() error {
	var problems []string
	if m.Name == "" {
		problems = append(problems, "name is required")
	}
	if strings.ContainsAny(m.Name, "/ \t") {
		problems = append(problems, "name must not contain slashes or whitespace")
	}
	if m.Path == "" {
		problems = append(problems, "path is required")
	}
	if filepath.IsAbs(m.Path) {
		problems = append(problems, "path must be relative to the repository root")
	}
	if m.Remote.URL != "" {
		if _, err := url.Parse(m.Remote.URL); err != nil {
			problems = append(problems, fmt.Sprintf("remote.url: %v", err))
		}
		if m.Remote.Branch == "" {
			problems = append(problems, "remote.branch is required when remote.url is set")
		}
	}
	for _, dep := range m.Deps {
		if dep == m.Name {
			problems = append(problems, "module cannot depend on itself")
		}
	}
	if len(m.Webhook.Events) > 0 && m.Webhook.Secret == "" {
		problems = append(problems, "webhook.secret is required when webhook.events is set")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidManifest, strings.Join(problems, "; "))
	}
	return nil
}

// Module converts the manifest into its store representation.
func (m *Manifest) Module() *store.Module {
	version := m.Version
	if version == "" {
		version = "0.1.0"
	}
	return &store.Module{
		Name:     m.Name,
		Path:     filepath.ToSlash(m.Path),
		RepoURL:  m.Remote.URL,
		Branch:   m.Remote.Branch,
		Version:  version,
		AutoSync: m.AutoSync,
		Status:   store.ModulePending,
	}
}

// Discover walks the repository root and loads every manifest it finds,
// skipping .git and vendor directories.
func Discover(root string) ([]*Manifest, error) {
	var manifests []*Manifest
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git", "vendor", "node_modules":
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != Filename {
			return nil
		}

		m, err := Load(root, path)
		if err != nil {
			return err
		}
		manifests = append(manifests, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("manifest discovery under %s: %w", root, err)
	}
	return manifests, nil
}
