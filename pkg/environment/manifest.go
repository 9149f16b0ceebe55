package environment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestDoc is the YAML document describing a manifest environment:
// named artifacts to invoke, symbols for message interpolation, and
// per-suite settings.
type ManifestDoc struct {
	Version   string              `yaml:"version"`
	Artifacts map[string]Artifact `yaml:"artifacts"`
	Symbols   map[string]string   `yaml:"symbols,omitempty"`
	Config    map[string]string   `yaml:"settings,omitempty"`
}

// Artifact locates one invocable sample.
type Artifact struct {
	Path string `yaml:"path"`
	Dir  string `yaml:"dir,omitempty"`
}

// Manifest resolves call targets through a manifest document. Relative
// artifact paths and dirs are anchored at the manifest file's directory.
type Manifest struct {
	doc     ManifestDoc
	baseDir string
}

// LoadManifest reads and decodes a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m, err := ReadManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.baseDir = filepath.Dir(path)
	return m, nil
}

// ReadManifest decodes a manifest document from a reader.
func ReadManifest(r io.Reader) (*Manifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc ManifestDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &Manifest{doc: doc}, nil
}

func (m *Manifest) ResolveCall(target string, args []any, params map[string]any) (string, string, error) {
	art, ok := m.doc.Artifacts[target]
	if !ok {
		return "", "", fmt.Errorf("no such call target %q", target)
	}

	command := art.Path
	dir := art.Dir
	if m.baseDir != "" {
		if !filepath.IsAbs(command) {
			command = filepath.Join(m.baseDir, command)
		}
		if dir != "" && !filepath.IsAbs(dir) {
			dir = filepath.Join(m.baseDir, dir)
		}
	}
	return AppendArgs(ShellQuote(command), args, params), dir, nil
}

func (m *Manifest) ResolveSymbol(name string) string {
	if v, ok := m.doc.Symbols[name]; ok {
		return v
	}
	// Unknown symbols keep their placeholder text so a template mentioning
	// one degrades to its literal form instead of faulting mid-message.
	return "{" + name + "}"
}

func (m *Manifest) Settings() map[string]string {
	return m.doc.Config
}
