// Package staging moves document entries between a checked-out document and
// the staging directory a batch tool runner works in.
//
// Stage-in is selective: only entries whose extension is accepted are copied,
// followed by a manifest listing what was copied. Stage-out is total: every
// regular file found in the staging directory except the manifest is written
// back.
package staging

import (
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/docbatch/internal/store"
)

// ManifestEntry records one staged entry.
type ManifestEntry struct {
	Name   string `yaml:"name"`
	Size   int    `yaml:"size"`
	Blake3 string `yaml:"blake3"`
}

// Manifest lists the entries copied into a staging directory.
type Manifest struct {
	DocumentID string          `yaml:"document_id"`
	Version    string          `yaml:"version,omitempty"`
	Entries    []ManifestEntry `yaml:"entries"`
}

// Report summarizes a stage-out.
type Report struct {
	Added     []string
	Updated   []string
	Unchanged []string
}

// Changed reports whether stage-out modified the document data.
func (r Report) Changed() bool {
	return len(r.Added) > 0 || len(r.Updated) > 0
}

// Stager copies entries in and out of staging directories.
type Stager struct {
	extensions   map[string]struct{}
	manifestName string
}

// New returns a Stager accepting entries with the given extensions (".xml")
// and writing its manifest under manifestName.
func New(extensions []string, manifestName string) (*Stager, error) {
	if !filepath.IsLocal(filepath.FromSlash(manifestName)) {
		return nil, fmt.Errorf("manifest name %q must be a local path", manifestName)
	}
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if !strings.HasPrefix(ext, ".") {
			return nil, fmt.Errorf("stage extension %q must start with '.'", ext)
		}
		exts[ext] = struct{}{}
	}
	return &Stager{extensions: exts, manifestName: path.Clean(filepath.ToSlash(manifestName))}, nil
}

// ManifestName returns the manifest's entry name.
func (s *Stager) ManifestName() string {
	return s.manifestName
}

// Accepts reports whether an entry is copied on stage-in. Extensions compare
// case-insensitively.
func (s *Stager) Accepts(name string) bool {
	if name == s.manifestName {
		return false
	}
	_, ok := s.extensions[strings.ToLower(path.Ext(name))]
	return ok
}

// StageIn writes the accepted entries of data into dir, then the manifest.
func (s *Stager) StageIn(data *store.DocumentData, dir string) (Manifest, error) {
	manifest := Manifest{DocumentID: data.ID, Version: data.Version, Entries: []ManifestEntry{}}

	for _, name := range data.EntryNames() {
		if !s.Accepts(name) {
			continue
		}
		target, err := localPath(dir, name)
		if err != nil {
			return Manifest{}, err
		}
		content := data.Entries[name]
		if err := writeFile(target, content); err != nil {
			return Manifest{}, fmt.Errorf("stage in %q: %w", name, err)
		}
		manifest.Entries = append(manifest.Entries, ManifestEntry{
			Name:   name,
			Size:   len(content),
			Blake3: Digest(content),
		})
	}

	raw, err := yaml.Marshal(&manifest)
	if err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeFile(filepath.Join(dir, filepath.FromSlash(s.manifestName)), raw); err != nil {
		return Manifest{}, fmt.Errorf("write manifest: %w", err)
	}

	return manifest, nil
}

// StageOut writes every regular file under dir into data. New entries are
// added, entries whose content differs are overwritten, and entries absent
// from dir are left untouched. Symbolic links and the manifest are skipped;
// a document entry sharing the manifest's name keeps its stored content.
func (s *Stager) StageOut(dir string, data *store.DocumentData) (Report, error) {
	if data.Entries == nil {
		data.Entries = make(map[string][]byte)
	}

	var report Report
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return fmt.Errorf("resolve %q: %w", p, err)
		}
		name := filepath.ToSlash(rel)
		if name == s.manifestName {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("stage out %q: %w", name, err)
		}

		existing, ok := data.Entries[name]
		switch {
		case !ok:
			report.Added = append(report.Added, name)
		case Digest(existing) != Digest(content):
			report.Updated = append(report.Updated, name)
		default:
			report.Unchanged = append(report.Unchanged, name)
			return nil
		}
		data.Entries[name] = content
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	sort.Strings(report.Added)
	sort.Strings(report.Updated)
	sort.Strings(report.Unchanged)
	return report, nil
}

// ReadManifest loads the manifest written by StageIn from dir.
func (s *Stager) ReadManifest(dir string) (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(s.manifestName)))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// Digest returns the hex BLAKE3-256 digest of content.
func Digest(content []byte) string {
	sum := blake3.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func localPath(dir, name string) (string, error) {
	native := filepath.FromSlash(name)
	if !filepath.IsLocal(native) {
		return "", fmt.Errorf("%w: %q", store.ErrInvalidEntryName, name)
	}
	return filepath.Join(dir, native), nil
}

func writeFile(target string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, content, 0o644)
}
