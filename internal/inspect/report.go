// Package inspect renders what docbatch knows about one document: its stored
// state and the staging directory left by its last job.
package inspect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mattjoyce/docbatch/internal/staging"
	"github.com/mattjoyce/docbatch/internal/store"
)

// Loader reads a document with its entries, without checking it out.
type Loader interface {
	Load(ctx context.Context, id string) (*store.DocumentData, error)
}

// Sources groups what a report is gathered from.
type Sources struct {
	Documents Loader
	Styles    store.StyleMatcher
	Stager    *staging.Stager
	// StagingDir is the document's staging directory.
	StagingDir string
}

// Report is the structured JSON representation of a document report.
type Report struct {
	DocumentID  string            `json:"document_id"`
	Name        string            `json:"name,omitempty"`
	Version     string            `json:"version"`
	UpdatedBy   string            `json:"updated_by"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Style       string            `json:"style,omitempty"`
	Annotations []string          `json:"annotations,omitempty"`
	Entries     []Entry           `json:"entries"`
	Staging     *StagingReport    `json:"staging,omitempty"`
}

// Entry is one stored entry.
type Entry struct {
	Name   string `json:"name"`
	Size   int    `json:"size"`
	Blake3 string `json:"blake3"`
}

// StagingReport compares a staging directory with the manifest written when
// it was staged in.
type StagingReport struct {
	Path     string    `json:"path"`
	StagedAt time.Time `json:"staged_at"`
	StagedIn int       `json:"staged_in"`
	// Produced lists files the runner created.
	Produced []string `json:"produced,omitempty"`
	// Modified lists staged-in files the runner changed.
	Modified []string `json:"modified,omitempty"`
}

// BuildReport renders a terminal-friendly report for a document.
func BuildReport(ctx context.Context, src Sources, id string) (string, error) {
	report, err := gatherReportData(ctx, src, id)
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "Document Report\n")
	fmt.Fprintf(&out, "Document ID : %s\n", report.DocumentID)
	fmt.Fprintf(&out, "Name        : %s\n", renderUnset(report.Name, "<none>"))
	fmt.Fprintf(&out, "Version     : %s\n", report.Version)
	fmt.Fprintf(&out, "Updated     : %s by %s\n", report.UpdatedAt.Format(time.RFC3339), report.UpdatedBy)
	fmt.Fprintf(&out, "Style       : %s\n", renderUnset(report.Style, "<no match>"))
	if len(report.Metadata) > 0 {
		fmt.Fprintf(&out, "Metadata    :\n")
		for _, k := range sortedKeys(report.Metadata) {
			fmt.Fprintf(&out, "  %s = %s\n", k, report.Metadata[k])
		}
	}
	if len(report.Annotations) == 0 {
		fmt.Fprintf(&out, "Annotations : <none>\n")
	} else {
		fmt.Fprintf(&out, "Annotations : %s\n", strings.Join(report.Annotations, ", "))
	}

	fmt.Fprintf(&out, "\nEntries (%d)\n", len(report.Entries))
	for _, e := range report.Entries {
		fmt.Fprintf(&out, "  %-40s %10d  %s\n", e.Name, e.Size, shortDigest(e.Blake3))
	}

	fmt.Fprintf(&out, "\n")
	if report.Staging == nil {
		fmt.Fprintf(&out, "Staging     : <none>\n")
	} else {
		st := report.Staging
		fmt.Fprintf(&out, "Staging     : %s\n", st.Path)
		fmt.Fprintf(&out, "  staged_at : %s\n", st.StagedAt.Format(time.RFC3339))
		fmt.Fprintf(&out, "  staged_in : %d\n", st.StagedIn)
		writeList(&out, "produced", st.Produced)
		writeList(&out, "modified", st.Modified)
	}

	return out.String(), nil
}

// BuildJSONReport returns the machine-readable JSON report.
func BuildJSONReport(ctx context.Context, src Sources, id string) (string, error) {
	report, err := gatherReportData(ctx, src, id)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, src Sources, id string) (*Report, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("document id is required")
	}

	data, err := src.Documents.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load document %q: %w", id, err)
	}

	report := &Report{
		DocumentID:  data.ID,
		Name:        data.Name,
		Version:     data.Version,
		UpdatedBy:   data.UpdatedBy,
		UpdatedAt:   data.UpdatedAt,
		Metadata:    data.Metadata,
		Annotations: data.Annotations,
		Entries:     make([]Entry, 0, len(data.Entries)),
	}
	if s, ok := src.Styles.StyleFor(&data.Document); ok {
		report.Style = s.Name
	}
	for _, name := range data.EntryNames() {
		content := data.Entries[name]
		report.Entries = append(report.Entries, Entry{Name: name, Size: len(content), Blake3: staging.Digest(content)})
	}

	st, err := gatherStaging(src.Stager, src.StagingDir)
	if err != nil {
		return nil, err
	}
	report.Staging = st
	return report, nil
}

// gatherStaging returns nil when the directory does not exist.
func gatherStaging(stager *staging.Stager, dir string) (*StagingReport, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat staging: %w", err)
	}

	manifest, err := stager.ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	staged := make(map[string]string, len(manifest.Entries))
	for _, e := range manifest.Entries {
		staged[e.Name] = e.Blake3
	}

	report := &StagingReport{Path: dir, StagedAt: info.ModTime(), StagedIn: len(manifest.Entries)}
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if name == stager.ManifestName() {
			return nil
		}
		want, ok := staged[name]
		if !ok {
			report.Produced = append(report.Produced, name)
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if staging.Digest(content) != want {
			report.Modified = append(report.Modified, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk staging: %w", err)
	}
	sort.Strings(report.Produced)
	sort.Strings(report.Modified)
	return report, nil
}

func writeList(out *strings.Builder, label string, items []string) {
	if len(items) == 0 {
		fmt.Fprintf(out, "  %-9s : <none>\n", label)
		return
	}
	fmt.Fprintf(out, "  %-9s :\n", label)
	for _, item := range items {
		fmt.Fprintf(out, "    - %s\n", item)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func shortDigest(d string) string {
	if len(d) <= 12 {
		return d
	}
	return d[:12]
}

func renderUnset(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
