// Package style resolves which style template, if any, applies to a document.
package style

import (
	"fmt"

	"github.com/mattjoyce/docbatch/internal/config"
	"github.com/mattjoyce/docbatch/internal/store"
)

// Wildcard matches any value of a present metadata key.
const Wildcard = "*"

type template struct {
	style store.Style
	match map[string]string
}

// Matcher evaluates templates in configuration order; the first match wins.
type Matcher struct {
	templates []template
}

var _ store.StyleMatcher = (*Matcher)(nil)

// New builds a Matcher from configured style templates.
func New(styles []config.StyleConfig) (*Matcher, error) {
	m := &Matcher{templates: make([]template, 0, len(styles))}
	for i, s := range styles {
		if s.Name == "" || s.ConfName == "" || len(s.Tools) == 0 {
			return nil, fmt.Errorf("style[%d] %q: name, conf_name and tools are required", i, s.Name)
		}
		tools := make([]string, len(s.Tools))
		copy(tools, s.Tools)
		match := make(map[string]string, len(s.Match))
		for k, v := range s.Match {
			match[k] = v
		}
		m.templates = append(m.templates, template{
			style: store.Style{Name: s.Name, ConfName: s.ConfName, Tools: tools},
			match: match,
		})
	}
	return m, nil
}

// StyleFor returns the first template whose match keys all agree with the
// document's metadata. A template without match keys matches every document.
func (m *Matcher) StyleFor(doc *store.Document) (store.Style, bool) {
	if doc == nil {
		return store.Style{}, false
	}
	for _, t := range m.templates {
		if matches(t.match, doc.Metadata) {
			return t.style, true
		}
	}
	return store.Style{}, false
}

func matches(want, have map[string]string) bool {
	for k, v := range want {
		got, ok := have[k]
		if !ok {
			return false
		}
		if v != Wildcard && v != got {
			return false
		}
	}
	return true
}
