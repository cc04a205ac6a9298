// Package plan loads execution plans: the ordered list of tasks to run for every block, each
// with its own configuration.
package plan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// Format is an execution plan encoding.
type Format string

const (
	FormatAuto Format = ""
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

var ErrEmptyPlan = errors.New("execution plan has no tasks")

// Entry is one task of the plan.
type Entry struct {
	Name   string
	Config task.Config
}

// Plan is an ordered list of task entries.
type Plan struct {
	// Location is where the plan was loaded from.
	Location string
	Entries  []Entry
}

// Names returns the task names in plan order.
func (p *Plan) Names() []string {
	out := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Name
	}

	return out
}

// Entry returns the plan entry for a task.
func (p *Plan) Entry(name string) (Entry, bool) {
	for _, e := range p.Entries {
		if e.Name == name {
			return e, true
		}
	}

	return Entry{}, false
}

// WithConfig returns a copy of the plan with key set to value in every entry's config.
func (p *Plan) WithConfig(key string, value any) *Plan {
	out := &Plan{Location: p.Location, Entries: make([]Entry, len(p.Entries))}

	for i, e := range p.Entries {
		out.Entries[i] = Entry{Name: e.Name, Config: e.Config.With(key, value)}
	}

	return out
}

// Load reads a plan from a local path or an http(s) URL.
func Load(ctx context.Context, location string) (*Plan, error) {
	data, name, err := fetch(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("load execution plan %s: %w", location, err)
	}

	p, err := Parse(data, formatFromName(name))
	if err != nil {
		return nil, fmt.Errorf("parse execution plan %s: %w", location, err)
	}

	p.Location = location

	return p, nil
}

func fetch(ctx context.Context, location string) ([]byte, string, error) {
	u, err := url.Parse(location)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		data, err := os.ReadFile(location)

		return data, location, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, http.NoBody)
	if err != nil {
		return nil, "", err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, "", err
	}

	return data, u.Path, nil
}

func formatFromName(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".toml":
		return FormatTOML
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatAuto
	}
}

// Parse decodes a plan. FormatAuto tries TOML first, then YAML.
func Parse(data []byte, format Format) (*Plan, error) {
	var (
		p   *Plan
		err error
	)

	switch format {
	case FormatTOML:
		p, err = parseTOML(data)
	case FormatYAML:
		p, err = parseYAML(data)
	case FormatAuto:
		p, err = parseTOML(data)
		if err != nil {
			var yamlErr error

			p, yamlErr = parseYAML(data)
			if yamlErr != nil {
				return nil, fmt.Errorf("neither toml (%v) nor yaml (%w)", err, yamlErr)
			}

			err = nil
		}
	default:
		return nil, fmt.Errorf("unknown plan format %q", format)
	}

	if err != nil {
		return nil, err
	}

	if len(p.Entries) == 0 {
		return nil, ErrEmptyPlan
	}

	seen := make(map[string]struct{}, len(p.Entries))
	for _, e := range p.Entries {
		if _, ok := seen[e.Name]; ok {
			return nil, fmt.Errorf("task %s listed twice", e.Name)
		}

		seen[e.Name] = struct{}{}
	}

	return p, nil
}

func parseTOML(data []byte) (*Plan, error) {
	var raw map[string]map[string]any

	md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&raw)
	if err != nil {
		return nil, err
	}

	p := &Plan{}

	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}

		name := key[0]
		p.Entries = append(p.Entries, Entry{Name: name, Config: task.Config(raw[name])})
	}

	for i := range p.Entries {
		if p.Entries[i].Config == nil {
			p.Entries[i].Config = task.Config{}
		}
	}

	return p, nil
}

func parseYAML(data []byte) (*Plan, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return &Plan{}, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: plan must be a mapping of task names", root.Line)
	}

	p := &Plan{}

	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]

		cfg := task.Config{}
		if value.Tag != "!!null" {
			if err := value.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("line %d: task %s: %w", value.Line, key.Value, err)
			}
		}

		p.Entries = append(p.Entries, Entry{Name: key.Value, Config: cfg})
	}

	return p, nil
}
