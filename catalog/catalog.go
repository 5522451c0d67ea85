// Package catalog turns a description of the indices to migrate into work items.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getpup/reindex-orchestrator"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// DailyLayout is the date suffix appended to daily partition names.
const DailyLayout = "2006.01.02"

// Entry is one source index (and document kind) copied to one target index.
type Entry struct {
	Source    string `yaml:"source"`
	Kind      string `yaml:"kind"`
	Target    string `yaml:"target"`
	DateField string `yaml:"date_field"`
	Alias     string `yaml:"alias"`
}

// Catalog lists fixed entries and daily partitioned entries.
type Catalog struct {
	Entries []Entry `yaml:"entries"`
	Daily   []Entry `yaml:"daily"`
}

// IndexCreator creates a target index ahead of a copy.
type IndexCreator interface {
	EnsureIndex(ctx context.Context, index string) error
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks that every entry names a source, a kind and a target, and
// that no two entries write the same target.
func (c *Catalog) Validate() error {
	if len(c.Entries) == 0 && len(c.Daily) == 0 {
		return fmt.Errorf("catalog is empty")
	}

	targets := mapset.NewThreadUnsafeSet[string]()
	for _, e := range append(append([]Entry(nil), c.Entries...), c.Daily...) {
		if e.Source == "" || e.Kind == "" || e.Target == "" {
			return fmt.Errorf("catalog entry %+v: source, kind and target are required", e)
		}
		if !targets.Add(e.Target) {
			return fmt.Errorf("catalog target %q is listed twice", e.Target)
		}
	}
	return nil
}

// BuildConfig holds the inputs of Build.
type BuildConfig struct {
	// SourceScope prefixes every source index name.
	SourceScope string

	// Scope prefixes every target index name and alias.
	Scope string

	// RetentionDays is the age in days of the oldest daily partition.
	// Daily entries expand to days 0..RetentionDays inclusive.
	RetentionDays int

	// Now anchors daily partitions (default: time.Now in UTC).
	Now time.Time

	// IndexCreator creates daily targets before they are copied (optional).
	IndexCreator IndexCreator

	// Skip lists target indices that must not be migrated again (optional).
	Skip mapset.Set[string]
}

func (cfg BuildConfig) now() time.Time {
	if cfg.Now.IsZero() {
		return time.Now().UTC()
	}
	return cfg.Now.UTC()
}

// Build creates the work items in submission order: fixed entries first, then
// each daily entry from today back to RetentionDays days ago.
func (c *Catalog) Build(cfg BuildConfig) []orchestrator.WorkItem {
	var items []orchestrator.WorkItem
	add := func(item orchestrator.WorkItem) {
		if cfg.Skip != nil && cfg.Skip.Contains(item.TargetCollection) {
			return
		}
		items = append(items, item)
	}

	for _, e := range c.Entries {
		add(orchestrator.WorkItem{
			SourceCollection: cfg.SourceScope + e.Source,
			SourceKind:       e.Kind,
			TargetCollection: cfg.Scope + e.Target,
			DateField:        e.DateField,
		})
	}

	suffixes := dailySuffixes(cfg)
	for _, e := range c.Daily {
		for _, suffix := range suffixes {
			target := cfg.Scope + e.Target + suffix

			item := orchestrator.WorkItem{
				SourceCollection: cfg.SourceScope + e.Source + suffix,
				SourceKind:       e.Kind,
				TargetCollection: target,
				DateField:        e.DateField,
			}
			if cfg.IndexCreator != nil {
				creator := cfg.IndexCreator
				item.Prepare = func(ctx context.Context) error {
					return creator.EnsureIndex(ctx, target)
				}
			}
			add(item)
		}
	}

	return items
}

// AliasPlan maps each scoped alias to the scoped target indices it should cover.
// Skip is ignored: skipped targets were populated by an earlier run.
func (c *Catalog) AliasPlan(cfg BuildConfig) map[string][]string {
	plan := make(map[string][]string)

	for _, e := range c.Entries {
		if e.Alias != "" {
			alias := cfg.Scope + e.Alias
			plan[alias] = append(plan[alias], cfg.Scope+e.Target)
		}
	}

	suffixes := dailySuffixes(cfg)
	for _, e := range c.Daily {
		if e.Alias == "" {
			continue
		}
		alias := cfg.Scope + e.Alias
		plan[alias] = append(plan[alias], lo.Map(suffixes, func(suffix string, _ int) string {
			return cfg.Scope + e.Target + suffix
		})...)
	}

	for alias, indices := range plan {
		indices = lo.Uniq(indices)
		sort.Strings(indices)
		plan[alias] = indices
	}
	return plan
}

// dailySuffixes returns -yyyy.MM.dd for days 0..RetentionDays before now.
func dailySuffixes(cfg BuildConfig) []string {
	now := cfg.now()
	suffixes := make([]string, 0, cfg.RetentionDays+1)
	for day := 0; day <= cfg.RetentionDays; day++ {
		suffixes = append(suffixes, "-"+now.AddDate(0, 0, -day).Format(DailyLayout))
	}
	return suffixes
}
