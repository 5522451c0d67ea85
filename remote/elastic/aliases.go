package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/getpup/reindex-orchestrator"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// EnsureIndex creates index unless it already exists.
func (c *Client) EnsureIndex(ctx context.Context, index string) error {
	opts := []func(*esapi.IndicesCreateRequest){c.es.Indices.Create.WithContext(ctx)}
	if len(c.config.IndexBody) > 0 {
		opts = append(opts, c.es.Indices.Create.WithBody(bytes.NewReader(c.config.IndexBody)))
	}

	res, err := c.es.Indices.Create(index, opts...)
	if err != nil {
		return errors.Wrapf(err, "failed to create index %s", index)
	}
	defer res.Body.Close()

	if !res.IsError() {
		return nil
	}

	cause := responseError(res)
	if res.StatusCode == http.StatusBadRequest && strings.Contains(cause.Error(), "already_exists") {
		return nil
	}
	return errors.Wrapf(cause, "create index %s", index)
}

func (c *Client) indexExists(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, errors.Wrapf(err, "failed to check index %s", index)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, errors.Errorf("check index %s: status %d", index, res.StatusCode)
	}
}

// AliasCache remembers which indices an alias resolves to.
// It is safe for concurrent use.
type AliasCache struct {
	mu      sync.RWMutex
	entries map[string][]string
}

// Compile-time check that AliasCache implements orchestrator.CacheInvalidator.
var _ orchestrator.CacheInvalidator = (*AliasCache)(nil)

// NewAliasCache creates an empty cache.
func NewAliasCache() *AliasCache {
	return &AliasCache{entries: make(map[string][]string)}
}

// Get returns the cached indices for alias.
func (a *AliasCache) Get(alias string) ([]string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	indices, ok := a.entries[alias]
	return indices, ok
}

// Set caches the indices for alias.
func (a *AliasCache) Set(alias string, indices []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[alias] = append([]string(nil), indices...)
}

// Len returns the number of cached aliases.
func (a *AliasCache) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

// RemoveAll drops every cached alias.
func (a *AliasCache) RemoveAll(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = make(map[string][]string)
	return nil
}

// AliasMaintainer points each alias of a plan at exactly the planned indices that exist.
type AliasMaintainer struct {
	client *Client
	plan   map[string][]string
	cache  *AliasCache
}

// Compile-time check that AliasMaintainer implements orchestrator.AliasMaintainer.
var _ orchestrator.AliasMaintainer = (*AliasMaintainer)(nil)

// NewAliasMaintainer creates a maintainer for plan (alias -> indices). cache may be nil.
func NewAliasMaintainer(client *Client, plan map[string][]string, cache *AliasCache) *AliasMaintainer {
	if cache == nil {
		cache = NewAliasCache()
	}
	return &AliasMaintainer{client: client, plan: plan, cache: cache}
}

type aliasAction map[string]map[string]string

// MaintainAliases updates every planned alias in a single atomic _aliases request.
func (m *AliasMaintainer) MaintainAliases(ctx context.Context) error {
	aliases := lo.Keys(m.plan)
	sort.Strings(aliases)

	var actions []aliasAction
	desired := make(map[string][]string, len(aliases))
	for _, alias := range aliases {
		var want []string
		for _, index := range lo.Uniq(m.plan[alias]) {
			ok, err := m.client.indexExists(ctx, index)
			if err != nil {
				return err
			}
			if ok {
				want = append(want, index)
			}
		}
		sort.Strings(want)
		desired[alias] = want

		current, err := m.resolve(ctx, alias)
		if err != nil {
			return err
		}

		for _, index := range lo.Without(current, want...) {
			actions = append(actions, aliasAction{"remove": {"index": index, "alias": alias}})
		}
		for _, index := range lo.Without(want, current...) {
			actions = append(actions, aliasAction{"add": {"index": index, "alias": alias}})
		}
	}

	if len(actions) == 0 {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{"actions": actions})
	if err != nil {
		return errors.Wrap(err, "failed to encode alias actions")
	}

	es := m.client.es
	res, err := es.Indices.UpdateAliases(bytes.NewReader(body), es.Indices.UpdateAliases.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "failed to update aliases")
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.Wrap(responseError(res), "update aliases")
	}

	for alias, indices := range desired {
		m.cache.Set(alias, indices)
	}
	return nil
}

// resolve returns the indices alias currently points at, consulting the cache first.
func (m *AliasMaintainer) resolve(ctx context.Context, alias string) ([]string, error) {
	if indices, ok := m.cache.Get(alias); ok {
		return indices, nil
	}

	es := m.client.es
	res, err := es.Indices.GetAlias(es.Indices.GetAlias.WithName(alias), es.Indices.GetAlias.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get alias %s", alias)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		m.cache.Set(alias, nil)
		return nil, nil
	}
	if res.IsError() {
		return nil, errors.Wrapf(responseError(res), "get alias %s", alias)
	}

	var decoded map[string]json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, errors.Wrapf(err, "failed to decode alias %s", alias)
	}

	indices := lo.Keys(decoded)
	sort.Strings(indices)
	m.cache.Set(alias, indices)
	return indices, nil
}
