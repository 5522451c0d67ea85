// Package elastic implements the remote task client, index preparation and alias
// maintenance against Elasticsearch using the reindex and tasks APIs.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/remote"
	"github.com/pkg/errors"
)

// RemoteSource is the cluster documents are read from. When Host is empty the
// reindex reads from the destination cluster itself.
type RemoteSource struct {
	Host     string
	Username string
	Password string
}

// Config configures the Elasticsearch client.
type Config struct {
	// ES is the client for the destination cluster (required).
	ES *elasticsearch.Client

	// Source is the cluster to migrate from (optional).
	Source RemoteSource

	// BatchSize is the scroll size used by each reindex task (default: 250).
	BatchSize int

	// KindField is the field matched against Request.SourceKind (default: "_type").
	KindField string

	// IndexBody is the settings and mappings used when EnsureIndex creates an index (optional).
	IndexBody []byte
}

// Client talks to Elasticsearch on behalf of the orchestrator.
type Client struct {
	config Config
	es     *elasticsearch.Client
}

// Compile-time check that Client implements remote.Client.
var _ remote.Client = (*Client)(nil)

// New creates a new Client with the given configuration.
// Applies default values for BatchSize and KindField if zero.
func New(cfg Config) *Client {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 250
	}
	if cfg.KindField == "" {
		cfg.KindField = "_type"
	}

	return &Client{
		config: cfg,
		es:     cfg.ES,
	}
}

// NewES builds an Elasticsearch client for the given addresses and optional credentials.
func NewES(addresses []string, username, password string) (*elasticsearch.Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create elasticsearch client")
	}
	return es, nil
}

type reindexResponse struct {
	Task string `json:"task"`
}

// Submit starts a reindex task without waiting for completion.
func (c *Client) Submit(ctx context.Context, req remote.Request) (orchestrator.TaskHandle, error) {
	body, err := json.Marshal(c.reindexBody(req))
	if err != nil {
		return "", errors.Wrap(err, "failed to encode reindex request")
	}

	res, err := c.es.Reindex(
		bytes.NewReader(body),
		c.es.Reindex.WithContext(ctx),
		c.es.Reindex.WithWaitForCompletion(false),
	)
	if err != nil {
		return "", errors.Wrapf(err, "failed to submit reindex %s -> %s", req.SourceCollection, req.TargetCollection)
	}
	defer res.Body.Close()

	if res.IsError() {
		return "", errors.Wrapf(responseError(res), "reindex %s -> %s rejected", req.SourceCollection, req.TargetCollection)
	}

	var decoded reindexResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(err, "failed to decode reindex response")
	}
	if decoded.Task == "" {
		return "", errors.Errorf("reindex %s -> %s returned no task", req.SourceCollection, req.TargetCollection)
	}

	return orchestrator.TaskHandle(decoded.Task), nil
}

func (c *Client) reindexBody(req remote.Request) map[string]interface{} {
	var filters []interface{}
	if req.SourceKind != "" {
		filters = append(filters, map[string]interface{}{
			"term": map[string]interface{}{c.config.KindField: req.SourceKind},
		})
	}
	if req.DateField != "" {
		filters = append(filters, map[string]interface{}{
			"range": map[string]interface{}{
				req.DateField: map[string]interface{}{"gte": req.Cutoff.UTC().Format(time.RFC3339)},
			},
		})
	}

	source := map[string]interface{}{
		"index": req.SourceCollection,
		"size":  c.config.BatchSize,
		"sort":  []interface{}{map[string]interface{}{req.SortField(): "asc"}},
	}
	if len(filters) > 0 {
		source["query"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		}
	}
	if c.config.Source.Host != "" {
		r := map[string]interface{}{"host": c.config.Source.Host}
		if c.config.Source.Username != "" && c.config.Source.Password != "" {
			r["username"] = c.config.Source.Username
			r["password"] = c.config.Source.Password
		}
		source["remote"] = r
	}

	return map[string]interface{}{
		"conflicts": "proceed",
		"source":    source,
		"dest":      map[string]interface{}{"index": req.TargetCollection},
	}
}

type taskResponse struct {
	Completed bool `json:"completed"`
	Task      struct {
		Status struct {
			Total            int64 `json:"total"`
			Created          int64 `json:"created"`
			Updated          int64 `json:"updated"`
			Deleted          int64 `json:"deleted"`
			VersionConflicts int64 `json:"version_conflicts"`
		} `json:"status"`
		RunningTimeInNanos int64 `json:"running_time_in_nanos"`
	} `json:"task"`
	Error    *errorCause `json:"error"`
	Response *struct {
		Failures []struct {
			Index string      `json:"index"`
			Cause *errorCause `json:"cause"`
		} `json:"failures"`
	} `json:"response"`
}

type errorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e *errorCause) String() string {
	if e == nil {
		return "unknown error"
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

// PollStatus fetches the task status without waiting for completion.
func (c *Client) PollStatus(ctx context.Context, handle orchestrator.TaskHandle) (orchestrator.TaskStatus, error) {
	res, err := c.es.Tasks.Get(
		handle.String(),
		c.es.Tasks.Get.WithContext(ctx),
		c.es.Tasks.Get.WithWaitForCompletion(false),
	)
	if err != nil {
		return orchestrator.TaskStatus{}, errors.Wrapf(err, "failed to get task %s", handle)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return orchestrator.TaskStatus{}, errors.Wrapf(orchestrator.ErrTaskNotFound, "task %s", handle)
	case isThrottled(res.StatusCode):
		return orchestrator.TaskStatus{}, errors.Wrapf(orchestrator.ErrThrottled, "task %s: status %d", handle, res.StatusCode)
	case res.IsError():
		return orchestrator.TaskStatus{}, errors.Wrapf(responseError(res), "task %s", handle)
	}

	var decoded taskResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return orchestrator.TaskStatus{}, errors.Wrapf(err, "failed to decode task %s", handle)
	}

	st := decoded.Task.Status
	status := orchestrator.TaskStatus{
		Stats: orchestrator.TaskStats{
			Created:          st.Created,
			Updated:          st.Updated,
			Deleted:          st.Deleted,
			VersionConflicts: st.VersionConflicts,
			Total:            st.Total,
		},
		Completed:   decoded.Completed,
		RunningTime: time.Duration(decoded.Task.RunningTimeInNanos),
	}

	if decoded.Error != nil {
		status.Failure = errors.Errorf("task %s failed: %s", handle, decoded.Error)
	} else if decoded.Response != nil && len(decoded.Response.Failures) > 0 {
		first := decoded.Response.Failures[0]
		status.Failure = errors.Errorf("task %s reported %d failures, first on %s: %s",
			handle, len(decoded.Response.Failures), first.Index, first.Cause)
	}

	return status, nil
}

type countResponse struct {
	Count int64 `json:"count"`
}

// Count returns the number of documents in collection.
func (c *Client) Count(ctx context.Context, collection string) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(collection),
	)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to count %s", collection)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, errors.Wrapf(responseError(res), "count %s", collection)
	}

	var decoded countResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return 0, errors.Wrapf(err, "failed to decode count for %s", collection)
	}
	return decoded.Count, nil
}

func isThrottled(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

type errorEnvelope struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

// responseError turns an error response into an error carrying the status and the server's reason.
func responseError(res *esapi.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64<<10))

	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Error) > 0 {
		var cause errorCause
		if err := json.Unmarshal(env.Error, &cause); err == nil && cause.Type != "" {
			return errors.Errorf("status %d: %s", res.StatusCode, &cause)
		}
		return errors.Errorf("status %d: %s", res.StatusCode, string(env.Error))
	}
	return errors.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(raw))
}
