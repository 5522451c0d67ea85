package elastic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCluster is a minimal Elasticsearch stand-in that records requests.
type fakeCluster struct {
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, r *http.Request, body []byte)
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

func newFakeCluster(t *testing.T, handle func(w http.ResponseWriter, r *http.Request, body []byte)) (*fakeCluster, *Client) {
	t.Helper()

	fc := &fakeCluster{handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fc.mu.Lock()
		fc.requests = append(fc.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
		fc.mu.Unlock()

		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/" {
			_, _ = w.Write([]byte(`{"version":{"number":"8.11.0"},"tagline":"You Know, for Search"}`))
			return
		}
		fc.handle(w, r, body)
	}))
	t.Cleanup(srv.Close)

	es, err := NewES([]string{srv.URL}, "", "")
	require.NoError(t, err)

	return fc, New(Config{ES: es})
}

func (fc *fakeCluster) recorded() []recordedRequest {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	out := make([]recordedRequest, len(fc.requests))
	copy(out, fc.requests)
	return out
}

func (fc *fakeCluster) find(pathPrefix string) []recordedRequest {
	var out []recordedRequest
	for _, r := range fc.recorded() {
		if strings.HasPrefix(r.Path, pathPrefix) {
			out = append(out, r)
		}
	}
	return out
}

func TestNew_AppliesDefaults(t *testing.T) {
	c := New(Config{})

	assert.Equal(t, 250, c.config.BatchSize)
	assert.Equal(t, "_type", c.config.KindField)
}

func TestNew_PreservesNonZeroValues(t *testing.T) {
	c := New(Config{BatchSize: 1000, KindField: "type"})

	assert.Equal(t, 1000, c.config.BatchSize)
	assert.Equal(t, "type", c.config.KindField)
}

func TestSubmit_SortsByIDWithoutDateField(t *testing.T) {
	fc, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{"task":"node-a:101"}`))
	})
	c.config.Source = RemoteSource{Host: "http://old-cluster:9200", Username: "elastic", Password: "secret"}

	handle, err := c.Submit(context.Background(), remote.Request{
		SourceCollection: "old-organizations-v1",
		SourceKind:       "organization",
		TargetCollection: "new-organizations-v1",
	})

	require.NoError(t, err)
	assert.Equal(t, orchestrator.TaskHandle("node-a:101"), handle)

	reqs := fc.find("/_reindex")
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Query, "wait_for_completion=false")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(reqs[0].Body, &body))
	assert.Equal(t, "proceed", body["conflicts"])

	source := body["source"].(map[string]interface{})
	assert.Equal(t, "old-organizations-v1", source["index"])
	assert.Equal(t, float64(250), source["size"])
	assert.Equal(t, []interface{}{map[string]interface{}{"id": "asc"}}, source["sort"])

	rem := source["remote"].(map[string]interface{})
	assert.Equal(t, "http://old-cluster:9200", rem["host"])
	assert.Equal(t, "elastic", rem["username"])
	assert.Equal(t, "secret", rem["password"])

	filters := source["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, filters, 1)
	assert.Equal(t, map[string]interface{}{"term": map[string]interface{}{"_type": "organization"}}, filters[0])

	assert.Equal(t, map[string]interface{}{"index": "new-organizations-v1"}, body["dest"])
}

func TestSubmit_FiltersAndSortsByDateField(t *testing.T) {
	fc, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{"task":"node-a:102"}`))
	})
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.Submit(context.Background(), remote.Request{
		SourceCollection: "old-stacks-v1",
		SourceKind:       "stacks",
		TargetCollection: "new-stacks-v1",
		DateField:        "last_occurrence",
		Cutoff:           cutoff,
	})
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(fc.find("/_reindex")[0].Body, &body))
	source := body["source"].(map[string]interface{})

	assert.Nil(t, source["remote"], "no remote block when reindexing within one cluster")
	assert.Equal(t, []interface{}{map[string]interface{}{"last_occurrence": "asc"}}, source["sort"])

	filters := source["query"].(map[string]interface{})["bool"].(map[string]interface{})["filter"].([]interface{})
	require.Len(t, filters, 2)
	assert.Equal(t, map[string]interface{}{
		"range": map[string]interface{}{
			"last_occurrence": map[string]interface{}{"gte": "2024-03-01T00:00:00Z"},
		},
	}, filters[1])
}

func TestSubmit_RejectedReturnsError(t *testing.T) {
	_, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"illegal_argument_exception","reason":"[host] not whitelisted"},"status":400}`))
	})

	_, err := c.Submit(context.Background(), remote.Request{SourceCollection: "a", TargetCollection: "b"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not whitelisted")
}

func TestPollStatus_RunningTask(t *testing.T) {
	fc, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{
			"completed": false,
			"task": {
				"status": {"total": 1000, "created": 300, "updated": 50, "deleted": 0, "version_conflicts": 25},
				"running_time_in_nanos": 90000000000
			}
		}`))
	})

	status, err := c.PollStatus(context.Background(), "node-a:7")

	require.NoError(t, err)
	assert.False(t, status.Completed)
	assert.True(t, status.Valid())
	assert.Equal(t, orchestrator.TaskStats{Created: 300, Updated: 50, VersionConflicts: 25, Total: 1000}, status.Stats)
	assert.Equal(t, 90*time.Second, status.RunningTime)

	reqs := fc.find("/_tasks/")
	require.Len(t, reqs, 1)
	assert.Equal(t, "/_tasks/node-a:7", reqs[0].Path)
}

func TestPollStatus_CompletedWithError(t *testing.T) {
	_, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{
			"completed": true,
			"task": {"status": {"total": 10, "created": 4}, "running_time_in_nanos": 1000},
			"error": {"type": "connect_exception", "reason": "Connection refused"}
		}`))
	})

	status, err := c.PollStatus(context.Background(), "node-a:8")

	require.NoError(t, err)
	assert.True(t, status.Completed)
	require.Error(t, status.Failure)
	assert.Contains(t, status.Failure.Error(), "Connection refused")
}

func TestPollStatus_CompletedWithFailures(t *testing.T) {
	_, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{
			"completed": true,
			"task": {"status": {"total": 10, "created": 9}},
			"response": {"failures": [{"index": "new-users-v1", "cause": {"type": "mapper_parsing_exception", "reason": "bad field"}}]}
		}`))
	})

	status, err := c.PollStatus(context.Background(), "node-a:9")

	require.NoError(t, err)
	require.Error(t, status.Failure)
	assert.Contains(t, status.Failure.Error(), "mapper_parsing_exception")
	assert.Contains(t, status.Failure.Error(), "new-users-v1")
}

func TestPollStatus_NotFound(t *testing.T) {
	_, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"resource_not_found_exception","reason":"task not found"},"status":404}`))
	})

	_, err := c.PollStatus(context.Background(), "node-a:10")

	assert.ErrorIs(t, err, orchestrator.ErrTaskNotFound)
}

func TestPollStatus_Throttled(t *testing.T) {
	_, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"es_rejected_execution_exception","reason":"busy"},"status":429}`))
	})

	_, err := c.PollStatus(context.Background(), "node-a:11")

	assert.ErrorIs(t, err, orchestrator.ErrThrottled)
}

func TestPollStatus_ServerErrorIsPlainFailure(t *testing.T) {
	_, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"type":"exception","reason":"shard failure"},"status":500}`))
	})

	_, err := c.PollStatus(context.Background(), "node-a:12")

	require.Error(t, err)
	assert.NotErrorIs(t, err, orchestrator.ErrThrottled)
	assert.NotErrorIs(t, err, orchestrator.ErrTaskNotFound)
	assert.Contains(t, err.Error(), "shard failure")
}

func TestCount_ReturnsDocumentCount(t *testing.T) {
	fc, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		_, _ = w.Write([]byte(`{"count": 100, "_shards": {"total": 1}}`))
	})

	count, err := c.Count(context.Background(), "new-events-v1-2024.03.01")

	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
	require.Len(t, fc.find("/new-events-v1-2024.03.01/_count"), 1)
}

func TestCount_MissingIndex(t *testing.T) {
	_, c := newFakeCluster(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`))
	})

	_, err := c.Count(context.Background(), "missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "index_not_found_exception")
}
