//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/getpup/reindex-orchestrator/remote/elastic"
	"github.com/google/uuid"
)

// getTestCluster returns a client for the cluster in ELASTICSEARCH_URL and skips the test if not set.
func getTestCluster(t *testing.T) (*elasticsearch.Client, *elastic.Client) {
	t.Helper()

	url := os.Getenv("ELASTICSEARCH_URL")
	if url == "" {
		t.Skip("ELASTICSEARCH_URL not set, skipping integration test")
	}

	es, err := elastic.NewES([]string{url}, os.Getenv("ELASTICSEARCH_USERNAME"), os.Getenv("ELASTICSEARCH_PASSWORD"))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	res, err := es.Info()
	if err != nil {
		t.Fatalf("failed to reach cluster: %v", err)
	}
	res.Body.Close()

	return es, elastic.New(elastic.Config{ES: es, KindField: "kind"})
}

// uniqueScope returns an index prefix that keeps parallel test runs apart.
func uniqueScope() string {
	return "it-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12] + "-"
}

// seedIndex writes docs into index and refreshes it.
func seedIndex(t *testing.T, es *elasticsearch.Client, index string, docs []string) {
	t.Helper()

	var body bytes.Buffer
	for _, doc := range docs {
		fmt.Fprintf(&body, "{\"index\":{\"_index\":%q}}\n%s\n", index, doc)
	}

	res, err := es.Bulk(bytes.NewReader(body.Bytes()), es.Bulk.WithRefresh("true"))
	if err != nil {
		t.Fatalf("failed to seed %s: %v", index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		t.Fatalf("failed to seed %s: %s", index, res.String())
	}
}

// dropIndices deletes indices. Errors are logged but don't fail the test.
func dropIndices(t *testing.T, es *elasticsearch.Client, indices ...string) {
	t.Helper()

	res, err := es.Indices.Delete(indices,
		es.Indices.Delete.WithContext(context.Background()),
		es.Indices.Delete.WithIgnoreUnavailable(true))
	if err != nil {
		t.Logf("warning: failed to drop %v: %v", indices, err)
		return
	}
	res.Body.Close()
}

// refresh makes copied documents visible to _count.
func refresh(t *testing.T, es *elasticsearch.Client, prefix string) {
	t.Helper()

	res, err := es.Indices.Refresh(es.Indices.Refresh.WithIndex(prefix + "*"))
	if err != nil {
		t.Fatalf("failed to refresh: %v", err)
	}
	res.Body.Close()
}
