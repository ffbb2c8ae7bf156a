package etl

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epar-io/eparload/internal/epar"
	"github.com/epar-io/eparload/internal/extract"
	"github.com/epar-io/eparload/internal/load"
	"github.com/epar-io/eparload/internal/spor"
)

const indexHeader = "Medicine name,Therapeutic area,Authorisation status,Active substance,Marketing authorisation holder/company name,Revision date,URL\n"

func indexServer(t *testing.T, csv string) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(csv))
	}))
	t.Cleanup(server.Close)

	return server
}

func newTestFeed(t *testing.T, csv string, batchSize int, client *spor.Client) *Feed {
	t.Helper()

	server := indexServer(t, csv)

	fetcher := extract.NewFetcher(&extract.Config{
		SourceURL:      server.URL,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     1,
		BatchSize:      batchSize,
	}, server.Client(), nil)

	return NewFeed(fetcher, NewTransformer(client, nil), nil, batchSize, "test-index-v1", nil)
}

func collectBatches(t *testing.T, feed *Feed, since *time.Time) []*load.Batch {
	t.Helper()

	var batches []*load.Batch

	for batch, err := range feed.Batches(context.Background(), since) {
		require.NoError(t, err)

		batches = append(batches, batch)
	}

	return batches
}

func TestFeedBatchesBySize(t *testing.T) {
	csv := indexHeader +
		"Med A,,Authorised,x,MAH A,2024-01-01,\n" +
		"Med B,,Authorised,y,MAH B,2024-01-02,\n" +
		"Med C,,Authorised,z,MAH C,2024-01-03,\n"

	feed := newTestFeed(t, csv, 2, nil)
	batches := collectBatches(t, feed, nil)

	require.Len(t, batches, 2)
	assert.Len(t, batches[0].Tables[0].Rows, 2)
	assert.Len(t, batches[1].Tables[0].Rows, 1)

	// The primary table leads every batch.
	assert.True(t, batches[0].Tables[0].Spec.Primary)
	assert.Equal(t, epar.TableIndex, batches[0].Tables[0].Spec.Table)
}

func TestFeedTracksHighWaterPerBatch(t *testing.T) {
	csv := indexHeader +
		"Med A,,Authorised,x,MAH A,2024-03-05,\n" +
		"Med B,,Authorised,y,MAH B,2024-03-09,\n"

	feed := newTestFeed(t, csv, 10, nil)
	batches := collectBatches(t, feed, nil)

	require.Len(t, batches, 1)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), batches[0].HighWater)
}

func TestFeedSkipsUnusableRows(t *testing.T) {
	csv := indexHeader +
		"Med A,,Authorised,x,MAH A,2024-01-01,\n" +
		"No Holder,,Authorised,x,,2024-01-02,\n"

	feed := newTestFeed(t, csv, 10, nil)
	batches := collectBatches(t, feed, nil)

	require.Len(t, batches, 1)
	assert.Len(t, batches[0].Tables[0].Rows, 1)
}

func TestFeedAppliesHighWaterMark(t *testing.T) {
	csv := indexHeader +
		"Old,,Authorised,x,MAH,2024-01-01,\n" +
		"New,,Authorised,y,MAH,2024-06-01,\n"

	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	feed := newTestFeed(t, csv, 10, nil)
	batches := collectBatches(t, feed, &since)

	require.Len(t, batches, 1)
	require.Len(t, batches[0].Tables[0].Rows, 1)
	assert.Equal(t, "New", batches[0].Tables[0].Rows[0]["medicine_name"])
}

func TestFeedEmptyInputYieldsNoBatches(t *testing.T) {
	feed := newTestFeed(t, indexHeader, 10, nil)
	batches := collectBatches(t, feed, nil)
	assert.Empty(t, batches)
}

func TestFeedSourceVersion(t *testing.T) {
	feed := newTestFeed(t, indexHeader, 10, nil)
	assert.Equal(t, "test-index-v1", feed.SourceVersion())
}

func TestFeedEnrichment(t *testing.T) {
	registry := http.NewServeMux()
	registry.HandleFunc("POST /Account", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]string{"accessToken": "token"},
		})
	})
	registry.HandleFunc("GET /v1/spor/oms/organisations", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]string{}
		if r.URL.Query().Get("name") == "MAH A" {
			items = append(items, map[string]string{"orgId": "ORG-1", "name": "MAH A", "countryCode": "DE"})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})
	registry.HandleFunc("GET /v1/spor/sms/substances", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]string{}
		if r.URL.Query().Get("name") == "aripiprazole" {
			items = append(items, map[string]string{"smsId": "SMS-1", "name": "aripiprazole"})
		}

		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})

	registryServer := httptest.NewServer(registry)
	t.Cleanup(registryServer.Close)

	client, err := spor.NewClient(spor.NewConfig(registryServer.URL, "user", "secret"), registryServer.Client(), nil)
	require.NoError(t, err)

	csv := indexHeader +
		"Med A,,Authorised,\"aripiprazole, unknownium\",MAH A,2024-01-01,\n"

	feed := newTestFeed(t, csv, 10, client)
	batches := collectBatches(t, feed, nil)

	require.Len(t, batches, 1)

	tables := make(map[string]load.TableBatch)
	for _, tb := range batches[0].Tables {
		tables[tb.Spec.Table] = tb
	}

	require.Contains(t, tables, epar.TableIndex)
	require.Contains(t, tables, epar.TableOrganizations)
	require.Contains(t, tables, epar.TableSubstances)
	require.Contains(t, tables, epar.TableLinks)

	assert.Equal(t, "ORG-1", tables[epar.TableIndex].Rows[0]["mah_oms_id"])
	assert.Equal(t, "SMS-1", tables[epar.TableSubstances].Rows[0]["substance_id"])

	link := tables[epar.TableLinks].Rows[0]
	assert.Equal(t, tables[epar.TableIndex].Rows[0]["epar_id"], link["epar_id"])
	assert.Equal(t, "SMS-1", link["substance_id"])
}
