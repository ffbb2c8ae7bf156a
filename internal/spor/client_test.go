package spor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	authCalls   atomic.Int32
	searchCalls atomic.Int32

	// organisations returned by the search endpoint, keyed by name query.
	organisations map[string][]Organisation
	substances    map[string][]Substance

	// failFirst makes the first search respond 503.
	failFirst bool
}

func (f *fakeRegistry) server(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("POST /Account", func(w http.ResponseWriter, _ *http.Request) {
		f.authCalls.Add(1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]string{"accessToken": "test-token"},
		})
	})

	mux.HandleFunc("GET /v1/spor/oms/organisations", func(w http.ResponseWriter, r *http.Request) {
		if f.searchCalls.Add(1) == 1 && f.failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		items := f.organisations[r.URL.Query().Get("name")]
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})

	mux.HandleFunc("GET /v1/spor/sms/substances", func(w http.ResponseWriter, r *http.Request) {
		f.searchCalls.Add(1)

		items := f.substances[r.URL.Query().Get("name")]
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func newTestClient(t *testing.T, registry *fakeRegistry) *Client {
	t.Helper()

	server := registry.server(t)

	client, err := NewClient(NewConfig(server.URL, "user", "secret"), server.Client(), nil)
	require.NoError(t, err)

	return client
}

func TestSearchOrganisationSingleMatch(t *testing.T) {
	registry := &fakeRegistry{
		organisations: map[string][]Organisation{
			"Test Pharma": {{OMSID: "ORG-123", Name: "Test Pharma"}},
		},
	}

	client := newTestClient(t, registry)
	cache := NewCache()

	org, err := client.SearchOrganisation(context.Background(), cache, "Test Pharma")
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, "ORG-123", org.OMSID)
}

func TestSearchOrganisationNoMatch(t *testing.T) {
	client := newTestClient(t, &fakeRegistry{organisations: map[string][]Organisation{}})
	cache := NewCache()

	org, err := client.SearchOrganisation(context.Background(), cache, "Unknown Pharma")
	require.NoError(t, err)
	assert.Nil(t, org)
}

func TestSearchOrganisationAmbiguousMatch(t *testing.T) {
	registry := &fakeRegistry{
		organisations: map[string][]Organisation{
			"Ambiguous Pharma": {
				{OMSID: "ORG-1", Name: "Ambiguous Pharma One"},
				{OMSID: "ORG-2", Name: "Ambiguous Pharma Two"},
			},
		},
	}

	client := newTestClient(t, registry)

	// Several candidates means no high-confidence match.
	org, err := client.SearchOrganisation(context.Background(), NewCache(), "Ambiguous Pharma")
	require.NoError(t, err)
	assert.Nil(t, org)
}

func TestSearchResultsAreCached(t *testing.T) {
	registry := &fakeRegistry{
		organisations: map[string][]Organisation{
			"Test Pharma": {{OMSID: "ORG-123", Name: "Test Pharma"}},
		},
	}

	client := newTestClient(t, registry)
	cache := NewCache()

	for range 3 {
		_, err := client.SearchOrganisation(context.Background(), cache, "Test Pharma")
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), registry.searchCalls.Load())
}

func TestNegativeResultsAreCached(t *testing.T) {
	registry := &fakeRegistry{organisations: map[string][]Organisation{}}
	client := newTestClient(t, registry)
	cache := NewCache()

	for range 3 {
		org, err := client.SearchOrganisation(context.Background(), cache, "Unknown Pharma")
		require.NoError(t, err)
		assert.Nil(t, org)
	}

	assert.Equal(t, int32(1), registry.searchCalls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestAuthTokenIsReused(t *testing.T) {
	registry := &fakeRegistry{
		organisations: map[string][]Organisation{},
		substances:    map[string][]Substance{},
	}

	client := newTestClient(t, registry)
	cache := NewCache()

	_, err := client.SearchOrganisation(context.Background(), cache, "A")
	require.NoError(t, err)
	_, err = client.SearchSubstance(context.Background(), cache, "B")
	require.NoError(t, err)

	assert.Equal(t, int32(1), registry.authCalls.Load())
}

func TestSearchRetriesTransientErrors(t *testing.T) {
	registry := &fakeRegistry{
		failFirst: true,
		organisations: map[string][]Organisation{
			"Retry Pharma": {{OMSID: "ORG-RETRY", Name: "Retry Pharma"}},
		},
	}

	client := newTestClient(t, registry)

	org, err := client.SearchOrganisation(context.Background(), NewCache(), "Retry Pharma")
	require.NoError(t, err)
	require.NotNil(t, org)
	assert.Equal(t, "ORG-RETRY", org.OMSID)
	assert.Equal(t, int32(2), registry.searchCalls.Load())
}

func TestSearchSubstance(t *testing.T) {
	registry := &fakeRegistry{
		substances: map[string][]Substance{
			"aripiprazole": {{SMSID: "SMS-42", Name: "aripiprazole"}},
		},
	}

	client := newTestClient(t, registry)

	sub, err := client.SearchSubstance(context.Background(), NewCache(), "aripiprazole")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "SMS-42", sub.SMSID)
}

func TestEmptyNameSkipsLookup(t *testing.T) {
	registry := &fakeRegistry{}
	client := newTestClient(t, registry)

	org, err := client.SearchOrganisation(context.Background(), NewCache(), "")
	require.NoError(t, err)
	assert.Nil(t, org)
	assert.Equal(t, int32(0), registry.searchCalls.Load())
}
