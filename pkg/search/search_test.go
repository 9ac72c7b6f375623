package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acme joinville site oficial", req["q"])
		assert.Equal(t, "br", req["gl"])
		assert.Equal(t, "pt-br", req["hl"])
		assert.EqualValues(t, 10, req["num"])

		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"title": "ACME", "link": "https://acme.example", "snippet": "Site oficial"},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", WithBaseURL(srv.URL))
	results, err := c.Search(context.Background(), "acme joinville site oficial", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://acme.example", results[0].Link)
}

func TestClientSearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient("bad-key", WithBaseURL(srv.URL))
	_, err := c.Search(context.Background(), "q", 10)
	assert.Error(t, err)
}

func TestBuildQueries(t *testing.T) {
	queries := BuildQueries("ACME Plásticos", "ACME PLASTICOS INDUSTRIAIS LTDA", "Joinville")
	require.Len(t, queries, 2)
	assert.Equal(t, "ACME Plásticos Joinville site oficial", queries[0])
	assert.Equal(t, "ACME PLASTICOS INDUSTRIAIS Joinville site oficial", queries[1])
}

func TestBuildQueriesSkipsDuplicateLegalName(t *testing.T) {
	queries := BuildQueries("ACME", "acme LTDA", "Joinville")
	require.Len(t, queries, 1, "cleaned legal name equal to trade name is dropped")
}

func TestBuildQueriesNoCity(t *testing.T) {
	queries := BuildQueries("ACME", "", "")
	require.Len(t, queries, 1)
	assert.Equal(t, "ACME site oficial", queries[0])
}

func TestCleanLegalName(t *testing.T) {
	assert.Equal(t, "FERRAGENS SUL", CleanLegalName("FERRAGENS SUL LTDA ME"))
	assert.Equal(t, "TRANSPORTES NORTE", CleanLegalName("TRANSPORTES NORTE S.A."))
	assert.Equal(t, "CONSULTORIA X", CleanLegalName("CONSULTORIA X EIRELI EPP"))
}

func TestIsBlacklisted(t *testing.T) {
	assert.True(t, IsBlacklisted("https://www.facebook.com/acme"))
	assert.True(t, IsBlacklisted("https://m.instagram.com/acme"))
	assert.True(t, IsBlacklisted("https://loja.mercadolivre.com.br/acme"), "subdomain of blacklisted domain")
	assert.True(t, IsBlacklisted("econodata.com.br/empresa/acme"), "scheme-less link")
	assert.False(t, IsBlacklisted("https://acme.com.br"))
	assert.False(t, IsBlacklisted(""))
}

func TestFilterResults(t *testing.T) {
	in := []Result{
		{Link: "https://acme.example"},
		{Link: "https://acme.example"},
		{Link: "https://facebook.com/acme"},
		{Link: "https://outra.example"},
		{Link: ""},
	}
	out := FilterResults(in)
	require.Len(t, out, 2)
	assert.Equal(t, "https://acme.example", out[0].Link)
	assert.Equal(t, "https://outra.example", out[1].Link)
}
