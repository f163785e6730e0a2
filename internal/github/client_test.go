package github

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(Config{Token: "test-token", BaseURL: server.URL})
	require.NoError(t, err)
	return c
}

func TestCreateBranch(t *testing.T) {
	var body struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/repos/octo/demo/git/refs", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{
			"ref": "refs/heads/conductor/run-1",
			"node_id": "REF_abc",
			"url": "https://example.test/repos/octo/demo/git/refs/heads/conductor/run-1",
			"object": {"sha": "deadbeef", "type": "commit"}
		}`))
	}))

	res, err := c.CreateBranch(context.Background(), BranchInput{
		Owner:   "octo",
		Repo:    "demo",
		Branch:  "conductor/run-1",
		BaseSHA: "deadbeef",
	})
	require.NoError(t, err)

	assert.Equal(t, "refs/heads/conductor/run-1", body.Ref)
	assert.Equal(t, "deadbeef", body.SHA)
	assert.Equal(t, "REF_abc", res.NodeID)
	assert.NotEmpty(t, res.URL)
}

func TestCreateBranch_NotFoundCarriesStatus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	}))

	_, err := c.CreateBranch(context.Background(), BranchInput{
		Owner:   "octo",
		Repo:    "gone",
		Branch:  "conductor/run-1",
		BaseSHA: "deadbeef",
	})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}
