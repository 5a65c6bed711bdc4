package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchLatest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("1.38.22\n"))
	}))
	defer ts.Close()

	source, err := NewHTTPSource(ts.URL)
	require.NoError(t, err)

	v, err := source.FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.38.22", v)
}

func TestFetchLatestNonOK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	source, err := NewHTTPSource(ts.URL)
	require.NoError(t, err)

	_, err = source.FetchLatest(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchLatestEmptyBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("  \n"))
	}))
	defer ts.Close()

	source, err := NewHTTPSource(ts.URL)
	require.NoError(t, err)

	_, err = source.FetchLatest(context.Background())
	assert.Error(t, err)
}

func TestNewHTTPSourceRequiresURL(t *testing.T) {
	_, err := NewHTTPSource("")
	assert.Error(t, err)
}
