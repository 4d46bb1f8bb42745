package fhevm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestServer(t *testing.T, fetches *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.Add(1)
		_ = json.NewEncoder(w).Encode(NetworkConfig{
			ChainID:    11155111,
			RelayerURL: "https://relayer.example",
			ACLAddress: "0xacl",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoaderFetchesManifestOnce(t *testing.T) {
	var fetches atomic.Int64
	srv := manifestServer(t, &fetches)

	l := NewLoader(srv.URL, nil)

	sdk, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://relayer.example", sdk.NetworkConfig.RelayerURL)

	_, err = l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), fetches.Load())
}

func TestLoaderConcurrentLoadsShareOneFetch(t *testing.T) {
	var fetches atomic.Int64
	srv := manifestServer(t, &fetches)

	l := NewLoader(srv.URL, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Load(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load())
}

func TestLoaderSurfacesLoadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	l := NewLoader(srv.URL, nil)
	_, err := l.Load(context.Background())

	var loadErr *SDKLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, srv.URL, loadErr.URL)
}

func TestLoaderRejectsInvalidManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(NetworkConfig{ChainID: 1}) // no relayer, no acl
	}))
	defer srv.Close()

	l := NewLoader(srv.URL, nil)
	_, err := l.Load(context.Background())

	var shapeErr *InvalidSDKShapeError
	assert.ErrorAs(t, err, &shapeErr)
}
