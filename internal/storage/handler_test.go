package storage

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	srv := httptest.NewServer(NewHandler(store, nil))
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

// TestHandlerPutGet verifies whole-body writes and reads.
func TestHandlerPutGet(t *testing.T) {
	srv, store := newTestServer(t)

	resp, _ := do(t, http.MethodPut, srv.URL+"/dev1/1.fid", "hello world!", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, srv.URL+"/dev1/1.fid", "hello again!", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := do(t, http.MethodGet, srv.URL+"/dev1/1.fid", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello again!", body)

	stored, err := store.Get("/dev1/1.fid")
	require.NoError(t, err)
	assert.Equal(t, "hello again!", string(stored))
}

// TestHandlerRanges verifies Content-Range writes and Range reads.
func TestHandlerRanges(t *testing.T) {
	srv, _ := newTestServer(t)
	url := srv.URL + "/dev2/2.fid"

	resp, _ := do(t, http.MethodPut, url, "abc", map[string]string{"Content-Range": "bytes 0-2/*"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = do(t, http.MethodPut, url, "def", map[string]string{"Content-Range": "bytes 3-5/*"})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body := do(t, http.MethodGet, url, "", map[string]string{"Range": "bytes=2-4"})
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "cde", body)

	resp, _ = do(t, http.MethodGet, url, "", map[string]string{"Range": "bytes=6-10"})
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)

	resp, _ = do(t, http.MethodHead, url, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(6), resp.ContentLength)

	resp, _ = do(t, http.MethodPut, url, "x", map[string]string{"Content-Range": "bogus"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestHandlerMoveDelete verifies MOVE and DELETE.
func TestHandlerMoveDelete(t *testing.T) {
	srv, store := newTestServer(t)
	store.Put("/old.fid", []byte("data"))

	resp, _ := do(t, "MOVE", srv.URL+"/old.fid", "", map[string]string{"Destination": srv.URL + "/new.fid"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	_, err := store.Get("/old.fid")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	resp, _ = do(t, "MOVE", srv.URL+"/old.fid", "", map[string]string{"Destination": srv.URL + "/x.fid"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, "MOVE", srv.URL+"/new.fid", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/new.fid", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = do(t, http.MethodDelete, srv.URL+"/new.fid", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/new.fid", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/new.fid", "x", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestParseContentRangeStart covers the accepted header shapes.
func TestParseContentRangeStart(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"bytes 0-9/*", 0, false},
		{"bytes 100-199/*", 100, false},
		{"bytes 5-9/10", 5, false},
		{"0-9/*", 0, true},
		{"bytes x-9/*", 0, true},
		{"bytes -1-2/*", 0, true},
		{"bytes 7", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseContentRangeStart(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
