package mogtest

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dreamware/mogile/internal/storage"
)

// NodeRequest records one request seen by a StorageNode.
type NodeRequest struct {
	Method string
	Path   string
	Header http.Header
	Length int64
}

// StorageNode is an httptest server over a MemoryStore with fault injection.
type StorageNode struct {
	*httptest.Server
	Store *storage.MemoryStore

	mu         sync.Mutex
	requests   []NodeRequest
	failCount  int
	failStatus int
	failBody   string
}

// NewStorageNode starts a node that lives until the test ends.
func NewStorageNode(t testing.TB) *StorageNode {
	t.Helper()
	n := &StorageNode{Store: storage.NewMemoryStore()}
	handler := storage.NewHandler(n.Store, nil)
	n.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n.mu.Lock()
		n.requests = append(n.requests, NodeRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Length: r.ContentLength,
		})
		fail := n.failCount > 0
		status, body := n.failStatus, n.failBody
		if fail {
			n.failCount--
		}
		n.mu.Unlock()

		if fail {
			http.Error(w, body, status)
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(n.Close)
	return n
}

// URL returns the absolute URL of path on this node.
func (n *StorageNode) URL(path string) string {
	return n.Server.URL + path
}

// FailNext answers the next count requests with status and body.
func (n *StorageNode) FailNext(count, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failCount = count
	n.failStatus = status
	n.failBody = body
}

// Requests returns a copy of the requests seen so far.
func (n *StorageNode) Requests() []NodeRequest {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]NodeRequest(nil), n.requests...)
}

// DeadURL returns an http URL on a loopback port nothing listens on.
func DeadURL(t testing.TB, path string) string {
	t.Helper()
	return "http://" + DeadAddr(t) + path
}

// DeadAddr returns a loopback "host:port" that refuses connections.
func DeadAddr(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mogtest: listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
