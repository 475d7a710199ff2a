package storage

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Handler serves file content from a Store over the subset of HTTP/WebDAV a
// tracker-managed storage node needs:
//
//	PUT    /path   whole-body write, or partial write with Content-Range
//	GET    /path   read, honoring Range (416 past the end)
//	HEAD   /path   length probe
//	DELETE /path   remove
//	MOVE   /path   rename to the path of the Destination header
//
// Every request path is used verbatim as the store key.
type Handler struct {
	store Store
	log   logrus.FieldLogger
}

// NewHandler creates a handler over store. A nil logger uses the standard logrus logger.
func NewHandler(store Store, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{store: store, log: log}
}

// ServeHTTP routes by method.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	if key == "" || key == "/" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.handleGet(key, w, r)
	case http.MethodPut:
		h.handlePut(key, w, r)
	case http.MethodDelete:
		h.handleDelete(key, w)
	case "MOVE":
		h.handleMove(key, w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGet(key string, w http.ResponseWriter, r *http.Request) {
	value, err := h.store.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(value))
}

func (h *Handler) handlePut(key string, w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	_, sizeErr := h.store.Size(key)
	created := errors.Is(sizeErr, ErrKeyNotFound)

	if cr := r.Header.Get("Content-Range"); cr != "" {
		start, err := parseContentRangeStart(cr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.store.WriteAt(key, start, buf.Bytes()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else if err := h.store.Put(key, buf.Bytes()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.log.WithFields(logrus.Fields{"path": key, "bytes": buf.Len()}).Debug("stored")
	if created {
		w.WriteHeader(http.StatusCreated)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(key string, w http.ResponseWriter) {
	if _, err := h.store.Size(key); errors.Is(err, ErrKeyNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err := h.store.Delete(key); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMove(key string, w http.ResponseWriter, r *http.Request) {
	dest := r.Header.Get("Destination")
	if dest == "" {
		http.Error(w, "missing Destination header", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(dest)
	if err != nil || u.Path == "" {
		http.Error(w, "bad Destination header", http.StatusBadRequest)
		return
	}
	if err := h.store.Rename(key, u.Path); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// parseContentRangeStart extracts start from "bytes start-end/*".
func parseContentRangeStart(v string) (int64, error) {
	spec, ok := strings.CutPrefix(v, "bytes ")
	if !ok {
		return 0, fmt.Errorf("bad Content-Range %q", v)
	}
	startStr, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, fmt.Errorf("bad Content-Range %q", v)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return 0, fmt.Errorf("bad Content-Range %q", v)
	}
	return start, nil
}
