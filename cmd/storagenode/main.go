// Package main implements a standalone storage node: the HTTP file server a
// tracker hands out as a destination for new files and as a read path for
// existing ones.
//
//	┌──────────────────────────────────────┐
//	│            storagenode               │
//	├──────────────────────────────────────┤
//	│  /health   liveness probe            │
//	│  /info     file count and bytes held │
//	│  /*        PUT GET HEAD DELETE MOVE  │
//	│            against the memory store  │
//	└──────────────────────────────────────┘
//
// Configuration:
//   - STORAGE_NAME: name reported by /info (default: the host name)
//   - STORAGE_LISTEN: listen address (default: ":7500")
//   - LOG_LEVEL: logrus level (default: "info")
//   - LOG_FORMAT: "text" or "json" (default: "text")
//
// Example:
//
//	STORAGE_LISTEN=:7500 ./storagenode
//	curl -X PUT --data-binary @photo.jpg localhost:7500/dev1/0/000/000/0000000001.fid
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/dreamware/mogile/internal/logging"
	"github.com/dreamware/mogile/internal/storage"
)

// logFatal is swapped out by tests.
var logFatal = logrus.Fatalf

func main() {
	listen := getenv("STORAGE_LISTEN", ":7500")
	hostname, _ := os.Hostname()
	name := getenv("STORAGE_NAME", hostname)

	log, err := logging.New(getenv("LOG_LEVEL", "info"), getenv("LOG_FORMAT", "text"), os.Stderr)
	if err != nil {
		logFatal("logging: %v", err)
		return
	}

	store := storage.NewMemoryStore()
	s := &http.Server{
		Addr:              listen,
		Handler:           newMux(name, store, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"node": name, "listen": listen}).Info("storage node listening")
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("shutdown")
	}
	stats := store.Stats()
	log.WithField("files", stats.Keys).Info("storage node stopped")
}

// nodeInfo is the /info response body.
type nodeInfo struct {
	Name  string `json:"name"`
	Files int    `json:"files"`
	Bytes int    `json:"bytes"`
	Human string `json:"human"`
}

func newMux(name string, store storage.Store, log logrus.FieldLogger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, _ *http.Request) {
		stats := store.Stats()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(nodeInfo{
			Name:  name,
			Files: stats.Keys,
			Bytes: stats.Bytes,
			Human: humanize.IBytes(uint64(stats.Bytes)),
		})
	})
	mux.Handle("/", storage.NewHandler(store, log))
	return mux
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
