package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
)

// Fetch reads a whole file from the first of urls that serves it and returns
// the content with the URL it came from. A URL that fails mid-body is
// abandoned for the next one.
//
// http:// URLs are fetched with GET; file:// URLs and bare paths are read
// from the local filesystem.
func Fetch(ctx context.Context, urls []string, opts ...Option) ([]byte, string, error) {
	if len(urls) == 0 {
		return nil, "", ErrNoDestinations
	}
	cfg := newSettings(opts)
	var errs []error
	for _, u := range urls {
		rc, err := openOne(ctx, cfg, u)
		if err == nil {
			var data []byte
			data, err = io.ReadAll(rc)
			rc.Close()
			if err == nil {
				return data, u, nil
			}
			err = &TransportError{URL: u, Op: "receive", Err: err}
		}
		cfg.log.WithError(err).WithField("url", u).Warn("storage read failed")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

// Open returns a stream over the first of urls that answers. The caller must
// close it.
func Open(ctx context.Context, urls []string, opts ...Option) (io.ReadCloser, string, error) {
	if len(urls) == 0 {
		return nil, "", ErrNoDestinations
	}
	cfg := newSettings(opts)
	var errs []error
	for _, u := range urls {
		rc, err := openOne(ctx, cfg, u)
		if err == nil {
			return rc, u, nil
		}
		cfg.log.WithError(err).WithField("url", u).Warn("storage open failed")
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", fmt.Errorf("%w: %w", ErrExhausted, errors.Join(errs...))
}

func openOne(ctx context.Context, cfg settings, raw string) (io.ReadCloser, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
	switch u.Scheme {
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = raw
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, &TransportError{URL: raw, Op: "request", Err: err}
		}
		return f, nil
	case "http":
		resp, err := do(ctx, cfg.client, http.MethodGet, raw, nil, 0, nil)
		if err != nil {
			return nil, err
		}
		cfg.log.WithFields(logrus.Fields{"url": raw, "length": resp.ContentLength}).Debug("reading from storage")
		return resp.Body, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
}
