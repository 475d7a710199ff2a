package transfer

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/dreamware/mogile/internal/protocol"
)

// Destination is one storage location offered for a file.
type Destination struct {
	DevID int64  // Device id on the storage node, 0 when unknown (read path)
	URL   string // Absolute http URL
}

// ParseDestinations normalizes a create_open response into a priority-ordered
// destination list. Element 0 is the primary.
//
// Two response shapes exist:
//
//	devid=1&path=http://...                        (single destination)
//	dev_count=2&devid_1=1&path_1=...&devid_2=...   (indexed, multi_dest)
func ParseDestinations(res protocol.Response) ([]Destination, error) {
	if _, indexed := res["dev_count"]; !indexed {
		d, err := parseDestination(res, "devid", "path")
		if err != nil {
			return nil, err
		}
		return []Destination{d}, nil
	}

	count, err := res.Count("dev_count")
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("create_open: %w", ErrNoDestinations)
	}
	dests := make([]Destination, 0, count)
	for i := 1; i <= count; i++ {
		d, err := parseDestination(res, "devid_"+strconv.Itoa(i), "path_"+strconv.Itoa(i))
		if err != nil {
			return nil, err
		}
		dests = append(dests, d)
	}
	return dests, nil
}

func parseDestination(res protocol.Response, devKey, pathKey string) (Destination, error) {
	devid, err := res.Int(devKey)
	if err != nil {
		return Destination{}, fmt.Errorf("create_open: %w", err)
	}
	path, err := res.Require(pathKey)
	if err != nil {
		return Destination{}, fmt.Errorf("create_open: %w", err)
	}
	if err := checkHTTP(path); err != nil {
		return Destination{}, err
	}
	return Destination{DevID: devid, URL: path}, nil
}

// checkHTTP accepts only absolute http:// URLs with a host.
func checkHTTP(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "http" || u.Host == "" {
		return fmt.Errorf("%w: %q (only http:// storage URLs are supported)", ErrUnsupportedURL, raw)
	}
	return nil
}
