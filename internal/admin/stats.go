package admin

import (
	"context"
	"fmt"

	"github.com/dreamware/mogile/internal/protocol"
)

// Fid is one row of list_fids.
type Fid struct {
	Fid      int64
	Key      string
	Domain   string
	Class    string
	Length   int64
	DevCount int64
}

// ListFids returns raw file rows with fids in [from, to], for walking the
// whole dataset.
func (a *Admin) ListFids(ctx context.Context, from, to int64) ([]Fid, error) {
	args := protocol.Args{}
	args["from"] = fmt.Sprint(from)
	args["to"] = fmt.Sprint(to)
	res, err := a.request(ctx, "list_fids", args)
	if err != nil {
		return nil, err
	}
	count, err := res.Count("fid_count")
	if err != nil {
		return nil, err
	}
	fids := make([]Fid, 0, count)
	for i := 1; i <= count; i++ {
		p := fmt.Sprintf("fid_%d_", i)
		f := Fid{Key: res[p+"key"], Domain: res[p+"domain"], Class: res[p+"class"]}
		if f.Fid, err = res.Int(p + "fid"); err != nil {
			return nil, err
		}
		if f.Length, err = optionalInt(res, p+"length"); err != nil {
			return nil, err
		}
		if f.DevCount, err = optionalInt(res, p+"devcount"); err != nil {
			return nil, err
		}
		fids = append(fids, f)
	}
	return fids, nil
}

// DeviceStats is the per-device part of Stats.
type DeviceStats struct {
	Host   string
	Status string
	Files  int64
}

// Stats is the tracker's summary of the dataset. Sections the tracker left
// out of its reply are nil.
type Stats struct {
	// Replication counts files by domain, class and number of copies.
	Replication map[string]map[string]map[int64]int64
	// Files counts files by domain and class.
	Files   map[string]map[string]int64
	Devices map[string]DeviceStats
	MaxFid  int64
}

// Stats fetches every statistics section.
func (a *Admin) Stats(ctx context.Context) (Stats, error) {
	res, err := a.request(ctx, "stats", protocol.Args{"all": "1"})
	if err != nil {
		return Stats{}, err
	}
	var st Stats

	if _, ok := res["replicationcount"]; ok {
		count, err := res.Count("replicationcount")
		if err != nil {
			return Stats{}, err
		}
		st.Replication = make(map[string]map[string]map[int64]int64)
		for i := 1; i <= count; i++ {
			p := fmt.Sprintf("replication%d", i)
			devcount, err := optionalInt(res, p+"devcount")
			if err != nil {
				return Stats{}, err
			}
			files, err := optionalInt(res, p+"fields")
			if err != nil {
				return Stats{}, err
			}
			domain, class := res[p+"domain"], res[p+"class"]
			if st.Replication[domain] == nil {
				st.Replication[domain] = make(map[string]map[int64]int64)
			}
			if st.Replication[domain][class] == nil {
				st.Replication[domain][class] = make(map[int64]int64)
			}
			st.Replication[domain][class][devcount] = files
		}
	}

	if _, ok := res["filescount"]; ok {
		count, err := res.Count("filescount")
		if err != nil {
			return Stats{}, err
		}
		st.Files = make(map[string]map[string]int64)
		for i := 1; i <= count; i++ {
			p := fmt.Sprintf("files%d", i)
			files, err := optionalInt(res, p+"files")
			if err != nil {
				return Stats{}, err
			}
			domain := res[p+"domain"]
			if st.Files[domain] == nil {
				st.Files[domain] = make(map[string]int64)
			}
			st.Files[domain][res[p+"class"]] = files
		}
	}

	if _, ok := res["devicescount"]; ok {
		count, err := res.Count("devicescount")
		if err != nil {
			return Stats{}, err
		}
		st.Devices = make(map[string]DeviceStats, count)
		for i := 1; i <= count; i++ {
			p := fmt.Sprintf("devices%d", i)
			files, err := optionalInt(res, p+"files")
			if err != nil {
				return Stats{}, err
			}
			st.Devices[res[p+"id"]] = DeviceStats{Host: res[p+"host"], Status: res[p+"status"], Files: files}
		}
	}

	if st.MaxFid, err = optionalInt(res, "fidmax"); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// ReplicateRow asks the tracker to run a replication pass now.
func (a *Admin) ReplicateRow(ctx context.Context) error {
	_, err := a.mutate(ctx, "replicate_row", nil)
	return err
}

// ClearCache drops the tracker's cached file locations.
func (a *Admin) ClearCache(ctx context.Context) error {
	_, err := a.mutate(ctx, "clear_cache", nil)
	return err
}
