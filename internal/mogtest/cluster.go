package mogtest

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/dreamware/mogile/internal/protocol"
)

// File is a committed key in a Cluster.
type File struct {
	Fid    int64
	Domain string
	Key    string
	Class  string
	Size   int64
	Paths  []string
}

type openFile struct {
	fid    int64
	domain string
	key    string
	class  string
	paths  map[string]bool
}

// Cluster is a minimal in-memory tracker with real storage nodes behind it.
// It implements enough of the tracker command set to drive the client, admin
// and transfer packages end to end.
type Cluster struct {
	Tracker *Tracker
	Nodes   []*StorageNode

	// DevCount is how many destinations create_open hands out when the client
	// asks for multi_dest. Zero means one per node.
	DevCount int

	// Legacy answers create_open with the single devid/path shape.
	Legacy bool

	// AutoReplicate copies a file to one more node on every get_paths call,
	// until it is on every node.
	AutoReplicate bool

	mu       sync.Mutex
	nextFid  int64
	files    map[string]*File
	open     map[int64]*openFile
	domains  map[string]map[string]int
	settings map[string]string
	closes   []protocol.Args
}

// NewCluster starts a tracker and nodes storage nodes.
func NewCluster(t testing.TB, nodes int) *Cluster {
	t.Helper()
	c := &Cluster{
		Tracker:  NewTracker(t),
		files:    make(map[string]*File),
		open:     make(map[int64]*openFile),
		domains:  make(map[string]map[string]int),
		settings: make(map[string]string),
	}
	for i := 0; i < nodes; i++ {
		c.Nodes = append(c.Nodes, NewStorageNode(t))
	}

	handlers := map[string]HandlerFunc{
		"noop":               c.noop,
		"sleep":              c.noop,
		"create_open":        c.createOpen,
		"create_close":       c.createClose,
		"get_paths":          c.getPaths,
		"delete":             c.delete,
		"rename":             c.rename,
		"list_keys":          c.listKeys,
		"file_info":          c.fileInfo,
		"edit_file":          c.editFile,
		"get_domains":        c.getDomains,
		"create_domain":      c.createDomain,
		"delete_domain":      c.deleteDomain,
		"create_class":       c.modifyClass,
		"update_class":       c.modifyClass,
		"delete_class":       c.deleteClass,
		"get_hosts":          c.getHosts,
		"get_devices":        c.getDevices,
		"server_settings":    c.serverSettings,
		"set_server_setting": c.setServerSetting,
		"list_fids":          c.listFids,
		"stats":              c.stats,
	}
	for cmd, fn := range handlers {
		c.Tracker.Handle(cmd, fn)
	}
	for _, cmd := range []string{"create_host", "update_host", "delete_host", "create_device", "set_state", "set_weight", "fsck_start", "fsck_stop", "fsck_reset", "fsck_clearlog", "fsck_status", "replicate_row", "clear_cache"} {
		c.Tracker.Handle(cmd, c.echo)
	}
	return c
}

// AddDomain registers a domain with optional classes (name → mindevcount).
func (c *Cluster) AddDomain(domain string, classes map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cls := make(map[string]int, len(classes))
	for k, v := range classes {
		cls[k] = v
	}
	c.domains[domain] = cls
}

// File returns a copy of the committed file for domain/key.
func (c *Cluster) File(domain, key string) (File, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.files[domain+"/"+key]
	if !ok {
		return File{}, false
	}
	out := *f
	out.Paths = append([]string(nil), f.Paths...)
	return out, true
}

// Closes returns the arguments of every create_close received.
func (c *Cluster) Closes() []protocol.Args {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Args(nil), c.closes...)
}

// Path returns the URL a fid gets on the node holding devid.
func (c *Cluster) Path(devid int, fid int64) string {
	return c.Nodes[devid-1].URL(fmt.Sprintf("/dev%d/0/000/000/%010d.fid", devid, fid))
}

func (c *Cluster) noop(Request) (protocol.Response, error) {
	return protocol.Response{}, nil
}

func (c *Cluster) echo(req Request) (protocol.Response, error) {
	res := protocol.Response{}
	for k, v := range req.Args {
		res[k] = v
	}
	return res, nil
}

func (c *Cluster) createOpen(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	domain := req.Args["domain"]
	if _, ok := c.domains[domain]; !ok {
		return nil, &protocol.CommandError{Code: "unreg_domain", Message: "Domain name invalid/not found"}
	}
	c.nextFid++
	fid := c.nextFid

	count := 1
	if req.Args["multi_dest"] == "1" {
		count = len(c.Nodes)
		if c.DevCount > 0 && c.DevCount < count {
			count = c.DevCount
		}
	}

	of := &openFile{fid: fid, domain: domain, key: req.Args["key"], class: req.Args["class"], paths: map[string]bool{}}
	res := protocol.Response{"fid": strconv.FormatInt(fid, 10)}
	for i := 1; i <= count; i++ {
		path := c.Path(i, fid)
		of.paths[path] = true
		if c.Legacy {
			res["devid"] = strconv.Itoa(i)
			res["path"] = path
			break
		}
		res[fmt.Sprintf("devid_%d", i)] = strconv.Itoa(i)
		res[fmt.Sprintf("path_%d", i)] = path
	}
	if !c.Legacy {
		res["dev_count"] = strconv.Itoa(count)
	}
	c.open[fid] = of
	return res, nil
}

func (c *Cluster) createClose(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closes = append(c.closes, req.Args)

	fid, _ := strconv.ParseInt(req.Args["fid"], 10, 64)
	of, ok := c.open[fid]
	if !ok {
		return nil, &protocol.CommandError{Code: "no_temp_file", Message: "No tempfile or file already closed"}
	}
	path := req.Args["path"]
	if !of.paths[path] {
		return nil, &protocol.CommandError{Code: "bogus_args", Message: "path does not match fid"}
	}
	size, _ := strconv.ParseInt(req.Args["size"], 10, 64)

	node, nodePath, err := c.locate(path)
	if err != nil {
		return nil, err
	}
	actual, err := node.Store.Size(nodePath)
	if err != nil {
		return nil, &protocol.CommandError{Code: "size_verify_error", Message: "Expected: " + req.Args["size"] + "; actual: missing"}
	}
	if actual != size {
		return nil, &protocol.CommandError{Code: "size_mismatch", Message: fmt.Sprintf("Expected: %d; actual: %d", size, actual)}
	}
	delete(c.open, fid)
	if size == 0 {
		return nil, &protocol.CommandError{Code: protocol.CodeEmptyFile, Message: "file is empty"}
	}

	c.files[of.domain+"/"+of.key] = &File{
		Fid:    fid,
		Domain: of.domain,
		Key:    of.key,
		Class:  of.class,
		Size:   size,
		Paths:  []string{path},
	}
	return protocol.Response{}, nil
}

func (c *Cluster) getPaths(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[req.Args["domain"]+"/"+req.Args["key"]]
	if !ok {
		return nil, &protocol.CommandError{Code: protocol.CodeUnknownKey, Message: "unknown_key"}
	}
	if c.AutoReplicate && len(f.Paths) < len(c.Nodes) {
		c.replicate(f)
	}

	paths := f.Paths
	if n, err := strconv.Atoi(req.Args["pathcount"]); err == nil && n > 0 && n < len(paths) {
		paths = paths[:n]
	}
	res := protocol.Response{"paths": strconv.Itoa(len(paths))}
	for i, p := range paths {
		res[fmt.Sprintf("path%d", i+1)] = p
	}
	return res, nil
}

// replicate copies f to the first node that does not hold it yet.
func (c *Cluster) replicate(f *File) {
	src, srcPath, err := c.locate(f.Paths[0])
	if err != nil {
		return
	}
	data, err := src.Store.Get(srcPath)
	if err != nil {
		return
	}
	for i := range c.Nodes {
		path := c.Path(i+1, f.Fid)
		if slices.Contains(f.Paths, path) {
			continue
		}
		_, nodePath, _ := c.locate(path)
		_ = c.Nodes[i].Store.Put(nodePath, data)
		f.Paths = append(f.Paths, path)
		return
	}
}

func (c *Cluster) delete(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := req.Args["domain"] + "/" + req.Args["key"]
	f, ok := c.files[id]
	if !ok {
		return nil, &protocol.CommandError{Code: protocol.CodeUnknownKey, Message: "unknown_key"}
	}
	for _, p := range f.Paths {
		if node, nodePath, err := c.locate(p); err == nil {
			_ = node.Store.Delete(nodePath)
		}
	}
	delete(c.files, id)
	return protocol.Response{}, nil
}

func (c *Cluster) rename(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	domain := req.Args["domain"]
	from, to := domain+"/"+req.Args["from_key"], domain+"/"+req.Args["to_key"]
	f, ok := c.files[from]
	if !ok {
		return nil, &protocol.CommandError{Code: protocol.CodeUnknownKey, Message: "unknown_key"}
	}
	if _, exists := c.files[to]; exists {
		return nil, &protocol.CommandError{Code: "key_exists", Message: "Target key name already exists; can't overwrite."}
	}
	delete(c.files, from)
	f.Key = req.Args["to_key"]
	c.files[to] = f
	return protocol.Response{}, nil
}

func (c *Cluster) listKeys(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	domain := req.Args["domain"]
	prefix, after := req.Args["prefix"], req.Args["after"]
	limit := 1000
	if n, err := strconv.Atoi(req.Args["limit"]); err == nil && n > 0 {
		limit = n
	}

	var keys []string
	for _, f := range c.files {
		if f.Domain == domain && strings.HasPrefix(f.Key, prefix) && f.Key > after {
			keys = append(keys, f.Key)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil, &protocol.CommandError{Code: "none_match", Message: "No keys match that pattern and after-value (if any)."}
	}
	if len(keys) > limit {
		keys = keys[:limit]
	}

	res := protocol.Response{
		"key_count":  strconv.Itoa(len(keys)),
		"next_after": keys[len(keys)-1],
	}
	for i, k := range keys {
		res[fmt.Sprintf("key_%d", i+1)] = k
	}
	return res, nil
}

func (c *Cluster) fileInfo(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[req.Args["domain"]+"/"+req.Args["key"]]
	if !ok {
		return nil, &protocol.CommandError{Code: protocol.CodeUnknownKey, Message: "unknown_key"}
	}
	return protocol.Response{
		"fid":      strconv.FormatInt(f.Fid, 10),
		"domain":   f.Domain,
		"key":      f.Key,
		"class":    f.Class,
		"length":   strconv.FormatInt(f.Size, 10),
		"devcount": strconv.Itoa(len(f.Paths)),
	}, nil
}

// editFile opens a new fid on the device of the first path and reports both
// paths; the client MOVEs the content itself.
func (c *Cluster) editFile(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[req.Args["domain"]+"/"+req.Args["key"]]
	if !ok {
		return nil, &protocol.CommandError{Code: protocol.CodeUnknownKey, Message: "unknown_key"}
	}
	devid := c.devidOf(f.Paths[0])
	c.nextFid++
	fid := c.nextFid
	newPath := c.Path(devid, fid)
	c.open[fid] = &openFile{fid: fid, domain: f.Domain, key: f.Key, class: f.Class, paths: map[string]bool{newPath: true}}

	return protocol.Response{
		"oldpath": f.Paths[0],
		"newpath": newPath,
		"fid":     strconv.FormatInt(fid, 10),
		"devid":   strconv.Itoa(devid),
		"class":   f.Class,
	}, nil
}

func (c *Cluster) getDomains(Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.domains))
	for d := range c.domains {
		names = append(names, d)
	}
	sort.Strings(names)

	res := protocol.Response{"domains": strconv.Itoa(len(names))}
	for i, d := range names {
		res[fmt.Sprintf("domain%d", i+1)] = d
		classes := make([]string, 0, len(c.domains[d]))
		for cls := range c.domains[d] {
			classes = append(classes, cls)
		}
		sort.Strings(classes)
		res[fmt.Sprintf("domain%dclasses", i+1)] = strconv.Itoa(len(classes))
		for j, cls := range classes {
			res[fmt.Sprintf("domain%dclass%dname", i+1, j+1)] = cls
			res[fmt.Sprintf("domain%dclass%dmindevcount", i+1, j+1)] = strconv.Itoa(c.domains[d][cls])
		}
	}
	return res, nil
}

func (c *Cluster) createDomain(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := req.Args["domain"]
	if _, ok := c.domains[d]; ok {
		return nil, &protocol.CommandError{Code: "domain_exists", Message: "That domain already exists"}
	}
	c.domains[d] = map[string]int{}
	return protocol.Response{"domain": d}, nil
}

func (c *Cluster) deleteDomain(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := req.Args["domain"]
	if _, ok := c.domains[d]; !ok {
		return nil, &protocol.CommandError{Code: "domain_not_found", Message: "Domain not found"}
	}
	delete(c.domains, d)
	return protocol.Response{"domain": d}, nil
}

func (c *Cluster) modifyClass(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, cls := req.Args["domain"], req.Args["class"]
	classes, ok := c.domains[d]
	if !ok {
		return nil, &protocol.CommandError{Code: "domain_not_found", Message: "Domain not found"}
	}
	_, exists := classes[cls]
	switch {
	case req.Cmd == "create_class" && exists:
		return nil, &protocol.CommandError{Code: protocol.CodeClassExists, Message: "That class already exists in that domain"}
	case req.Cmd == "update_class" && !exists:
		return nil, &protocol.CommandError{Code: "class_not_found", Message: "Class not found"}
	}
	n, _ := strconv.Atoi(req.Args["mindevcount"])
	classes[cls] = n
	return protocol.Response{"domain": d, "class": cls, "mindevcount": strconv.Itoa(n)}, nil
}

func (c *Cluster) deleteClass(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, cls := req.Args["domain"], req.Args["class"]
	classes, ok := c.domains[d]
	if !ok {
		return nil, &protocol.CommandError{Code: "domain_not_found", Message: "Domain not found"}
	}
	if _, ok := classes[cls]; !ok {
		return nil, &protocol.CommandError{Code: "class_not_found", Message: "Class not found"}
	}
	delete(classes, cls)
	return protocol.Response{"domain": d, "class": cls}, nil
}

func (c *Cluster) getHosts(Request) (protocol.Response, error) {
	res := protocol.Response{"hosts": strconv.Itoa(len(c.Nodes))}
	for i, n := range c.Nodes {
		u, _ := url.Parse(n.Server.URL)
		p := fmt.Sprintf("host%d_", i+1)
		res[p+"hostid"] = strconv.Itoa(i + 1)
		res[p+"hostname"] = fmt.Sprintf("node-%d", i+1)
		res[p+"hostip"] = u.Hostname()
		res[p+"http_port"] = u.Port()
		res[p+"status"] = "alive"
	}
	return res, nil
}

func (c *Cluster) getDevices(Request) (protocol.Response, error) {
	res := protocol.Response{"devices": strconv.Itoa(len(c.Nodes))}
	for i, n := range c.Nodes {
		stats := n.Store.Stats()
		p := fmt.Sprintf("dev%d_", i+1)
		res[p+"devid"] = strconv.Itoa(i + 1)
		res[p+"hostid"] = strconv.Itoa(i + 1)
		res[p+"status"] = "alive"
		res[p+"observed_state"] = "writeable"
		res[p+"utilization"] = "0.5"
		res[p+"mb_total"] = "1024"
		res[p+"mb_used"] = strconv.Itoa(stats.Bytes >> 20)
		res[p+"weight"] = "100"
	}
	return res, nil
}

func (c *Cluster) serverSettings(Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.settings))
	for k := range c.settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	res := protocol.Response{"key_count": strconv.Itoa(len(keys))}
	for i, k := range keys {
		res[fmt.Sprintf("key_%d", i+1)] = k
		res[fmt.Sprintf("value_%d", i+1)] = c.settings[k]
	}
	return res, nil
}

func (c *Cluster) setServerSetting(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings[req.Args["key"]] = req.Args["value"]
	return protocol.Response{}, nil
}

// sortedFiles returns the committed files in fid order. c.mu must be held.
func (c *Cluster) sortedFiles() []*File {
	files := make([]*File, 0, len(c.files))
	for _, f := range c.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Fid < files[j].Fid })
	return files
}

func (c *Cluster) listFids(req Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	from, _ := strconv.ParseInt(req.Args["from"], 10, 64)
	to, _ := strconv.ParseInt(req.Args["to"], 10, 64)
	res := protocol.Response{}
	n := 0
	for _, f := range c.sortedFiles() {
		if f.Fid < from || f.Fid > to {
			continue
		}
		n++
		p := fmt.Sprintf("fid_%d_", n)
		res[p+"fid"] = strconv.FormatInt(f.Fid, 10)
		res[p+"key"] = f.Key
		res[p+"domain"] = f.Domain
		res[p+"class"] = f.Class
		res[p+"length"] = strconv.FormatInt(f.Size, 10)
		res[p+"devcount"] = strconv.Itoa(len(f.Paths))
	}
	res["fid_count"] = strconv.Itoa(n)
	return res, nil
}

func (c *Cluster) stats(Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	type group struct {
		domain, class string
		devcount      int
	}
	replication := map[group]int{}
	files := map[group]int{}
	perDevice := make([]int, len(c.Nodes))
	for _, f := range c.sortedFiles() {
		replication[group{f.Domain, f.Class, len(f.Paths)}]++
		files[group{domain: f.Domain, class: f.Class}]++
		for _, p := range f.Paths {
			if id := c.devidOf(p); id > 0 {
				perDevice[id-1]++
			}
		}
	}

	res := protocol.Response{"fidmax": strconv.FormatInt(c.nextFid, 10)}
	put := func(prefix string, groups map[group]int, fill func(p string, g group, n int)) {
		keys := make([]group, 0, len(groups))
		for g := range groups {
			keys = append(keys, g)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, b := keys[i], keys[j]
			if a.domain != b.domain {
				return a.domain < b.domain
			}
			if a.class != b.class {
				return a.class < b.class
			}
			return a.devcount < b.devcount
		})
		res[prefix+"count"] = strconv.Itoa(len(keys))
		for i, g := range keys {
			fill(fmt.Sprintf("%s%d", prefix, i+1), g, groups[g])
		}
	}
	put("replication", replication, func(p string, g group, n int) {
		res[p+"domain"] = g.domain
		res[p+"class"] = g.class
		res[p+"devcount"] = strconv.Itoa(g.devcount)
		res[p+"fields"] = strconv.Itoa(n)
	})
	put("files", files, func(p string, g group, n int) {
		res[p+"domain"] = g.domain
		res[p+"class"] = g.class
		res[p+"files"] = strconv.Itoa(n)
	})
	res["devicescount"] = strconv.Itoa(len(c.Nodes))
	for i, n := range perDevice {
		p := fmt.Sprintf("devices%d", i+1)
		res[p+"id"] = strconv.Itoa(i + 1)
		res[p+"host"] = fmt.Sprintf("node-%d", i+1)
		res[p+"status"] = "alive"
		res[p+"files"] = strconv.Itoa(n)
	}
	return res, nil
}

// locate maps an absolute path URL to its node and store key.
func (c *Cluster) locate(path string) (*StorageNode, string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, "", &protocol.CommandError{Code: "bogus_args", Message: "bad path"}
	}
	for _, n := range c.Nodes {
		if strings.HasPrefix(path, n.Server.URL+"/") {
			return n, u.Path, nil
		}
	}
	return nil, "", &protocol.CommandError{Code: "bogus_args", Message: "path on unknown host"}
}

func (c *Cluster) devidOf(path string) int {
	for i, n := range c.Nodes {
		if strings.HasPrefix(path, n.Server.URL+"/") {
			return i + 1
		}
	}
	return 1
}
