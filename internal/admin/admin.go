package admin

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dreamware/mogile/internal/protocol"
)

// ErrReadOnly is returned by mutating calls on a read-only Admin.
var ErrReadOnly = errors.New("operation not allowed on read-only admin")

// Requester sends one tracker command. *tracker.Conn satisfies it.
type Requester interface {
	Request(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error)
}

// Admin manages domains, classes, hosts, devices and server settings.
// Calls are serialized, so an Admin may be shared by goroutines.
type Admin struct {
	conn     Requester
	readonly bool
	mu       sync.Mutex
}

// New creates an Admin over conn.
func New(conn Requester, readonly bool) *Admin {
	return &Admin{conn: conn, readonly: readonly}
}

func (a *Admin) request(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	res, err := a.conn.Request(ctx, cmd, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	return res, nil
}

func (a *Admin) mutate(ctx context.Context, cmd string, args protocol.Args) (protocol.Response, error) {
	if a.readonly {
		return nil, ErrReadOnly
	}
	return a.request(ctx, cmd, args)
}

// GetDomains returns every domain with its classes and their mindevcount.
func (a *Admin) GetDomains(ctx context.Context) (map[string]map[string]int, error) {
	res, err := a.request(ctx, "get_domains", nil)
	if err != nil {
		return nil, err
	}
	count, err := res.Count("domains")
	if err != nil {
		return nil, err
	}
	out := make(map[string]map[string]int, count)
	for i := 1; i <= count; i++ {
		name, err := res.Require(fmt.Sprintf("domain%d", i))
		if err != nil {
			return nil, err
		}
		classCount, err := res.Count(fmt.Sprintf("domain%dclasses", i))
		if err != nil {
			return nil, err
		}
		classes := make(map[string]int, classCount)
		for j := 1; j <= classCount; j++ {
			cls, err := res.Require(fmt.Sprintf("domain%dclass%dname", i, j))
			if err != nil {
				return nil, err
			}
			n, err := res.Int(fmt.Sprintf("domain%dclass%dmindevcount", i, j))
			if err != nil {
				return nil, err
			}
			classes[cls] = int(n)
		}
		out[name] = classes
	}
	return out, nil
}

// CreateDomain creates domain.
func (a *Admin) CreateDomain(ctx context.Context, domain string) error {
	_, err := a.mutate(ctx, "create_domain", protocol.Args{"domain": domain})
	return err
}

// DeleteDomain deletes domain.
func (a *Admin) DeleteDomain(ctx context.Context, domain string) error {
	_, err := a.mutate(ctx, "delete_domain", protocol.Args{"domain": domain})
	return err
}

// CreateClass creates class in domain. A class that already exists is not an error.
func (a *Admin) CreateClass(ctx context.Context, domain, class string, mindevcount int) error {
	err := a.modifyClass(ctx, "create_class", domain, class, mindevcount)
	if protocol.IsCode(err, protocol.CodeClassExists) {
		return nil
	}
	return err
}

// UpdateClass changes the mindevcount of an existing class.
func (a *Admin) UpdateClass(ctx context.Context, domain, class string, mindevcount int) error {
	return a.modifyClass(ctx, "update_class", domain, class, mindevcount)
}

func (a *Admin) modifyClass(ctx context.Context, cmd, domain, class string, mindevcount int) error {
	args := protocol.Args{"domain": domain, "class": class}
	args.SetInt("mindevcount", int64(mindevcount))
	_, err := a.mutate(ctx, cmd, args)
	return err
}

// DeleteClass deletes class from domain.
func (a *Admin) DeleteClass(ctx context.Context, domain, class string) error {
	_, err := a.mutate(ctx, "delete_class", protocol.Args{"domain": domain, "class": class})
	return err
}

// ServerSettings returns the tracker's runtime settings.
func (a *Admin) ServerSettings(ctx context.Context) (map[string]string, error) {
	res, err := a.request(ctx, "server_settings", nil)
	if err != nil {
		return nil, err
	}
	count, err := res.Count("key_count")
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, count)
	for i := 1; i <= count; i++ {
		out[res[fmt.Sprintf("key_%d", i)]] = res[fmt.Sprintf("value_%d", i)]
	}
	return out, nil
}

// SetServerSetting sets one runtime setting.
func (a *Admin) SetServerSetting(ctx context.Context, key, value string) error {
	args := protocol.Args{}
	args.Set("key", key)
	args.Set("value", value)
	_, err := a.mutate(ctx, "set_server_setting", args)
	return err
}

// FsckStart starts the tracker's file check.
func (a *Admin) FsckStart(ctx context.Context) error {
	_, err := a.mutate(ctx, "fsck_start", nil)
	return err
}

// FsckStop stops the file check.
func (a *Admin) FsckStop(ctx context.Context) error {
	_, err := a.mutate(ctx, "fsck_stop", nil)
	return err
}

// FsckReset rewinds the file check to startpos.
func (a *Admin) FsckReset(ctx context.Context, policyOnly bool, startpos int64) error {
	args := protocol.Args{}
	args.SetBool("policy_only", policyOnly)
	args.SetInt("startpos", startpos)
	_, err := a.mutate(ctx, "fsck_reset", args)
	return err
}

// FsckClearLog empties the file check log.
func (a *Admin) FsckClearLog(ctx context.Context) error {
	_, err := a.mutate(ctx, "fsck_clearlog", nil)
	return err
}

// FsckStatus returns the raw status fields of the file check.
func (a *Admin) FsckStatus(ctx context.Context) (protocol.Response, error) {
	return a.request(ctx, "fsck_status", nil)
}

func optionalInt(res protocol.Response, key string) (int64, error) {
	v, ok := res[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("response field %q: %w", key, err)
	}
	return n, nil
}
