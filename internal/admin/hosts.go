package admin

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dreamware/mogile/internal/protocol"
)

// Host is a storage host as reported by get_hosts.
type Host struct {
	ID       int64
	Name     string
	IP       string
	HTTPPort int64
	Status   string
}

// Device is a storage device as reported by get_devices.
type Device struct {
	DevID         int64
	HostID        int64
	Status        string
	ObservedState string
	Utilization   float64
	MBTotal       int64
	MBUsed        int64
	Weight        int64
}

// GetHosts lists storage hosts. A non-zero hostid restricts it to one host.
func (a *Admin) GetHosts(ctx context.Context, hostid int64) ([]Host, error) {
	args := protocol.Args{}
	args.SetInt("hostid", hostid)
	res, err := a.request(ctx, "get_hosts", args)
	if err != nil {
		return nil, err
	}
	count, err := res.Count("hosts")
	if err != nil {
		return nil, err
	}
	hosts := make([]Host, 0, count)
	for i := 1; i <= count; i++ {
		p := fmt.Sprintf("host%d_", i)
		h := Host{Name: res[p+"hostname"], IP: res[p+"hostip"], Status: res[p+"status"]}
		if h.ID, err = res.Int(p + "hostid"); err != nil {
			return nil, err
		}
		if h.HTTPPort, err = optionalInt(res, p+"http_port"); err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// HostSpec holds the fields of create_host and update_host. Empty fields are
// not sent.
type HostSpec struct {
	IP     string
	Port   int
	Status string
}

// CreateHost registers a storage host.
func (a *Admin) CreateHost(ctx context.Context, host string, spec HostSpec) error {
	_, err := a.mutate(ctx, "create_host", hostArgs(host, spec))
	return err
}

// UpdateHost changes a storage host.
func (a *Admin) UpdateHost(ctx context.Context, host string, spec HostSpec) error {
	_, err := a.mutate(ctx, "update_host", hostArgs(host, spec))
	return err
}

// DeleteHost removes a storage host.
func (a *Admin) DeleteHost(ctx context.Context, host string) error {
	_, err := a.mutate(ctx, "delete_host", protocol.Args{"host": host})
	return err
}

func hostArgs(host string, spec HostSpec) protocol.Args {
	args := protocol.Args{}
	args.Set("host", host)
	args.Set("ip", spec.IP)
	args.SetInt("port", int64(spec.Port))
	args.Set("status", spec.Status)
	return args
}

// GetDevices lists devices. A non-zero devid restricts it to one device.
func (a *Admin) GetDevices(ctx context.Context, devid int64) ([]Device, error) {
	args := protocol.Args{}
	args.SetInt("devid", devid)
	res, err := a.request(ctx, "get_devices", args)
	if err != nil {
		return nil, err
	}
	count, err := res.Count("devices")
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, count)
	for i := 1; i <= count; i++ {
		p := fmt.Sprintf("dev%d_", i)
		d := Device{Status: res[p+"status"], ObservedState: res[p+"observed_state"]}
		if d.DevID, err = res.Int(p + "devid"); err != nil {
			return nil, err
		}
		if d.HostID, err = optionalInt(res, p+"hostid"); err != nil {
			return nil, err
		}
		if u := res[p+"utilization"]; u != "" {
			if d.Utilization, err = strconv.ParseFloat(u, 64); err != nil {
				return nil, fmt.Errorf("response field %q: %w", p+"utilization", err)
			}
		}
		if d.MBTotal, err = optionalInt(res, p+"mb_total"); err != nil {
			return nil, err
		}
		if d.MBUsed, err = optionalInt(res, p+"mb_used"); err != nil {
			return nil, err
		}
		if d.Weight, err = optionalInt(res, p+"weight"); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// CreateDevice registers devid on hostname. hostip and state are optional.
func (a *Admin) CreateDevice(ctx context.Context, hostname string, devid int64, hostip, state string) error {
	args := protocol.Args{}
	args.Set("hostname", hostname)
	args.SetInt("devid", devid)
	args.Set("hostip", hostip)
	args.Set("state", state)
	_, err := a.mutate(ctx, "create_device", args)
	return err
}

// ChangeDeviceState sets the state of a device, e.g. "alive", "down" or "dead".
func (a *Admin) ChangeDeviceState(ctx context.Context, host string, device int64, state string) error {
	args := protocol.Args{}
	args.Set("host", host)
	args.SetInt("device", device)
	args.Set("state", state)
	_, err := a.mutate(ctx, "set_state", args)
	return err
}

// ChangeDeviceWeight sets the placement weight of a device.
func (a *Admin) ChangeDeviceWeight(ctx context.Context, host string, device int64, weight int) error {
	args := protocol.Args{}
	args.Set("host", host)
	args.SetInt("device", device)
	args["weight"] = strconv.Itoa(weight)
	_, err := a.mutate(ctx, "set_weight", args)
	return err
}

// UpdateDevice changes the state and weight of a device in one call. An empty
// state or a zero weight leaves that attribute alone.
func (a *Admin) UpdateDevice(ctx context.Context, host string, device int64, state string, weight int) error {
	if a.readonly {
		return ErrReadOnly
	}
	if state != "" {
		if err := a.ChangeDeviceState(ctx, host, device, state); err != nil {
			return err
		}
	}
	if weight != 0 {
		return a.ChangeDeviceWeight(ctx, host, device, weight)
	}
	return nil
}
