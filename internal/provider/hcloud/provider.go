// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package hcloud provisions Hetzner Cloud servers. It is referenced
// only by its registration in internal/provider/all.
package hcloud

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/spawn-sh/spawn/internal/cloudconfig"
	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/driver"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/manifest"
)

var logger = loggo.GetLogger("spawn.provider.hcloud")

const (
	tokenVar        = "HCLOUD_TOKEN"
	defaultType     = "cx32"
	defaultLocation = "fsn1"
	imageName       = "ubuntu-24.04"
	sshKeyName      = "spawn"
	serverUser      = "root"

	// managedLabel marks servers we created so List never reports
	// instances belonging to somebody else's tooling.
	managedLabel = "managed-by"
	managedValue = "spawn"

	readyCeiling = 8 * time.Minute
)

func init() {
	driver.Register("hetzner", newDriver)
}

type hcloudDriver struct {
	driver.SSHRemote
	cfg    driver.Config
	client *hcloud.Client
}

func newDriver(cfg driver.Config) (driver.Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &hcloudDriver{
		SSHRemote: driver.SSHRemote{Clock: cfg.Clock},
		cfg:       cfg,
	}, nil
}

func (d *hcloudDriver) Cloud() manifest.CloudDef {
	return d.cfg.CloudDef
}

// Authenticate resolves the API token from the environment, then the
// saved bundle, then an interactive prompt. A token only counts once
// a read-only probe call has succeeded against it.
func (d *hcloudDriver) Authenticate(ctx context.Context) error {
	token, source := d.cfg.Creds.Lookup("hetzner", tokenVar)
	prompted := false
	if token == "" {
		var err error
		token, err = d.cfg.Interactor.ReadLine("Enter your Hetzner Cloud API token: ")
		if err != nil {
			return errors.Annotate(driver.ErrNoCredentials, "hetzner")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.Annotate(driver.ErrNoCredentials, "hetzner")
		}
		source = "prompt"
		prompted = true
	}
	client := hcloud.NewClient(hcloud.WithToken(token))
	if _, err := client.Location.All(ctx); err != nil {
		return errors.Annotatef(err, "validating hetzner token from %s", source)
	}
	logger.Debugf("hetzner token from %s validated", source)
	d.client = client
	if prompted {
		if err := d.cfg.Creds.Save("hetzner", creds.Bundle{tokenVar: token}); err != nil {
			logger.Warningf("could not save hetzner token: %v", err)
		}
	}
	return nil
}

func family(typeName string) string {
	return strings.TrimRight(typeName, "0123456789")
}

func (d *hcloudDriver) catalog(ctx context.Context) ([]driver.Offering, []*hcloud.ServerType, error) {
	types, err := d.client.ServerType.All(ctx)
	if err != nil {
		return nil, nil, errors.Annotate(err, "listing server types")
	}
	offerings := make([]driver.Offering, 0, len(types))
	for _, t := range types {
		offerings = append(offerings, driver.Offering{
			Name:        t.Name,
			Family:      family(t.Name),
			Cores:       t.Cores,
			MemoryGB:    float64(t.Memory),
			HourlyPrice: hourlyPrice(t),
			Available:   !t.IsDeprecated(),
		})
	}
	return offerings, types, nil
}

func hourlyPrice(t *hcloud.ServerType) float64 {
	if len(t.Pricings) == 0 {
		return 0
	}
	p, err := strconv.ParseFloat(t.Pricings[0].Hourly.Gross, 64)
	if err != nil {
		return 0
	}
	return p
}

// PromptSize settles location and server type. With Custom set it
// walks the user through pickers; otherwise it validates any explicit
// request against the catalog, substituting when the requested type is
// unavailable.
func (d *hcloudDriver) PromptSize(ctx context.Context, spec *driver.LaunchSpec) error {
	if spec.Region == "" {
		spec.Region = defaultLocation
	}
	if spec.Size == "" {
		spec.Size = defaultType
	}
	offerings, _, err := d.catalog(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if spec.Custom {
		if err := d.pickCustom(ctx, spec, offerings); err != nil {
			return errors.Trace(err)
		}
	}
	for _, o := range offerings {
		if o.Name != spec.Size {
			continue
		}
		if o.Available {
			return nil
		}
		sub, err := driver.Substitute(driver.Requirements{
			Family:   o.Family,
			Cores:    o.Cores,
			MemoryGB: o.MemoryGB,
		}, offerings)
		if err != nil {
			return errors.Annotatef(err, "server type %s unavailable", spec.Size)
		}
		logger.Infof("server type %s unavailable, substituting %s", spec.Size, sub.Name)
		spec.Size = sub.Name
		return nil
	}
	return errors.NotFoundf("server type %q", spec.Size)
}

func (d *hcloudDriver) pickCustom(ctx context.Context, spec *driver.LaunchSpec, offerings []driver.Offering) error {
	locations, err := d.client.Location.All(ctx)
	if err != nil {
		return errors.Annotate(err, "listing locations")
	}
	locOpts := make([]interact.Option, 0, len(locations))
	for _, l := range locations {
		locOpts = append(locOpts, interact.Option{
			Value: l.Name,
			Label: l.City,
			Hint:  l.Country,
		})
	}
	region, err := d.cfg.Interactor.Pick("Location", locOpts, spec.Region)
	if err != nil {
		return errors.Trace(err)
	}
	spec.Region = region

	typeOpts := make([]interact.Option, 0, len(offerings))
	for _, o := range offerings {
		if !o.Available {
			continue
		}
		typeOpts = append(typeOpts, interact.Option{
			Value: o.Name,
			Label: fmt.Sprintf("%d cores, %.0f GB", o.Cores, o.MemoryGB),
			Hint:  fmt.Sprintf("%.4f/h", o.HourlyPrice),
		})
	}
	size, err := d.cfg.Interactor.Pick("Server type", typeOpts, spec.Size)
	if err != nil {
		return errors.Trace(err)
	}
	spec.Size = size
	return nil
}

// ensureSSHKey uploads the local public key under a fixed name,
// reusing whichever key object already holds the same material.
func (d *hcloudDriver) ensureSSHKey(ctx context.Context) (*hcloud.SSHKey, error) {
	public, err := driver.LocalPublicKey()
	if err != nil {
		return nil, errors.Trace(err)
	}
	key, _, err := d.client.SSHKey.GetByName(ctx, sshKeyName)
	if err != nil {
		return nil, errors.Annotate(err, "looking up ssh key")
	}
	if key != nil {
		return key, nil
	}
	key, _, err = d.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      sshKeyName,
		PublicKey: public,
	})
	if err == nil {
		return key, nil
	}
	if hcloud.IsError(err, hcloud.ErrorCodeUniquenessError) {
		// Same material under another name.
		keys, kerr := d.client.SSHKey.All(ctx)
		if kerr != nil {
			return nil, errors.Annotate(kerr, "listing ssh keys")
		}
		want := strings.TrimSpace(public)
		for _, k := range keys {
			if strings.TrimSpace(k.PublicKey) == want {
				return k, nil
			}
		}
	}
	return nil, errors.Annotate(err, "uploading ssh key")
}

func (d *hcloudDriver) CreateServer(ctx context.Context, spec *driver.LaunchSpec) (*driver.Server, error) {
	key, err := d.ensureSSHKey(ctx)
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "hetzner", Reason: "ssh key", Err: err}
	}
	serverType, _, err := d.client.ServerType.GetByName(ctx, spec.Size)
	if err != nil || serverType == nil {
		return nil, &driver.ProvisionError{Cloud: "hetzner", Reason: "server type", Err: errors.NotFoundf("server type %q", spec.Size)}
	}
	image, _, err := d.client.Image.GetByNameAndArchitecture(ctx, imageName, serverType.Architecture)
	if err != nil || image == nil {
		return nil, &driver.ProvisionError{Cloud: "hetzner", Reason: "image", Err: errors.NotFoundf("image %q", imageName)}
	}
	result, _, err := d.client.Server.Create(ctx, hcloud.ServerCreateOpts{
		Name:       spec.Name,
		ServerType: serverType,
		Image:      image,
		Location:   &hcloud.Location{Name: spec.Region},
		UserData:   spec.UserData,
		SSHKeys:    []*hcloud.SSHKey{key},
		Labels:     map[string]string{managedLabel: managedValue},
	})
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "hetzner", Reason: "create server", Err: err}
	}
	srv := result.Server
	if srv.PublicNet.IPv4.IP == nil {
		// A server without a public address is unreachable; tear it
		// down rather than strand it.
		_, _, derr := d.client.Server.DeleteWithResult(ctx, srv)
		if derr != nil {
			logger.Warningf("cleaning up addressless server %d: %v", srv.ID, derr)
		}
		return nil, &driver.ProvisionError{Cloud: "hetzner", Reason: "no public address", Err: errors.NotProvisionedf("server %d", srv.ID)}
	}
	return &driver.Server{
		ID:    strconv.FormatInt(srv.ID, 10),
		Name:  srv.Name,
		IP:    srv.PublicNet.IPv4.IP.String(),
		User:  serverUser,
		Cloud: "hetzner",
		Metadata: map[string]string{
			"location":    spec.Region,
			"server_type": spec.Size,
		},
	}, nil
}

func (d *hcloudDriver) WaitReady(ctx context.Context, srv *driver.Server) error {
	return errors.Trace(d.WaitSSH(ctx, srv, cloudconfig.ReadyProbe, readyCeiling))
}

func (d *hcloudDriver) Destroy(ctx context.Context, id string) error {
	serverID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return errors.NotValidf("server id %q", id)
	}
	_, _, err = d.client.Server.DeleteWithResult(ctx, &hcloud.Server{ID: serverID})
	if hcloud.IsError(err, hcloud.ErrorCodeNotFound) {
		return nil
	}
	return errors.Annotatef(err, "deleting server %s", id)
}

func (d *hcloudDriver) List(ctx context.Context) ([]driver.Server, error) {
	servers, err := d.client.Server.AllWithOpts(ctx, hcloud.ServerListOpts{
		ListOpts: hcloud.ListOpts{LabelSelector: managedLabel + "=" + managedValue},
	})
	if err != nil {
		return nil, errors.Annotate(err, "listing servers")
	}
	out := make([]driver.Server, 0, len(servers))
	for _, s := range servers {
		ip := ""
		if s.PublicNet.IPv4.IP != nil {
			ip = s.PublicNet.IPv4.IP.String()
		}
		out = append(out, driver.Server{
			ID:    strconv.FormatInt(s.ID, 10),
			Name:  s.Name,
			IP:    ip,
			User:  serverUser,
			Cloud: "hetzner",
		})
	}
	return out, nil
}
