// Copyright 2026 Spawn Labs.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package digitalocean provisions DigitalOcean droplets. It is
// referenced only by its registration in internal/provider/all.
package digitalocean

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"

	"github.com/spawn-sh/spawn/internal/cloudconfig"
	"github.com/spawn-sh/spawn/internal/creds"
	"github.com/spawn-sh/spawn/internal/driver"
	"github.com/spawn-sh/spawn/internal/interact"
	"github.com/spawn-sh/spawn/internal/manifest"
)

var logger = loggo.GetLogger("spawn.provider.digitalocean")

const (
	tokenVar      = "DIGITALOCEAN_TOKEN"
	defaultRegion = "nyc3"
	defaultSize   = "s-2vcpu-4gb"
	imageSlug     = "ubuntu-24-04-x64"
	sshKeyName    = "spawn"
	serverUser    = "root"
	managedTag    = "spawn"

	readyCeiling = 8 * time.Minute
	activePoll   = 5 * time.Second
	activeWait   = 3 * time.Minute
)

func init() {
	driver.Register("digitalocean", newDriver)
}

type doDriver struct {
	driver.SSHRemote
	cfg    driver.Config
	client *godo.Client
}

func newDriver(cfg driver.Config) (driver.Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &doDriver{
		SSHRemote: driver.SSHRemote{Clock: cfg.Clock},
		cfg:       cfg,
	}, nil
}

func (d *doDriver) Cloud() manifest.CloudDef {
	return d.cfg.CloudDef
}

// doctlToken reads the access token from an existing doctl CLI
// session, if one is configured on this machine.
func doctlToken() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".config", "doctl", "config.yaml"))
	if err != nil {
		return ""
	}
	var cfg struct {
		AccessToken string `yaml:"access-token"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return strings.TrimSpace(cfg.AccessToken)
}

// Authenticate resolves the API token from the environment, the saved
// bundle, a doctl session, then an interactive prompt, validating
// with an account probe before accepting it.
func (d *doDriver) Authenticate(ctx context.Context) error {
	token, source := d.cfg.Creds.Lookup("digitalocean", tokenVar)
	if token == "" {
		if token = doctlToken(); token != "" {
			source = "doctl session"
		}
	}
	prompted := false
	if token == "" {
		var err error
		token, err = d.cfg.Interactor.ReadLine("Enter your DigitalOcean API token: ")
		if err != nil {
			return errors.Annotate(driver.ErrNoCredentials, "digitalocean")
		}
		token = strings.TrimSpace(token)
		if token == "" {
			return errors.Annotate(driver.ErrNoCredentials, "digitalocean")
		}
		source = "prompt"
		prompted = true
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := godo.NewClient(oauth2.NewClient(ctx, ts))
	if _, _, err := client.Account.Get(ctx); err != nil {
		return errors.Annotatef(err, "validating digitalocean token from %s", source)
	}
	logger.Debugf("digitalocean token from %s validated", source)
	d.client = client
	if prompted {
		if err := d.cfg.Creds.Save("digitalocean", creds.Bundle{tokenVar: token}); err != nil {
			logger.Warningf("could not save digitalocean token: %v", err)
		}
	}
	return nil
}

func family(slug string) string {
	if i := strings.IndexByte(slug, '-'); i > 0 {
		return slug[:i]
	}
	return slug
}

func (d *doDriver) catalog(ctx context.Context, region string) ([]driver.Offering, error) {
	sizes, _, err := d.client.Sizes.List(ctx, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return nil, errors.Annotate(err, "listing sizes")
	}
	inRegion := func(s godo.Size) bool {
		for _, r := range s.Regions {
			if r == region {
				return true
			}
		}
		return false
	}
	offerings := make([]driver.Offering, 0, len(sizes))
	for _, s := range sizes {
		offerings = append(offerings, driver.Offering{
			Name:        s.Slug,
			Family:      family(s.Slug),
			Cores:       s.Vcpus,
			MemoryGB:    float64(s.Memory) / 1024,
			HourlyPrice: s.PriceHourly,
			Available:   s.Available && inRegion(s),
		})
	}
	return offerings, nil
}

func (d *doDriver) PromptSize(ctx context.Context, spec *driver.LaunchSpec) error {
	if spec.Region == "" {
		spec.Region = defaultRegion
	}
	if spec.Size == "" {
		spec.Size = defaultSize
	}
	offerings, err := d.catalog(ctx, spec.Region)
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
			return errors.Annotatef(err, "size %s unavailable in %s", spec.Size, spec.Region)
		}
		logger.Infof("size %s unavailable in %s, substituting %s", spec.Size, spec.Region, sub.Name)
		spec.Size = sub.Name
		return nil
	}
	return errors.NotFoundf("size %q", spec.Size)
}

func (d *doDriver) pickCustom(ctx context.Context, spec *driver.LaunchSpec, offerings []driver.Offering) error {
	regions, _, err := d.client.Regions.List(ctx, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return errors.Annotate(err, "listing regions")
	}
	regionOpts := make([]interact.Option, 0, len(regions))
	for _, r := range regions {
		if !r.Available {
			continue
		}
		regionOpts = append(regionOpts, interact.Option{Value: r.Slug, Label: r.Name})
	}
	region, err := d.cfg.Interactor.Pick("Region", regionOpts, spec.Region)
	if err != nil {
		return errors.Trace(err)
	}
	spec.Region = region

	sizeOpts := make([]interact.Option, 0, len(offerings))
	for _, o := range offerings {
		if !o.Available {
			continue
		}
		sizeOpts = append(sizeOpts, interact.Option{
			Value: o.Name,
			Label: fmt.Sprintf("%d vcpus, %.0f GB", o.Cores, o.MemoryGB),
			Hint:  fmt.Sprintf("%.4f/h", o.HourlyPrice),
		})
	}
	size, err := d.cfg.Interactor.Pick("Size", sizeOpts, spec.Size)
	if err != nil {
		return errors.Trace(err)
	}
	spec.Size = size
	return nil
}

func (d *doDriver) ensureSSHKey(ctx context.Context) (godo.DropletCreateSSHKey, error) {
	public, err := driver.LocalPublicKey()
	if err != nil {
		return godo.DropletCreateSSHKey{}, errors.Trace(err)
	}
	keys, _, err := d.client.Keys.List(ctx, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return godo.DropletCreateSSHKey{}, errors.Annotate(err, "listing ssh keys")
	}
	want := strings.TrimSpace(public)
	for _, k := range keys {
		if strings.TrimSpace(k.PublicKey) == want {
			return godo.DropletCreateSSHKey{ID: k.ID}, nil
		}
	}
	key, _, err := d.client.Keys.Create(ctx, &godo.KeyCreateRequest{
		Name:      sshKeyName,
		PublicKey: public,
	})
	if err != nil {
		return godo.DropletCreateSSHKey{}, errors.Annotate(err, "uploading ssh key")
	}
	return godo.DropletCreateSSHKey{ID: key.ID}, nil
}

func (d *doDriver) CreateServer(ctx context.Context, spec *driver.LaunchSpec) (*driver.Server, error) {
	key, err := d.ensureSSHKey(ctx)
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "digitalocean", Reason: "ssh key", Err: err}
	}
	droplet, _, err := d.client.Droplets.Create(ctx, &godo.DropletCreateRequest{
		Name:     spec.Name,
		Region:   spec.Region,
		Size:     spec.Size,
		Image:    godo.DropletCreateImage{Slug: imageSlug},
		SSHKeys:  []godo.DropletCreateSSHKey{key},
		UserData: spec.UserData,
		Tags:     []string{managedTag},
	})
	if err != nil {
		return nil, &driver.ProvisionError{Cloud: "digitalocean", Reason: "create droplet", Err: err}
	}
	ip, err := d.waitForAddress(ctx, droplet.ID)
	if err != nil {
		// The droplet exists but never became reachable; destroy it
		// rather than strand a billable resource.
		if derr := d.Destroy(ctx, strconv.Itoa(droplet.ID)); derr != nil {
			logger.Warningf("cleaning up droplet %d: %v", droplet.ID, derr)
		}
		return nil, &driver.ProvisionError{Cloud: "digitalocean", Reason: "waiting for address", Err: err}
	}
	return &driver.Server{
		ID:    strconv.Itoa(droplet.ID),
		Name:  spec.Name,
		IP:    ip,
		User:  serverUser,
		Cloud: "digitalocean",
		Metadata: map[string]string{
			"region": spec.Region,
			"size":   spec.Size,
		},
	}, nil
}

// waitForAddress polls the droplet until it is active with a public
// IPv4 address. Droplet creation is asynchronous.
func (d *doDriver) waitForAddress(ctx context.Context, id int) (string, error) {
	deadline := d.Clock.Now().Add(activeWait)
	for {
		droplet, _, err := d.client.Droplets.Get(ctx, id)
		if err == nil && droplet.Status == "active" {
			if ip, err := droplet.PublicIPv4(); err == nil && ip != "" {
				return ip, nil
			}
		}
		if d.Clock.Now().After(deadline) {
			return "", errors.Annotatef(driver.ErrReadyTimeout, "droplet %d not active after %v", id, activeWait)
		}
		select {
		case <-ctx.Done():
			return "", errors.Trace(ctx.Err())
		case <-d.Clock.After(activePoll):
		}
	}
}

func (d *doDriver) WaitReady(ctx context.Context, srv *driver.Server) error {
	return errors.Trace(d.WaitSSH(ctx, srv, cloudconfig.ReadyProbe, readyCeiling))
}

func isNotFound(err error) bool {
	var respErr *godo.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == 404
}

func (d *doDriver) Destroy(ctx context.Context, id string) error {
	dropletID, err := strconv.Atoi(id)
	if err != nil {
		return errors.NotValidf("droplet id %q", id)
	}
	_, err = d.client.Droplets.Delete(ctx, dropletID)
	if err == nil || isNotFound(err) {
		return nil
	}
	return errors.Annotatef(err, "deleting droplet %s", id)
}

func (d *doDriver) List(ctx context.Context) ([]driver.Server, error) {
	droplets, _, err := d.client.Droplets.ListByTag(ctx, managedTag, &godo.ListOptions{PerPage: 200})
	if err != nil {
		return nil, errors.Annotate(err, "listing droplets")
	}
	out := make([]driver.Server, 0, len(droplets))
	for _, droplet := range droplets {
		ip, _ := droplet.PublicIPv4()
		out = append(out, driver.Server{
			ID:    strconv.Itoa(droplet.ID),
			Name:  droplet.Name,
			IP:    ip,
			User:  serverUser,
			Cloud: "digitalocean",
		})
	}
	return out, nil
}
