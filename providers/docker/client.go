// Package docker implements engine.Engine against the Docker Engine API.
package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/picklr-io/testbed/internal/version"
	"github.com/picklr-io/testbed/pkg/engine"
)

// HeaderSessionID carries the session of the caller on every engine request.
const HeaderSessionID = "x-tb-sid"

// Client talks to a Docker daemon.
type Client struct {
	api  *client.Client
	host string
}

var _ engine.Engine = (*Client)(nil)

// New dials the engine described by ep. A zero endpoint falls back to the
// DOCKER_HOST family of environment variables. sessionID, when set, is sent
// with every request.
func New(ep engine.Endpoint, sessionID string) (*Client, error) {
	headers := map[string]string{"User-Agent": version.UserAgent()}
	if sessionID != "" {
		headers[HeaderSessionID] = sessionID
	}

	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
		client.WithHTTPHeaders(headers),
	}
	if ep.Host != "" {
		opts = append(opts, client.WithHost(ep.Host))
	}
	if ep.TLS() {
		opts = append(opts, client.WithTLSClientConfig(ep.TLSCACert, ep.TLSCert, ep.TLSKey))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Client{api: cli, host: reachableHost(cli.DaemonHost())}, nil
}

// reachableHost returns the address published ports are reachable on for the
// given daemon host.
func reachableHost(daemonHost string) string {
	u, err := client.ParseHostURL(daemonHost)
	if err != nil {
		return "localhost"
	}
	switch u.Scheme {
	case "tcp", "http", "https":
		if h, _, err := net.SplitHostPort(u.Host); err == nil && h != "" {
			return h
		}
		if u.Host != "" {
			return u.Host
		}
	}
	return "localhost"
}

// notFound maps a daemon 404 onto engine.ErrNotFound.
func notFound(err error) error {
	if err != nil && client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %w", engine.ErrNotFound, err)
	}
	return err
}

func (c *Client) CreateNetwork(ctx context.Context, spec engine.NetworkSpec) (string, error) {
	resp, err := c.api.NetworkCreate(ctx, spec.Name, network.CreateOptions{
		Driver:     spec.Driver,
		Internal:   spec.Internal,
		Attachable: spec.Attachable,
		Options:    spec.Options,
		Labels:     spec.Labels,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create network: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) InspectNetwork(ctx context.Context, id string) (engine.NetworkInfo, error) {
	res, err := c.api.NetworkInspect(ctx, id, network.InspectOptions{})
	if err != nil {
		return engine.NetworkInfo{}, notFound(err)
	}
	return engine.NetworkInfo{
		ID:      res.ID,
		Name:    res.Name,
		Driver:  res.Driver,
		Created: res.Created,
		Labels:  res.Labels,
	}, nil
}

func (c *Client) RemoveNetwork(ctx context.Context, id string) error {
	return notFound(c.api.NetworkRemove(ctx, id))
}

func (c *Client) CreateVolume(ctx context.Context, spec engine.VolumeSpec) (string, error) {
	vol, err := c.api.VolumeCreate(ctx, volume.CreateOptions{
		Name:       spec.Name,
		Driver:     spec.Driver,
		DriverOpts: spec.DriverOpts,
		Labels:     spec.Labels,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create volume: %w", err)
	}
	return vol.Name, nil
}

func (c *Client) InspectVolume(ctx context.Context, name string) (engine.VolumeInfo, error) {
	vol, err := c.api.VolumeInspect(ctx, name)
	if err != nil {
		return engine.VolumeInfo{}, notFound(err)
	}
	return engine.VolumeInfo{
		Name:       vol.Name,
		Driver:     vol.Driver,
		Mountpoint: vol.Mountpoint,
		Labels:     vol.Labels,
	}, nil
}

func (c *Client) RemoveVolume(ctx context.Context, name string) error {
	return notFound(c.api.VolumeRemove(ctx, name, true))
}

func (c *Client) PullImage(ctx context.Context, ref string) error {
	reader, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

func (c *Client) CreateContainer(ctx context.Context, spec engine.ContainerSpec) (string, error) {
	exposed := nat.PortSet{}
	for _, p := range spec.ExposedPorts {
		exposed[portKey(p)] = struct{}{}
	}
	bindings := nat.PortMap{}
	for _, b := range spec.PortBindings {
		key := portKey(b.ContainerPort)
		exposed[key] = struct{}{}
		bindings[key] = append(bindings[key], nat.PortBinding{HostIP: b.HostIP, HostPort: b.HostPort})
	}

	config := &container.Config{
		Image:        spec.Image,
		Entrypoint:   spec.Entrypoint,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   spec.WorkingDir,
		ExposedPorts: exposed,
		Labels:       spec.Labels,
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
		Binds:        spec.Binds,
		AutoRemove:   spec.AutoRemove,
	}

	netConfig := &network.NetworkingConfig{}
	if len(spec.Networks) > 0 {
		hostConfig.NetworkMode = container.NetworkMode(spec.Networks[0])
		netConfig.EndpointsConfig = make(map[string]*network.EndpointSettings, len(spec.Networks))
		for _, n := range spec.Networks {
			netConfig.EndpointsConfig[n] = &network.EndpointSettings{Aliases: spec.NetworkAliases}
		}
	}

	resp, err := c.api.ContainerCreate(ctx, config, hostConfig, netConfig, &v1.Platform{}, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

func (c *Client) StartContainer(ctx context.Context, id string) error {
	if err := c.api.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return notFound(err)
	}
	return nil
}

// StopContainer stops id, giving it timeout to exit before it is killed. A
// zero timeout uses the daemon default.
func (c *Client) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	opts := container.StopOptions{}
	if timeout > 0 {
		secs := int(timeout.Round(time.Second) / time.Second)
		opts.Timeout = &secs
	}
	return notFound(c.api.ContainerStop(ctx, id, opts))
}

func (c *Client) InspectContainer(ctx context.Context, id string) (engine.ContainerInfo, error) {
	res, err := c.api.ContainerInspect(ctx, id)
	if err != nil {
		return engine.ContainerInfo{}, notFound(err)
	}

	info := engine.ContainerInfo{
		Ports: make(map[string]string),
	}
	if res.ContainerJSONBase != nil {
		info.ID = res.ID
		info.Name = strings.TrimPrefix(res.Name, "/")
		info.Running = res.State != nil && res.State.Running
	}
	if res.Config != nil {
		info.Image = res.Config.Image
		info.Labels = res.Config.Labels
	}
	if res.NetworkSettings != nil {
		for port, published := range res.NetworkSettings.Ports {
			if hp := firstHostPort(published); hp != "" {
				info.Ports[string(port)] = hp
			}
		}
	}
	return info, nil
}

func (c *Client) RemoveContainer(ctx context.Context, id string) error {
	return notFound(c.api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}))
}

func (c *Client) Host() string {
	return c.host
}

func (c *Client) Close() error {
	return c.api.Close()
}

// portKey normalizes "3500" and "3500/tcp" to a nat.Port.
func portKey(p string) nat.Port {
	if strings.Contains(p, "/") {
		return nat.Port(p)
	}
	return nat.Port(p + "/tcp")
}

// firstHostPort prefers an IPv4 binding when the daemon publishes on both
// stacks.
func firstHostPort(bindings []nat.PortBinding) string {
	var fallback string
	for _, b := range bindings {
		if b.HostPort == "" {
			continue
		}
		if ip := net.ParseIP(b.HostIP); b.HostIP == "" || (ip != nil && ip.To4() != nil) {
			return b.HostPort
		}
		if fallback == "" {
			fallback = b.HostPort
		}
	}
	return fallback
}

