// Package dapr runs a Dapr sidecar (daprd) as a managed container.
package dapr

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/picklr-io/testbed/pkg/compose"
	"github.com/picklr-io/testbed/pkg/container"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/resource"
	"github.com/picklr-io/testbed/pkg/wait"
)

const (
	Image      = "daprio/daprd"
	DefaultTag = "latest"

	HTTPPort = 3500
	GRPCPort = 50001
)

var (
	httpPort = strconv.Itoa(HTTPPort)
	grpcPort = strconv.Itoa(GRPCPort)
)

// Config is the desired state of a daprd container.
type Config struct {
	container.Config
	AppID             string `validate:"required"`
	AppPort           *int
	LogLevel          string
	AppChannelAddress string
	ResourcesPath     string
}

func (c Config) merge(newValue Config) Config {
	return Config{
		Config:            c.Config.Merge(newValue.Config),
		AppID:             compose.Combine(c.AppID, newValue.AppID),
		AppPort:           compose.Combine(c.AppPort, newValue.AppPort),
		LogLevel:          compose.Combine(c.LogLevel, newValue.LogLevel),
		AppChannelAddress: compose.Combine(c.AppChannelAddress, newValue.AppChannelAddress),
		ResourcesPath:     compose.Combine(c.ResourcesPath, newValue.ResourcesPath),
	}
}

// Builder accumulates a daprd Config. The Dapr-specific fields can each be
// set once; a second assignment returns a configuration error.
type Builder struct {
	cfg Config
}

// NewBuilder returns a builder for daprd:latest.
func NewBuilder() Builder {
	return NewBuilderWithTag(DefaultTag)
}

// NewBuilderWithTag returns a builder for the given daprd image tag with the
// HTTP and gRPC APIs published on random host ports.
func NewBuilderWithTag(tag string) Builder {
	base := container.NewBuilder().
		WithImage(Image+":"+tag).
		WithEntrypoint("./daprd").
		WithCommand("-dapr-http-port", httpPort).
		WithCommand("-dapr-grpc-port", grpcPort).
		WithPortBinding(httpPort, "").
		WithPortBinding(grpcPort, "").
		WithWaitStrategy(wait.ForHTTP("/v1.0/healthz").ForPort(httpPort).ForStatusCode(http.StatusNoContent))
	return Builder{cfg: Config{Config: base.Config()}}
}

func (b Builder) merge(c Config) Builder {
	return Builder{cfg: b.cfg.merge(c)}
}

// command returns a fragment that appends args to the daprd command line.
func command(args ...string) container.Config {
	return container.NewBuilder().WithCommand(args...).Config()
}

func (b Builder) WithAppID(appID string) (Builder, error) {
	if b.cfg.AppID != "" {
		return b, resource.SetOnce("AppID")
	}
	return b.merge(Config{AppID: appID, Config: command("--app-id", appID)}), nil
}

func (b Builder) WithAppPort(port int) (Builder, error) {
	if b.cfg.AppPort != nil {
		return b, resource.SetOnce("AppPort")
	}
	return b.merge(Config{AppPort: &port, Config: command("--app-port", strconv.Itoa(port))}), nil
}

func (b Builder) WithLogLevel(level string) (Builder, error) {
	if b.cfg.LogLevel != "" {
		return b, resource.SetOnce("LogLevel")
	}
	return b.merge(Config{LogLevel: level, Config: command("--log-level", level)}), nil
}

// WithAppChannelAddress sets the host daprd reaches the application on.
func (b Builder) WithAppChannelAddress(addr string) (Builder, error) {
	if b.cfg.AppChannelAddress != "" {
		return b, resource.SetOnce("AppChannelAddress")
	}
	return b.merge(Config{AppChannelAddress: addr, Config: command("--app-channel-address", addr)}), nil
}

// WithResourcesPath mounts the component definitions in path read-only at
// /<path>/ and points daprd at them. legacy selects the pre-1.11
// --components-path flag.
func (b Builder) WithResourcesPath(path string, legacy bool) (Builder, error) {
	if b.cfg.ResourcesPath != "" {
		return b, resource.SetOnce("ResourcesPath")
	}
	flag := "--resources-path"
	if legacy {
		flag = "--components-path"
	}
	frag := container.NewBuilder().
		WithCommand(flag, path).
		WithResourceMapping(path, "/"+path+"/").
		Config()
	return b.merge(Config{ResourcesPath: path, Config: frag}), nil
}

// WithContainer applies container-level settings. fn receives an empty
// container builder; whatever it configures is merged on top.
func (b Builder) WithContainer(fn func(container.Builder) container.Builder) Builder {
	return b.merge(Config{Config: fn(container.NewBuilder()).Config()})
}

func (b Builder) WithName(name string) Builder {
	return b.merge(Config{Config: container.Config{Name: name}})
}

func (b Builder) WithNetwork(name string) Builder {
	return b.WithContainer(func(c container.Builder) container.Builder { return c.WithNetwork(name) })
}

func (b Builder) WithNetworkAliases(aliases ...string) Builder {
	return b.WithContainer(func(c container.Builder) container.Builder { return c.WithNetworkAliases(aliases...) })
}

func (b Builder) WithSessionID(id string) Builder {
	return b.WithContainer(func(c container.Builder) container.Builder { return c.WithSessionID(id) })
}

func (b Builder) WithEndpoint(ep engine.Endpoint) Builder {
	return b.WithContainer(func(c container.Builder) container.Builder { return c.WithEndpoint(ep) })
}

func (b Builder) WithEngine(e engine.Engine) Builder {
	return b.WithContainer(func(c container.Builder) container.Builder { return c.WithEngine(e) })
}

func (b Builder) WithLogger(l *slog.Logger) Builder {
	return b.WithContainer(func(c container.Builder) container.Builder { return c.WithLogger(l) })
}

func (b Builder) Config() Config {
	return b.cfg
}

// Build validates the configuration; an AppID is required.
func (b Builder) Build() (*Container, error) {
	if err := resource.Validate(b.cfg); err != nil {
		return nil, err
	}
	c, err := container.New(b.cfg.Config)
	if err != nil {
		return nil, err
	}
	return &Container{Container: c, cfg: b.cfg}, nil
}

// Container is a running daprd sidecar.
type Container struct {
	*container.Container
	cfg Config
}

// DaprConfig returns the configuration the sidecar was built from.
func (c *Container) DaprConfig() Config {
	return c.cfg
}

// HTTPAddress returns the base URL of the Dapr HTTP API.
func (c *Container) HTTPAddress() (string, error) {
	return c.address(httpPort)
}

// GRPCAddress returns the base URL of the Dapr gRPC API.
func (c *Container) GRPCAddress() (string, error) {
	return c.address(grpcPort)
}

func (c *Container) address(port string) (string, error) {
	hp, err := c.MappedPort(port)
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(c.Host(), hp), nil
}
