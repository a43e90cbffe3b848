// Package container manages container engine containers.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/picklr-io/testbed/pkg/compose"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/resource"
	"github.com/picklr-io/testbed/pkg/wait"
)

// DefaultStopTimeout is how long Stop waits before the engine kills the
// container.
const DefaultStopTimeout = 10 * time.Second

// ResourceMapping mounts a host file or directory into the container.
type ResourceMapping struct {
	Source   string
	Target   string
	ReadOnly bool
}

func (m ResourceMapping) bind() (string, error) {
	src, err := filepath.Abs(m.Source)
	if err != nil {
		return "", fmt.Errorf("failed to resolve resource mapping %s: %w", m.Source, err)
	}
	bind := src + ":" + m.Target
	if m.ReadOnly {
		bind += ":ro"
	}
	return bind, nil
}

// VolumeMount mounts a named engine volume at Target.
type VolumeMount struct {
	Volume string
	Target string
}

// Config is the desired state of a container.
type Config struct {
	resource.Config
	Image            string `validate:"required"`
	Name             string
	Entrypoint       []string
	Command          []string
	Env              []string
	ExposedPorts     []string
	PortBindings     []engine.PortBinding
	ResourceMappings []ResourceMapping
	VolumeMounts     []VolumeMount
	Networks         []string
	NetworkAliases   []string
	WorkingDir       string
	AutoRemove       bool
	StopTimeout      time.Duration
	WaitStrategy     wait.Strategy `validate:"-"`
}

// Merge layers newValue over c. The entrypoint is replaced as a whole; the
// other lists accumulate.
func (c Config) Merge(newValue Config) Config {
	merged := Config{
		Config:           c.Config.Merge(newValue.Config),
		Image:            compose.Combine(c.Image, newValue.Image),
		Name:             compose.Combine(c.Name, newValue.Name),
		Entrypoint:       compose.Override(c.Entrypoint, newValue.Entrypoint),
		Command:          compose.CombineSlice(c.Command, newValue.Command),
		Env:              compose.CombineSlice(c.Env, newValue.Env),
		ExposedPorts:     compose.CombineSlice(c.ExposedPorts, newValue.ExposedPorts),
		PortBindings:     compose.CombineSlice(c.PortBindings, newValue.PortBindings),
		ResourceMappings: compose.CombineSlice(c.ResourceMappings, newValue.ResourceMappings),
		VolumeMounts:     compose.CombineSlice(c.VolumeMounts, newValue.VolumeMounts),
		Networks:         compose.CombineSlice(c.Networks, newValue.Networks),
		NetworkAliases:   compose.CombineSlice(c.NetworkAliases, newValue.NetworkAliases),
		WorkingDir:       compose.Combine(c.WorkingDir, newValue.WorkingDir),
		AutoRemove:       compose.Combine(c.AutoRemove, newValue.AutoRemove),
		StopTimeout:      compose.Combine(c.StopTimeout, newValue.StopTimeout),
		WaitStrategy:     c.WaitStrategy,
	}
	if newValue.WaitStrategy != nil {
		merged.WaitStrategy = newValue.WaitStrategy
	}
	return merged
}

// Spec translates the configuration into an engine create request.
func (c Config) Spec() (engine.ContainerSpec, error) {
	binds := make([]string, 0, len(c.ResourceMappings)+len(c.VolumeMounts))
	for _, m := range c.ResourceMappings {
		b, err := m.bind()
		if err != nil {
			return engine.ContainerSpec{}, err
		}
		binds = append(binds, b)
	}
	for _, m := range c.VolumeMounts {
		binds = append(binds, m.Volume+":"+m.Target)
	}
	return engine.ContainerSpec{
		Name:           c.Name,
		Image:          c.Image,
		Entrypoint:     c.Entrypoint,
		Cmd:            c.Command,
		Env:            c.Env,
		WorkingDir:     c.WorkingDir,
		ExposedPorts:   c.ExposedPorts,
		PortBindings:   c.PortBindings,
		Binds:          binds,
		Networks:       c.Networks,
		NetworkAliases: c.NetworkAliases,
		Labels:         c.EngineLabels(),
		AutoRemove:     c.AutoRemove,
	}, nil
}

// NormalizePort returns port in "number/proto" form, defaulting to tcp.
func NormalizePort(port string) string {
	proto, p := nat.SplitProtoPort(port)
	np, err := nat.NewPort(proto, p)
	if err != nil {
		return port
	}
	return string(np)
}

// Builder accumulates a container Config.
type Builder struct {
	cfg Config
}

func NewBuilder() Builder {
	return Builder{}
}

// Merge layers c over the accumulated configuration and returns the result as
// a new Builder.
func (b Builder) Merge(c Config) Builder {
	return Builder{cfg: b.cfg.Merge(c)}
}

func (b Builder) WithImage(image string) Builder {
	return b.Merge(Config{Image: image})
}

func (b Builder) WithName(name string) Builder {
	return b.Merge(Config{Name: name})
}

// WithEntrypoint replaces the image entrypoint.
func (b Builder) WithEntrypoint(args ...string) Builder {
	return b.Merge(Config{Entrypoint: args})
}

// WithCommand appends args to the container command.
func (b Builder) WithCommand(args ...string) Builder {
	return b.Merge(Config{Command: args})
}

func (b Builder) WithEnv(key, value string) Builder {
	return b.Merge(Config{Env: []string{key + "=" + value}})
}

func (b Builder) WithExposedPort(port string) Builder {
	return b.Merge(Config{ExposedPorts: []string{NormalizePort(port)}})
}

// WithPortBinding publishes containerPort on hostPort. An empty hostPort
// binds a random free port.
func (b Builder) WithPortBinding(containerPort, hostPort string) Builder {
	return b.Merge(Config{PortBindings: []engine.PortBinding{{
		ContainerPort: NormalizePort(containerPort),
		HostPort:      hostPort,
	}}})
}

// WithResourceMapping mounts source read-only at target.
func (b Builder) WithResourceMapping(source, target string) Builder {
	return b.Merge(Config{ResourceMappings: []ResourceMapping{{Source: source, Target: target, ReadOnly: true}}})
}

// WithBindMount mounts source read-write at target.
func (b Builder) WithBindMount(source, target string) Builder {
	return b.Merge(Config{ResourceMappings: []ResourceMapping{{Source: source, Target: target}}})
}

// WithVolumeMount mounts the named volume at target.
func (b Builder) WithVolumeMount(volume, target string) Builder {
	return b.Merge(Config{VolumeMounts: []VolumeMount{{Volume: volume, Target: target}}})
}

func (b Builder) WithNetwork(name string) Builder {
	return b.Merge(Config{Networks: []string{name}})
}

func (b Builder) WithNetworkAliases(aliases ...string) Builder {
	return b.Merge(Config{NetworkAliases: aliases})
}

func (b Builder) WithWorkingDir(dir string) Builder {
	return b.Merge(Config{WorkingDir: dir})
}

// WithAutoRemove makes the engine remove the container once it exits.
func (b Builder) WithAutoRemove() Builder {
	return b.Merge(Config{AutoRemove: true})
}

func (b Builder) WithStopTimeout(d time.Duration) Builder {
	return b.Merge(Config{StopTimeout: d})
}

func (b Builder) WithWaitStrategy(s wait.Strategy) Builder {
	return b.Merge(Config{WaitStrategy: s})
}

func (b Builder) WithLabel(key, value string) Builder {
	return b.Merge(Config{Config: resource.Config{Labels: map[string]string{key: value}}})
}

func (b Builder) WithSessionID(id string) Builder {
	return b.Merge(Config{Config: resource.Config{SessionID: id}})
}

func (b Builder) WithEndpoint(ep engine.Endpoint) Builder {
	return b.Merge(Config{Config: resource.Config{Endpoint: ep}})
}

func (b Builder) WithEngine(e engine.Engine) Builder {
	return b.Merge(Config{Config: resource.Config{Engine: e}})
}

func (b Builder) WithLogger(l *slog.Logger) Builder {
	return b.Merge(Config{Config: resource.Config{Logger: l}})
}

func (b Builder) Config() Config {
	return b.cfg
}

// Build validates the configuration and returns a container that has not
// been created yet.
func (b Builder) Build() (*Container, error) {
	return New(b.cfg)
}

// New validates cfg and returns a container that has not been created yet.
func New(cfg Config) (*Container, error) {
	if err := resource.Validate(cfg); err != nil {
		return nil, err
	}
	eng, opts, err := cfg.Open()
	if err != nil {
		return nil, err
	}
	c := &Container{cfg: cfg, eng: eng}
	c.Managed = resource.New[engine.ContainerInfo](resource.KindContainer, adapter{eng: eng, cfg: cfg}, opts...)
	return c, nil
}

// Container is a managed engine container.
type Container struct {
	*resource.Managed[engine.ContainerInfo]
	cfg Config
	eng engine.Engine
}

var _ wait.Target = (*Container)(nil)

func (c *Container) Config() Config {
	return c.cfg
}

// ID returns the engine-assigned identifier, or ErrNotFound if the container
// does not exist.
func (c *Container) ID() (string, error) {
	st, err := c.State()
	if err != nil {
		return "", err
	}
	return st.ID, nil
}

func (c *Container) Name() (string, error) {
	st, err := c.State()
	if err != nil {
		return "", err
	}
	return st.Name, nil
}

// Running reports the last observed run state.
func (c *Container) Running() bool {
	st, err := c.State()
	return err == nil && st.Running
}

// Start creates the container if needed, starts it and blocks until the wait
// strategy reports it ready.
func (c *Container) Start(ctx context.Context) error {
	if err := c.Create(ctx); err != nil {
		return err
	}
	if err := c.Apply(ctx, "start", c.eng.StartContainer); err != nil {
		return err
	}
	if c.cfg.WaitStrategy == nil {
		return nil
	}
	if err := c.cfg.WaitStrategy.WaitUntilReady(ctx, c); err != nil {
		id, _ := c.ID()
		return resource.WrapEngine(resource.KindContainer, "wait", id, err)
	}
	return nil
}

// Stop stops a running container. The container is kept and can be started
// again.
func (c *Container) Stop(ctx context.Context) error {
	timeout := c.cfg.StopTimeout
	if timeout == 0 {
		timeout = DefaultStopTimeout
	}
	return c.Apply(ctx, "stop", func(ctx context.Context, id string) error {
		return c.eng.StopContainer(ctx, id, timeout)
	})
}

// Host returns the address published ports are reachable on.
func (c *Container) Host() string {
	return c.eng.Host()
}

// MappedPort returns the host port published for port ("3500" or
// "3500/tcp").
func (c *Container) MappedPort(port string) (string, error) {
	st, err := c.State()
	if err != nil {
		return "", err
	}
	hp, ok := st.Ports[NormalizePort(port)]
	if !ok {
		return "", fmt.Errorf("port %s is not published", port)
	}
	return hp, nil
}

type adapter struct {
	eng engine.Engine
	cfg Config
}

func (a adapter) Identity(st engine.ContainerInfo) string {
	return st.ID
}

func (a adapter) Create(ctx context.Context) (string, error) {
	spec, err := a.cfg.Spec()
	if err != nil {
		return "", err
	}
	if err := a.eng.PullImage(ctx, spec.Image); err != nil {
		return "", err
	}
	return a.eng.CreateContainer(ctx, spec)
}

func (a adapter) Lookup(ctx context.Context, id string) (engine.ContainerInfo, error) {
	return a.eng.InspectContainer(ctx, id)
}

func (a adapter) Delete(ctx context.Context, id string) error {
	return a.eng.RemoveContainer(ctx, id)
}
