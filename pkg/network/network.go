// Package network manages container engine networks.
package network

import (
	"context"
	"log/slog"

	"github.com/lithammer/shortuuid"

	"github.com/picklr-io/testbed/pkg/compose"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/resource"
)

const DefaultDriver = "bridge"

// Config is the desired state of a network.
type Config struct {
	resource.Config
	Name       string `validate:"required"`
	Driver     string
	Internal   bool
	Attachable bool
	Options    map[string]string
}

func (c Config) merge(newValue Config) Config {
	return Config{
		Config:     c.Config.Merge(newValue.Config),
		Name:       compose.Combine(c.Name, newValue.Name),
		Driver:     compose.Combine(c.Driver, newValue.Driver),
		Internal:   compose.Combine(c.Internal, newValue.Internal),
		Attachable: compose.Combine(c.Attachable, newValue.Attachable),
		Options:    compose.CombineMap(c.Options, newValue.Options),
	}
}

// Builder accumulates a network Config. Every With method returns a new
// Builder and leaves the receiver untouched.
type Builder struct {
	cfg Config
}

// NewBuilder returns a builder for a bridge network with a random name.
func NewBuilder() Builder {
	return Builder{}.merge(Config{
		Name:   "testbed-" + shortuuid.New(),
		Driver: DefaultDriver,
	})
}

func (b Builder) merge(c Config) Builder {
	return Builder{cfg: b.cfg.merge(c)}
}

func (b Builder) WithName(name string) Builder {
	return b.merge(Config{Name: name})
}

func (b Builder) WithDriver(driver string) Builder {
	return b.merge(Config{Driver: driver})
}

// WithInternal restricts external access to the network.
func (b Builder) WithInternal() Builder {
	return b.merge(Config{Internal: true})
}

func (b Builder) WithAttachable() Builder {
	return b.merge(Config{Attachable: true})
}

// WithOption sets a driver option.
func (b Builder) WithOption(key, value string) Builder {
	return b.merge(Config{Options: map[string]string{key: value}})
}

func (b Builder) WithLabel(key, value string) Builder {
	return b.merge(Config{Config: resource.Config{Labels: map[string]string{key: value}}})
}

// WithSessionID marks the network as owned by a session; it is removed when
// the network is disposed.
func (b Builder) WithSessionID(id string) Builder {
	return b.merge(Config{Config: resource.Config{SessionID: id}})
}

func (b Builder) WithEndpoint(ep engine.Endpoint) Builder {
	return b.merge(Config{Config: resource.Config{Endpoint: ep}})
}

func (b Builder) WithEngine(e engine.Engine) Builder {
	return b.merge(Config{Config: resource.Config{Engine: e}})
}

func (b Builder) WithLogger(l *slog.Logger) Builder {
	return b.merge(Config{Config: resource.Config{Logger: l}})
}

// Config returns the accumulated configuration.
func (b Builder) Config() Config {
	return b.cfg
}

// Build validates the configuration and returns a network that has not been
// created yet.
func (b Builder) Build() (*Network, error) {
	if err := resource.Validate(b.cfg); err != nil {
		return nil, err
	}
	eng, opts, err := b.cfg.Open()
	if err != nil {
		return nil, err
	}
	n := &Network{cfg: b.cfg}
	n.Managed = resource.New[engine.NetworkInfo](resource.KindNetwork, adapter{eng: eng, cfg: b.cfg}, opts...)
	return n, nil
}

// Network is a managed engine network.
type Network struct {
	*resource.Managed[engine.NetworkInfo]
	cfg Config
}

// Config returns the configuration the network was built from.
func (n *Network) Config() Config {
	return n.cfg
}

// ID returns the engine-assigned identifier, or ErrNotFound if the network
// does not exist.
func (n *Network) ID() (string, error) {
	st, err := n.State()
	if err != nil {
		return "", err
	}
	return st.ID, nil
}

// Name returns the network name as reported by the engine, or ErrNotFound if
// the network does not exist.
func (n *Network) Name() (string, error) {
	st, err := n.State()
	if err != nil {
		return "", err
	}
	return st.Name, nil
}

type adapter struct {
	eng engine.Engine
	cfg Config
}

func (a adapter) Identity(st engine.NetworkInfo) string {
	return st.ID
}

func (a adapter) Create(ctx context.Context) (string, error) {
	return a.eng.CreateNetwork(ctx, engine.NetworkSpec{
		Name:       a.cfg.Name,
		Driver:     a.cfg.Driver,
		Internal:   a.cfg.Internal,
		Attachable: a.cfg.Attachable,
		Options:    a.cfg.Options,
		Labels:     a.cfg.EngineLabels(),
	})
}

func (a adapter) Lookup(ctx context.Context, id string) (engine.NetworkInfo, error) {
	return a.eng.InspectNetwork(ctx, id)
}

func (a adapter) Delete(ctx context.Context, id string) error {
	return a.eng.RemoveNetwork(ctx, id)
}
