// Package volume manages container engine volumes.
package volume

import (
	"context"
	"log/slog"

	"github.com/lithammer/shortuuid"

	"github.com/picklr-io/testbed/pkg/compose"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/resource"
)

const DefaultDriver = "local"

// Config is the desired state of a volume.
type Config struct {
	resource.Config
	Name       string `validate:"required"`
	Driver     string
	DriverOpts map[string]string
}

func (c Config) merge(newValue Config) Config {
	return Config{
		Config:     c.Config.Merge(newValue.Config),
		Name:       compose.Combine(c.Name, newValue.Name),
		Driver:     compose.Combine(c.Driver, newValue.Driver),
		DriverOpts: compose.CombineMap(c.DriverOpts, newValue.DriverOpts),
	}
}

// Builder accumulates a volume Config. Every With method returns a new
// Builder.
type Builder struct {
	cfg Config
}

// NewBuilder returns a builder for a local volume with a random name.
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

func (b Builder) WithDriverOpt(key, value string) Builder {
	return b.merge(Config{DriverOpts: map[string]string{key: value}})
}

func (b Builder) WithLabel(key, value string) Builder {
	return b.merge(Config{Config: resource.Config{Labels: map[string]string{key: value}}})
}

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

func (b Builder) Config() Config {
	return b.cfg
}

// Build validates the configuration and returns a volume that has not been
// created yet.
func (b Builder) Build() (*Volume, error) {
	if err := resource.Validate(b.cfg); err != nil {
		return nil, err
	}
	eng, opts, err := b.cfg.Open()
	if err != nil {
		return nil, err
	}
	v := &Volume{cfg: b.cfg}
	v.Managed = resource.New[engine.VolumeInfo](resource.KindVolume, adapter{eng: eng, cfg: b.cfg}, opts...)
	return v, nil
}

// Volume is a managed engine volume. Volumes are identified by name.
type Volume struct {
	*resource.Managed[engine.VolumeInfo]
	cfg Config
}

func (v *Volume) Config() Config {
	return v.cfg
}

// Name returns the volume name, or ErrNotFound if the volume does not exist.
func (v *Volume) Name() (string, error) {
	st, err := v.State()
	if err != nil {
		return "", err
	}
	return st.Name, nil
}

// Mountpoint returns the host path backing the volume.
func (v *Volume) Mountpoint() (string, error) {
	st, err := v.State()
	if err != nil {
		return "", err
	}
	return st.Mountpoint, nil
}

type adapter struct {
	eng engine.Engine
	cfg Config
}

func (a adapter) Identity(st engine.VolumeInfo) string {
	return st.Name
}

func (a adapter) Create(ctx context.Context) (string, error) {
	return a.eng.CreateVolume(ctx, engine.VolumeSpec{
		Name:       a.cfg.Name,
		Driver:     a.cfg.Driver,
		DriverOpts: a.cfg.DriverOpts,
		Labels:     a.cfg.EngineLabels(),
	})
}

func (a adapter) Lookup(ctx context.Context, name string) (engine.VolumeInfo, error) {
	return a.eng.InspectVolume(ctx, name)
}

func (a adapter) Delete(ctx context.Context, name string) error {
	return a.eng.RemoveVolume(ctx, name)
}
