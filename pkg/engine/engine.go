// Package engine describes the container engine operations the lifecycle core
// depends on. The types here are engine-neutral; providers/docker implements
// Engine against the Docker Engine API.
package engine

import (
	"context"
	"time"

	"github.com/picklr-io/testbed/internal/sentinel"
)

// ErrNotFound is returned when the engine has no record of the requested
// object, or when an identity is queried on a resource that does not exist.
const ErrNotFound = sentinel.Error("resource not found")

// Endpoint describes how to reach the engine API. The zero value falls back to
// the DOCKER_HOST family of environment variables.
type Endpoint struct {
	Host      string `mapstructure:"host"`
	TLSCACert string `mapstructure:"tls_ca_cert"`
	TLSCert   string `mapstructure:"tls_cert"`
	TLSKey    string `mapstructure:"tls_key"`
}

// IsZero reports whether no endpoint field was set.
func (e Endpoint) IsZero() bool {
	return e == Endpoint{}
}

// TLS reports whether client certificates were configured.
func (e Endpoint) TLS() bool {
	return e.TLSCert != "" && e.TLSKey != ""
}

type NetworkSpec struct {
	Name       string
	Driver     string
	Internal   bool
	Attachable bool
	Options    map[string]string
	Labels     map[string]string
}

type NetworkInfo struct {
	ID      string
	Name    string
	Driver  string
	Created time.Time
	Labels  map[string]string
}

type VolumeSpec struct {
	Name       string
	Driver     string
	DriverOpts map[string]string
	Labels     map[string]string
}

type VolumeInfo struct {
	Name       string
	Driver     string
	Mountpoint string
	Labels     map[string]string
}

// PortBinding publishes ContainerPort ("3500/tcp") on the host. An empty
// HostPort lets the engine pick a free port.
type PortBinding struct {
	ContainerPort string
	HostIP        string
	HostPort      string
}

type ContainerSpec struct {
	Name           string
	Image          string
	Entrypoint     []string
	Cmd            []string
	Env            []string
	WorkingDir     string
	ExposedPorts   []string
	PortBindings   []PortBinding
	Binds          []string
	Networks       []string
	NetworkAliases []string
	Labels         map[string]string
	AutoRemove     bool
}

type ContainerInfo struct {
	ID      string
	Name    string
	Image   string
	Running bool
	// Ports maps a container port ("3500/tcp") to its first published host port.
	Ports  map[string]string
	Labels map[string]string
}

// Engine is the set of remote calls resources are built on. Every call is a
// single attempt; implementations do not retry.
type Engine interface {
	CreateNetwork(ctx context.Context, spec NetworkSpec) (string, error)
	InspectNetwork(ctx context.Context, id string) (NetworkInfo, error)
	RemoveNetwork(ctx context.Context, id string) error

	CreateVolume(ctx context.Context, spec VolumeSpec) (string, error)
	InspectVolume(ctx context.Context, name string) (VolumeInfo, error)
	RemoveVolume(ctx context.Context, name string) error

	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	InspectContainer(ctx context.Context, id string) (ContainerInfo, error)
	RemoveContainer(ctx context.Context, id string) error

	// Host is the address published ports are reachable on.
	Host() string
	Close() error
}
