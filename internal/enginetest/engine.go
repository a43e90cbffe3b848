// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/session"
	"github.com/picklr-io/testbed/providers/docker"
)

// Engine is an in-memory engine.Engine. Calls are counted per method name and
// errors can be injected with Fail.
type Engine struct {
	mu         sync.Mutex
	seq        int
	calls      map[string]int
	failures   map[string]error
	networks   map[string]engine.NetworkInfo
	volumes    map[string]engine.VolumeInfo
	containers map[string]engine.ContainerInfo
	specs      map[string]engine.ContainerSpec
	holds      map[string]chan struct{}
	pulled     []string
	closed     bool
}

var _ engine.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{
		calls:      make(map[string]int),
		failures:   make(map[string]error),
		networks:   make(map[string]engine.NetworkInfo),
		volumes:    make(map[string]engine.VolumeInfo),
		containers: make(map[string]engine.ContainerInfo),
		specs:      make(map[string]engine.ContainerSpec),
		holds:      make(map[string]chan struct{}),
	}
}

// Fail makes every subsequent call to method return err. A nil err clears it.
func (e *Engine) Fail(method string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.failures, method)
		return
	}
	e.failures[method] = err
}

// Hold makes calls to method block until release is called. Calls are
// counted once they get past the hold.
func (e *Engine) Hold(method string) (release func()) {
	ch := make(chan struct{})
	e.mu.Lock()
	e.holds[method] = ch
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.holds, method)
			e.mu.Unlock()
			close(ch)
		})
	}
}

func (e *Engine) gate(method string) {
	e.mu.Lock()
	ch := e.holds[method]
	e.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

// Calls returns how many times method was invoked.
func (e *Engine) Calls(method string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[method]
}

// ContainerSpec returns the spec a container was created with.
func (e *Engine) ContainerSpec(id string) (engine.ContainerSpec, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	spec, ok := e.specs[id]
	return spec, ok
}

// Network returns the stored network, if any.
func (e *Engine) Network(id string) (engine.NetworkInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n, ok := e.networks[id]
	return n, ok
}

// Volume returns the stored volume, if any.
func (e *Engine) Volume(name string) (engine.VolumeInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.volumes[name]
	return v, ok
}

// Pulled returns the image references pulled so far.
func (e *Engine) Pulled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.pulled...)
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) enter(method string) error {
	e.calls[method]++
	return e.failures[method]
}

func (e *Engine) nextID(prefix string) string {
	e.seq++
	return prefix + "-" + strconv.Itoa(e.seq)
}

func notFound(kind, id string) error {
	return fmt.Errorf("no such %s %s: %w", kind, id, engine.ErrNotFound)
}

func (e *Engine) CreateNetwork(_ context.Context, spec engine.NetworkSpec) (string, error) {
	e.gate("CreateNetwork")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("CreateNetwork"); err != nil {
		return "", err
	}
	for _, n := range e.networks {
		if n.Name == spec.Name {
			return "", fmt.Errorf("network with name %s already exists", spec.Name)
		}
	}
	id := e.nextID("net")
	e.networks[id] = engine.NetworkInfo{
		ID:      id,
		Name:    spec.Name,
		Driver:  spec.Driver,
		Created: time.Now(),
		Labels:  maps.Clone(spec.Labels),
	}
	return id, nil
}

func (e *Engine) InspectNetwork(_ context.Context, id string) (engine.NetworkInfo, error) {
	e.gate("InspectNetwork")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("InspectNetwork"); err != nil {
		return engine.NetworkInfo{}, err
	}
	n, ok := e.networks[id]
	if !ok {
		return engine.NetworkInfo{}, notFound("network", id)
	}
	return n, nil
}

func (e *Engine) RemoveNetwork(_ context.Context, id string) error {
	e.gate("RemoveNetwork")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("RemoveNetwork"); err != nil {
		return err
	}
	if _, ok := e.networks[id]; !ok {
		return notFound("network", id)
	}
	delete(e.networks, id)
	return nil
}

func (e *Engine) CreateVolume(_ context.Context, spec engine.VolumeSpec) (string, error) {
	e.gate("CreateVolume")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("CreateVolume"); err != nil {
		return "", err
	}
	name := spec.Name
	if name == "" {
		name = e.nextID("vol")
	}
	e.volumes[name] = engine.VolumeInfo{
		Name:       name,
		Driver:     spec.Driver,
		Mountpoint: "/var/lib/docker/volumes/" + name + "/_data",
		Labels:     maps.Clone(spec.Labels),
	}
	return name, nil
}

func (e *Engine) InspectVolume(_ context.Context, name string) (engine.VolumeInfo, error) {
	e.gate("InspectVolume")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("InspectVolume"); err != nil {
		return engine.VolumeInfo{}, err
	}
	v, ok := e.volumes[name]
	if !ok {
		return engine.VolumeInfo{}, notFound("volume", name)
	}
	return v, nil
}

func (e *Engine) RemoveVolume(_ context.Context, name string) error {
	e.gate("RemoveVolume")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("RemoveVolume"); err != nil {
		return err
	}
	if _, ok := e.volumes[name]; !ok {
		return notFound("volume", name)
	}
	delete(e.volumes, name)
	return nil
}

func (e *Engine) PullImage(_ context.Context, ref string) error {
	e.gate("PullImage")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("PullImage"); err != nil {
		return err
	}
	e.pulled = append(e.pulled, ref)
	return nil
}

func (e *Engine) CreateContainer(_ context.Context, spec engine.ContainerSpec) (string, error) {
	e.gate("CreateContainer")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("CreateContainer"); err != nil {
		return "", err
	}
	id := e.nextID("ctr")
	name := spec.Name
	if name == "" {
		name = id
	}
	e.containers[id] = engine.ContainerInfo{
		ID:     id,
		Name:   name,
		Image:  spec.Image,
		Labels: maps.Clone(spec.Labels),
	}
	e.specs[id] = spec
	return id, nil
}

func (e *Engine) StartContainer(_ context.Context, id string) error {
	e.gate("StartContainer")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("StartContainer"); err != nil {
		return err
	}
	c, ok := e.containers[id]
	if !ok {
		return notFound("container", id)
	}
	c.Running = true
	c.Ports = make(map[string]string)
	for i, b := range e.specs[id].PortBindings {
		port := b.HostPort
		if port == "" {
			port = strconv.Itoa(49152 + i)
		}
		c.Ports[b.ContainerPort] = port
	}
	e.containers[id] = c
	return nil
}

func (e *Engine) StopContainer(_ context.Context, id string, _ time.Duration) error {
	e.gate("StopContainer")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("StopContainer"); err != nil {
		return err
	}
	c, ok := e.containers[id]
	if !ok {
		return notFound("container", id)
	}
	c.Running = false
	c.Ports = nil
	e.containers[id] = c
	return nil
}

func (e *Engine) InspectContainer(_ context.Context, id string) (engine.ContainerInfo, error) {
	e.gate("InspectContainer")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("InspectContainer"); err != nil {
		return engine.ContainerInfo{}, err
	}
	c, ok := e.containers[id]
	if !ok {
		return engine.ContainerInfo{}, notFound("container", id)
	}
	c.Ports = maps.Clone(c.Ports)
	return c, nil
}

func (e *Engine) RemoveContainer(_ context.Context, id string) error {
	e.gate("RemoveContainer")
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enter("RemoveContainer"); err != nil {
		return err
	}
	if _, ok := e.containers[id]; !ok {
		return notFound("container", id)
	}
	delete(e.containers, id)
	delete(e.specs, id)
	return nil
}

// Prune removes every object carrying the testbed labels for sessionID, or
// all testbed objects for an empty ID, mirroring docker.Client.Prune.
func (e *Engine) Prune(_ context.Context, sessionID string) (docker.PruneReport, error) {
	e.gate("Prune")
	e.mu.Lock()
	defer e.mu.Unlock()
	var report docker.PruneReport
	if err := e.enter("Prune"); err != nil {
		return report, err
	}
	owned := func(labels map[string]string) bool {
		if labels[session.LabelManaged] != "true" {
			return false
		}
		return sessionID == "" || labels[session.LabelSessionID] == sessionID
	}
	for id, c := range e.containers {
		if owned(c.Labels) {
			delete(e.containers, id)
			delete(e.specs, id)
			report.Containers = append(report.Containers, id)
		}
	}
	for id, n := range e.networks {
		if owned(n.Labels) {
			delete(e.networks, id)
			report.Networks = append(report.Networks, id)
		}
	}
	for name, v := range e.volumes {
		if owned(v.Labels) {
			delete(e.volumes, name)
			report.Volumes = append(report.Volumes, name)
		}
	}
	return report, nil
}

func (e *Engine) Host() string {
	return "localhost"
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
