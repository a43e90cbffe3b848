// Package stack brings a manifest's networks, volumes and containers up as
// one session and tears them down again.
package stack

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/picklr-io/testbed/internal/ir"
	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/pkg/container"
	"github.com/picklr-io/testbed/pkg/engine"
	"github.com/picklr-io/testbed/pkg/network"
	"github.com/picklr-io/testbed/pkg/resource"
	"github.com/picklr-io/testbed/pkg/volume"
)

const defaultParallelism = 4

// Event reports progress on one resource.
type Event struct {
	Kind     resource.Kind
	Name     string
	Status   string // "started", "completed", "failed"
	Duration time.Duration
	Err      error
}

// Callback receives events. It may be called from several goroutines.
type Callback func(Event)

type Options struct {
	SessionID   string
	Engine      engine.Engine
	Parallelism int
	// Timeout bounds each resource operation.
	Timeout     time.Duration
	StopTimeout time.Duration
	Labels      map[string]string
	Logger      *slog.Logger
	Callback    Callback
}

// lifecycle is the part of a managed resource the runner drives.
type lifecycle interface {
	Exists() bool
	Delete(ctx context.Context) error
}

type member struct {
	kind resource.Kind
	name string
	res  lifecycle
}

// Stack is a set of resources created under one session.
type Stack struct {
	opts       Options
	networks   []*network.Network
	volumes    []*volume.Volume
	containers []*container.Container
	names      map[lifecycle]string
}

// Build validates every resource in m without contacting the engine.
func Build(m *ir.Manifest, opts Options) (*Stack, error) {
	if opts.Parallelism <= 0 {
		opts.Parallelism = defaultParallelism
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("stack")
	}
	s := &Stack{opts: opts, names: make(map[lifecycle]string)}

	declared := make(map[string]bool, len(m.Volumes))
	for _, v := range m.Volumes {
		declared[v.Name] = true
	}

	for _, n := range m.Networks {
		b := networkBuilder(n).WithSessionID(opts.SessionID).WithEngine(opts.Engine).WithLogger(opts.Logger)
		for k, v := range mergeLabels(m.Labels, opts.Labels) {
			b = b.WithLabel(k, v)
		}
		res, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("network %s: %w", n.Name, err)
		}
		s.networks = append(s.networks, res)
		s.names[res] = n.Name
	}
	for _, v := range m.Volumes {
		b := volumeBuilder(v).WithSessionID(opts.SessionID).WithEngine(opts.Engine).WithLogger(opts.Logger)
		for k, val := range mergeLabels(m.Labels, opts.Labels) {
			b = b.WithLabel(k, val)
		}
		res, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("volume %s: %w", v.Name, err)
		}
		s.volumes = append(s.volumes, res)
		s.names[res] = v.Name
	}
	for _, c := range m.Containers {
		b, err := containerBuilder(c, declared)
		if err != nil {
			return nil, err
		}
		b = b.WithSessionID(opts.SessionID).
			WithEngine(opts.Engine).
			WithLogger(opts.Logger).
			WithStopTimeout(opts.StopTimeout)
		for k, v := range mergeLabels(m.Labels, opts.Labels) {
			b = b.WithLabel(k, v)
		}
		res, err := b.Build()
		if err != nil {
			return nil, fmt.Errorf("container %s: %w", c.Name, err)
		}
		s.containers = append(s.containers, res)
		s.names[res] = c.Name
	}
	return s, nil
}

func mergeLabels(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func (s *Stack) emit(e Event) {
	if s.opts.Callback != nil {
		s.opts.Callback(e)
	}
}

// run executes op for one resource under the per-resource timeout and emits
// started/completed/failed events around it.
func (s *Stack) run(ctx context.Context, kind resource.Kind, name string, op func(ctx context.Context) error) error {
	ctx, cancel := WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := time.Now()
	s.emit(Event{Kind: kind, Name: name, Status: "started"})
	if err := op(ctx); err != nil {
		s.emit(Event{Kind: kind, Name: name, Status: "failed", Duration: time.Since(start), Err: err})
		return fmt.Errorf("%s %s: %w", kind, name, err)
	}
	s.emit(Event{Kind: kind, Name: name, Status: "completed", Duration: time.Since(start)})
	return nil
}

// Up creates networks and volumes in parallel, then starts containers in
// manifest order. If anything fails, whatever was created is removed again
// and the combined error is returned.
func (s *Stack) Up(ctx context.Context) error {
	// Siblings are not cancelled on the first failure; every create runs to
	// completion so the rollback sees a settled set of resources.
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for _, n := range s.networks {
		g.Go(func() error {
			return s.run(ctx, resource.KindNetwork, s.names[n], n.Create)
		})
	}
	for _, v := range s.volumes {
		g.Go(func() error {
			return s.run(ctx, resource.KindVolume, s.names[v], v.Create)
		})
	}
	err := g.Wait()

	if err == nil {
		for _, c := range s.containers {
			if err = s.run(ctx, resource.KindContainer, s.names[c], c.Start); err != nil {
				break
			}
		}
	}
	if err != nil {
		s.opts.Logger.Warn("bring-up failed, rolling back", slog.Any("err", err))
		// Roll back with a fresh context; ctx may be the reason we failed.
		if derr := s.Down(context.WithoutCancel(ctx)); derr != nil {
			err = multierr.Append(err, fmt.Errorf("rollback: %w", derr))
		}
		return err
	}
	return nil
}

// Down removes containers in reverse start order, then networks and volumes
// in parallel. Resources that were never created are skipped. Every removal
// is attempted; failures are combined.
func (s *Stack) Down(ctx context.Context) error {
	var errs error
	for _, c := range slices.Backward(s.containers) {
		if c.Exists() {
			errs = multierr.Append(errs, s.run(ctx, resource.KindContainer, s.names[c], c.Delete))
		}
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for _, m := range s.infra() {
		if !m.res.Exists() {
			continue
		}
		g.Go(func() error {
			err := s.run(ctx, m.kind, m.name, m.res.Delete)
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (s *Stack) infra() []member {
	out := make([]member, 0, len(s.networks)+len(s.volumes))
	for _, n := range s.networks {
		out = append(out, member{kind: resource.KindNetwork, name: s.names[n], res: n})
	}
	for _, v := range s.volumes {
		out = append(out, member{kind: resource.KindVolume, name: s.names[v], res: v})
	}
	return out
}

// Session describes the stack for the session store.
func (s *Stack) Session(manifest string, now time.Time) *ir.Session {
	sess := &ir.Session{ID: s.opts.SessionID, Manifest: manifest, CreatedAt: now}
	for _, n := range s.networks {
		if id, err := n.ID(); err == nil {
			sess.Networks = append(sess.Networks, id)
		}
	}
	for _, v := range s.volumes {
		if name, err := v.Name(); err == nil {
			sess.Volumes = append(sess.Volumes, name)
		}
	}
	for _, c := range s.containers {
		if id, err := c.ID(); err == nil {
			sess.Containers = append(sess.Containers, id)
		}
	}
	return sess
}

// Containers returns the stack's containers in start order.
func (s *Stack) Containers() []*container.Container {
	return slices.Clone(s.containers)
}
