package stack

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/picklr-io/testbed/internal/ir"
	"github.com/picklr-io/testbed/pkg/container"
	"github.com/picklr-io/testbed/pkg/network"
	"github.com/picklr-io/testbed/pkg/volume"
	"github.com/picklr-io/testbed/pkg/wait"
)

func networkBuilder(n *ir.Network) network.Builder {
	b := network.NewBuilder().WithName(n.Name).WithDriver(n.Driver)
	if n.Internal {
		b = b.WithInternal()
	}
	for k, v := range n.Labels {
		b = b.WithLabel(k, v)
	}
	return b
}

func volumeBuilder(v *ir.Volume) volume.Builder {
	b := volume.NewBuilder().WithName(v.Name).WithDriver(v.Driver)
	for k, val := range v.Labels {
		b = b.WithLabel(k, val)
	}
	return b
}

// containerBuilder translates a manifest container. volumes holds the names
// of volumes declared in the manifest; mounts whose source matches one are
// volume mounts, everything else is a host path.
func containerBuilder(c *ir.Container, volumes map[string]bool) (container.Builder, error) {
	b := container.NewBuilder().
		WithImage(c.Image).
		WithName(c.Name).
		WithEntrypoint(c.Entrypoint...).
		WithCommand(c.Command...).
		WithWorkingDir(c.WorkingDir).
		WithNetworkAliases(c.Aliases...)

	for k, v := range c.Env {
		b = b.WithEnv(k, v)
	}
	for k, v := range c.Labels {
		b = b.WithLabel(k, v)
	}
	for _, n := range c.Networks {
		b = b.WithNetwork(n)
	}
	for _, p := range c.Ports {
		host, ctr := parsePort(p)
		b = b.WithPortBinding(ctr, host)
	}
	for _, m := range c.Mounts {
		if m == nil {
			continue
		}
		if volumes[m.Source] {
			b = b.WithVolumeMount(m.Source, m.Target)
		} else {
			b = b.WithBindMount(m.Source, m.Target)
		}
	}

	if c.Wait != nil {
		s, err := waitStrategy(c.Wait)
		if err != nil {
			return b, fmt.Errorf("container %s: %w", c.Name, err)
		}
		b = b.WithWaitStrategy(s)
	}
	return b, nil
}

// parsePort splits "8080:80/tcp" into host and container parts. A bare
// container port gets an empty host port.
func parsePort(p string) (host, ctr string) {
	if h, c, ok := strings.Cut(p, ":"); ok {
		return h, c
	}
	return "", p
}

func waitStrategy(w *ir.Wait) (wait.Strategy, error) {
	timeout := wait.DefaultTimeout
	if w.Timeout != "" {
		d, err := time.ParseDuration(w.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid wait timeout %q: %w", w.Timeout, err)
		}
		timeout = d
	}

	switch {
	case w.HTTPPath != "":
		if w.Port == "" {
			return nil, fmt.Errorf("http wait on %s needs a port", w.HTTPPath)
		}
		s := wait.ForHTTP(w.HTTPPath).ForPort(w.Port).WithTimeout(timeout)
		if w.StatusCode != 0 {
			if http.StatusText(w.StatusCode) == "" {
				return nil, fmt.Errorf("invalid wait status code %d", w.StatusCode)
			}
			s = s.ForStatusCode(w.StatusCode)
		}
		return s, nil
	case w.Port != "":
		return wait.ForListeningPort(w.Port).WithTimeout(timeout), nil
	default:
		return nil, nil
	}
}
