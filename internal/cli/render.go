package cli

import (
	"fmt"
	"io"
	"net"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/picklr-io/testbed/internal/stack"
	"github.com/picklr-io/testbed/pkg/container"
	"github.com/picklr-io/testbed/providers/docker"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// progress prints stack events as they arrive.
type progress struct {
	mu    sync.Mutex
	out   io.Writer
	count int
}

func newProgress(out io.Writer) *progress {
	return &progress{out: out}
}

func (p *progress) event(e stack.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Status {
	case "completed":
		p.count++
		fmt.Fprintf(p.out, "  %s %s %s %s\n", green("+"), e.Kind, e.Name, yellow(fmt.Sprintf("(%s)", e.Duration.Round(time.Millisecond))))
	case "failed":
		fmt.Fprintf(p.out, "  %s %s %s: %v\n", red("!"), e.Kind, e.Name, e.Err)
	}
}

// completed counts successful operations. During a rollback this includes
// the deletions.
func (p *progress) completed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func renderEndpoints(out io.Writer, containers []*container.Container) {
	if len(containers) == 0 {
		return
	}
	fmt.Fprintln(out, "\nContainers:")
	tw := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	for _, c := range containers {
		name, _ := c.Name()
		for _, b := range c.Config().PortBindings {
			hp, err := c.MappedPort(b.ContainerPort)
			if err != nil {
				continue
			}
			fmt.Fprintf(tw, "  %s\t%s\t-> %s\n", name, b.ContainerPort, net.JoinHostPort(c.Host(), hp))
		}
	}
	_ = tw.Flush()
}

func renderPrune(out io.Writer, r docker.PruneReport) {
	if r.Total() == 0 {
		fmt.Fprintln(out, "Nothing to remove.")
		return
	}
	fmt.Fprintf(out, "Removed %d container(s), %d network(s), %d volume(s).\n",
		len(r.Containers), len(r.Networks), len(r.Volumes))
}
