package dapr

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/testbed/internal/enginetest"
	"github.com/picklr-io/testbed/internal/logging"
	"github.com/picklr-io/testbed/pkg/container"
	"github.com/picklr-io/testbed/pkg/resource"
	"github.com/picklr-io/testbed/pkg/wait"
)

func TestNewBuilder_Defaults(t *testing.T) {
	cfg := NewBuilder().Config()

	assert.Equal(t, "daprio/daprd:latest", cfg.Image)
	assert.Equal(t, []string{"./daprd"}, cfg.Entrypoint)
	assert.Equal(t, []string{"-dapr-http-port", "3500", "-dapr-grpc-port", "50001"}, cfg.Command)
	require.Len(t, cfg.PortBindings, 2)
	assert.Equal(t, "3500/tcp", cfg.PortBindings[0].ContainerPort)
	assert.Equal(t, "", cfg.PortBindings[0].HostPort)
	assert.Equal(t, "50001/tcp", cfg.PortBindings[1].ContainerPort)

	hs, ok := cfg.WaitStrategy.(wait.HTTPStrategy)
	require.True(t, ok)
	assert.Equal(t, "/v1.0/healthz", hs.Path())
	assert.Equal(t, "3500", hs.Port())
	assert.Equal(t, http.StatusNoContent, hs.StatusCode())

	assert.Equal(t, "daprio/daprd:1.14.4", NewBuilderWithTag("1.14.4").Config().Image)
}

func TestBuilder_SetOnceFields(t *testing.T) {
	b, err := NewBuilder().WithAppID("orders")
	require.NoError(t, err)

	again, err := b.WithAppID("payments")
	assert.ErrorIs(t, err, resource.ErrConfiguration)
	var cerr *resource.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "AppID", cerr.Field)
	// The receiver stays usable and unchanged.
	assert.Equal(t, "orders", again.Config().AppID)
	assert.Equal(t, "orders", b.Config().AppID)

	b, err = b.WithAppPort(8080)
	require.NoError(t, err)
	_, err = b.WithAppPort(9090)
	assert.ErrorIs(t, err, resource.ErrConfiguration)

	b, err = b.WithLogLevel("debug")
	require.NoError(t, err)
	_, err = b.WithLogLevel("info")
	assert.ErrorIs(t, err, resource.ErrConfiguration)

	b, err = b.WithAppChannelAddress("subscriber-app")
	require.NoError(t, err)
	_, err = b.WithAppChannelAddress("other")
	assert.ErrorIs(t, err, resource.ErrConfiguration)

	b, err = b.WithResourcesPath("components", false)
	require.NoError(t, err)
	_, err = b.WithResourcesPath("other", true)
	assert.ErrorIs(t, err, resource.ErrConfiguration)

	cfg := b.Config()
	require.NotNil(t, cfg.AppPort)
	assert.Equal(t, 8080, *cfg.AppPort)
	args := strings.Join(cfg.Command, " ")
	assert.Contains(t, args, "--app-id orders")
	assert.Contains(t, args, "--app-port 8080")
	assert.Contains(t, args, "--log-level debug")
	assert.Contains(t, args, "--app-channel-address subscriber-app")
	assert.Contains(t, args, "--resources-path components")
	assert.True(t, strings.HasPrefix(args, "-dapr-http-port 3500"))

	require.Len(t, cfg.ResourceMappings, 1)
	assert.Equal(t, container.ResourceMapping{Source: "components", Target: "/components/", ReadOnly: true}, cfg.ResourceMappings[0])
}

func TestBuilder_LegacyComponentsPath(t *testing.T) {
	b, err := NewBuilder().WithResourcesPath("components", true)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(b.Config().Command, " "), "--components-path components")
}

func TestBuild_RequiresAppID(t *testing.T) {
	eng := enginetest.New()
	_, err := NewBuilder().WithEngine(eng).Build()

	var cerr *resource.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "AppID", cerr.Field)
	assert.Equal(t, 0, eng.Calls("PullImage"))
}

func TestContainer_Addresses(t *testing.T) {
	eng := enginetest.New()
	b, err := NewBuilder().
		WithEngine(eng).
		WithLogger(logging.Discard()).
		WithName("orders-dapr").
		WithContainer(func(c container.Builder) container.Builder {
			// Skip the HTTP probe; the fake engine has nothing listening.
			return c.WithWaitStrategy(noWait{})
		}).
		WithAppID("orders")
	require.NoError(t, err)

	d, err := b.Build()
	require.NoError(t, err)

	_, err = d.HTTPAddress()
	assert.ErrorIs(t, err, resource.ErrNotFound)

	require.NoError(t, d.Start(context.Background()))

	httpAddr, err := d.HTTPAddress()
	require.NoError(t, err)
	grpcAddr, err := d.GRPCAddress()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(httpAddr, "http://localhost:"))
	assert.True(t, strings.HasPrefix(grpcAddr, "http://localhost:"))
	assert.NotEqual(t, httpAddr, grpcAddr)

	name, err := d.Name()
	require.NoError(t, err)
	assert.Equal(t, "orders-dapr", name)
	assert.Equal(t, "orders", d.DaprConfig().AppID)
}

type noWait struct{}

func (noWait) WaitUntilReady(context.Context, wait.Target) error { return nil }
