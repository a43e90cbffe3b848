package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/testbed/internal/config"
	"github.com/picklr-io/testbed/internal/enginetest"
	"github.com/picklr-io/testbed/internal/ir"
	"github.com/picklr-io/testbed/pkl"
)

func testManifest() *ir.Manifest {
	return &ir.Manifest{
		Networks: []*ir.Network{{Name: "backend"}},
		Volumes:  []*ir.Volume{{Name: "pgdata"}},
		Containers: []*ir.Container{{
			Name:     "db",
			Image:    "postgres:16",
			Ports:    []string{"15432:5432"},
			Networks: []string{"backend"},
			Mounts:   []*ir.Mount{{Source: "pgdata", Target: "/var/lib/postgresql/data"}},
		}},
	}
}

type harness struct {
	eng      *enginetest.Engine
	manifest *ir.Manifest
	stateDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	return &harness{
		eng:      enginetest.New(),
		manifest: testManifest(),
		stateDir: t.TempDir(),
	}
}

func (h *harness) run(args ...string) (string, error) {
	a := newApp()
	a.openEngine = func(*config.Config, string) (Engine, error) { return h.eng, nil }
	a.loadManifest = func(context.Context, string, string, map[string]string) (*ir.Manifest, error) {
		return h.manifest, nil
	}

	cmd := a.rootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append([]string{"--state-dir", h.stateDir}, args...))
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestUpSessionsDown(t *testing.T) {
	h := newHarness(t)

	out, err := h.run("up", "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Starting session s1")
	assert.Contains(t, out, "+ container db")
	assert.Contains(t, out, "Up complete! 3 resource(s) in session s1.")
	assert.Contains(t, out, "5432/tcp")
	assert.Contains(t, out, "-> localhost:15432")
	assert.Equal(t, []string{"postgres:16"}, h.eng.Pulled())

	out, err = h.run("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "s1")

	out, err = h.run("sessions", "--json")
	require.NoError(t, err)
	var sessions []*ir.Session
	require.NoError(t, jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal([]byte(out), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
	assert.Len(t, sessions[0].Containers, 1)
	assert.Equal(t, []string{"pgdata"}, sessions[0].Volumes)

	out, err = h.run("down")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 container(s), 1 network(s), 1 volume(s).")
	_, ok := h.eng.Volume("pgdata")
	assert.False(t, ok)

	out, err = h.run("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")
}

func TestUp_FailureIsNotRecorded(t *testing.T) {
	h := newHarness(t)
	h.eng.Fail("StartContainer", errors.New("port is already allocated"))

	out, err := h.run("up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port is already allocated")
	assert.Contains(t, out, "! container db")

	// Rollback removed everything that was created.
	assert.Equal(t, 1, h.eng.Calls("RemoveContainer"))
	assert.Equal(t, 1, h.eng.Calls("RemoveNetwork"))

	out, err = h.run("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")
}

func TestUp_InvalidManifest(t *testing.T) {
	h := newHarness(t)
	h.manifest.Containers[0].Image = ""

	_, err := h.run("up")
	require.Error(t, err)
	assert.Equal(t, 0, h.eng.Calls("CreateNetwork"))

	_, err = h.run("validate")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "OK")
	assert.Contains(t, out, "1 network(s), 1 volume(s), 1 container(s).")
	assert.Equal(t, 0, h.eng.Calls("CreateNetwork"))
}

func TestDown_NoSessions(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("down")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")
	assert.Equal(t, 0, h.eng.Calls("Prune"))
}

func TestDown_FailureKeepsSession(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("up", "--session", "s1")
	require.NoError(t, err)

	h.eng.Fail("Prune", errors.New("daemon unavailable"))
	_, err = h.run("down", "--session", "s1")
	require.Error(t, err)

	out, err := h.run("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "s1")
}

func TestPrune_RemovesEverySession(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("up", "--session", "s1")
	require.NoError(t, err)

	h.manifest = &ir.Manifest{Volumes: []*ir.Volume{{Name: "cache"}}}
	_, err = h.run("up", "--session", "s2")
	require.NoError(t, err)

	out, err := h.run("prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 container(s), 1 network(s), 2 volume(s).")

	out, err = h.run("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")

	out, err = h.run("prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to remove.")
}

func TestMetricsFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(t.TempDir(), "testbed.prom")

	_, err := h.run("--metrics-file", path, "up")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "testbed_resource_operations_total")
}

func TestInit(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(t.TempDir(), "env")

	out, err := h.run("init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created")

	schema, err := os.ReadFile(filepath.Join(dir, pkl.SchemaFile))
	require.NoError(t, err)
	assert.Equal(t, pkl.Schema, schema)

	manifest := filepath.Join(dir, "testbed.pkl")
	require.NoError(t, os.WriteFile(manifest, []byte("amends \"Testbed.pkl\"\n"), 0o644))
	_, err = h.run("init", dir)
	require.NoError(t, err)
	data, err := os.ReadFile(manifest)
	require.NoError(t, err)
	assert.Equal(t, "amends \"Testbed.pkl\"\n", string(data), "existing manifest is kept")
}

func TestVersion(t *testing.T) {
	h := newHarness(t)
	out, err := h.run("version")
	require.NoError(t, err)
	assert.Contains(t, out, "testbed version dev")
}

func TestInvalidConfig(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--log-level", "loud", "version")
	assert.Error(t, err)
}

func TestResolveManifest(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "env.pkl")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	d, entry, err := resolveManifest([]string{dir})
	require.NoError(t, err)
	assert.Equal(t, dir, d)
	assert.Equal(t, "testbed.pkl", entry)

	d, entry, err = resolveManifest([]string{file})
	require.NoError(t, err)
	assert.Equal(t, dir, d)
	assert.Equal(t, "env.pkl", entry)

	_, _, err = resolveManifest([]string{filepath.Join(dir, "missing.pkl")})
	assert.Error(t, err)
}
