// Package ir holds the intermediate representation shared by the manifest
// evaluator, the stack runner and the session store.
package ir

// Manifest is an evaluated environment definition.
type Manifest struct {
	Networks   []*Network        `pkl:"networks"`
	Volumes    []*Volume         `pkl:"volumes"`
	Containers []*Container      `pkl:"containers"`
	Labels     map[string]string `pkl:"labels"`
}

type Network struct {
	Name     string            `pkl:"name"`
	Driver   string            `pkl:"driver"`
	Internal bool              `pkl:"internal"`
	Labels   map[string]string `pkl:"labels"`
}

type Volume struct {
	Name   string            `pkl:"name"`
	Driver string            `pkl:"driver"`
	Labels map[string]string `pkl:"labels"`
}

// Container describes one container. Containers start in manifest order.
type Container struct {
	Name       string            `pkl:"name"`
	Image      string            `pkl:"image"`
	Entrypoint []string          `pkl:"entrypoint"`
	Command    []string          `pkl:"command"`
	Env        map[string]string `pkl:"env"`
	WorkingDir string            `pkl:"workingDir"`
	Ports      []string          `pkl:"ports"` // "3500" or "8080:80/tcp"
	Networks   []string          `pkl:"networks"`
	Aliases    []string          `pkl:"aliases"`
	Mounts     []*Mount          `pkl:"mounts"`
	Labels     map[string]string `pkl:"labels"`
	Wait       *Wait             `pkl:"wait"`
}

// Mount binds Source on the host, or a named volume, to Target.
type Mount struct {
	Source string `pkl:"source"`
	Target string `pkl:"target"`
}

// Wait selects a readiness check. Exactly one of HTTPPath or Port is used;
// HTTPPath takes precedence.
type Wait struct {
	HTTPPath   string `pkl:"httpPath"`
	Port       string `pkl:"port"`
	StatusCode int    `pkl:"statusCode"`
	Timeout    string `pkl:"timeout"`
}
