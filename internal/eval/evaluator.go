package eval

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/picklr-io/testbed/internal/ir"
)

// Evaluator turns PKL environment manifests into IR.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadManifest evaluates the manifest at path. properties are exposed to the
// module as external properties (read("prop:name")).
func (e *Evaluator) LoadManifest(ctx context.Context, path string, properties map[string]string) (*ir.Manifest, error) {
	dir, err := filepath.Abs(e.projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	u, err := url.Parse("file://" + filepath.ToSlash(dir) + "/")
	if err != nil {
		return nil, fmt.Errorf("failed to parse project directory URL: %w", err)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			maps.Copy(o.Properties, properties)
		})
	}

	evaluator, err := pkl.NewProjectEvaluator(ctx, u, opts...)
	if err != nil {
		// Not every directory is a PKL project; fall back to a plain evaluator.
		evaluator, err = pkl.NewEvaluator(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create PKL evaluator: %w", err)
		}
	}
	defer evaluator.Close()

	var m ir.Manifest
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(path), &m); err != nil {
		return nil, fmt.Errorf("failed to evaluate manifest %s: %w", path, err)
	}
	return &m, nil
}
