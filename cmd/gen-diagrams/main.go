// gen-diagrams renders the example pipelines for the documentation.
// Run: go run ./cmd/gen-diagrams [-in examples/pipelines] [-out docs/diagrams]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rendis/dataflow/internal/diagram"
	"github.com/rendis/dataflow/internal/executors"
	"github.com/rendis/dataflow/internal/logging"
	"github.com/rendis/dataflow/pkg/schema"
)

func main() {
	in := flag.String("in", filepath.Join("examples", "pipelines"), "directory of pipeline documents")
	out := flag.String("out", filepath.Join("docs", "diagrams"), "output directory")
	flag.Parse()

	written, err := generate(context.Background(), *in, *out)
	for _, w := range written {
		fmt.Println("wrote", w)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "gen-diagrams: %v\n", err)
		os.Exit(1)
	}
}

// generate writes ASCII, Mermaid and SVG renderings of every pipeline in
// inDir and returns the written paths.
func generate(ctx context.Context, inDir, outDir string) ([]string, error) {
	reg := executors.NewRegistry(logging.Discard())
	if err := executors.RegisterBuiltins(reg, executors.BuiltinConfig{}); err != nil {
		return nil, err
	}

	paths, err := pipelineFiles(inDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}

	var written []string
	for _, path := range paths {
		p, err := schema.LoadPipeline(path)
		if err != nil {
			return written, err
		}
		model, err := diagram.Build(p, nil, reg)
		if err != nil {
			return written, fmt.Errorf("%s: %w", path, err)
		}

		base := filepath.Join(outDir, p.Name)
		outputs := map[string][]byte{
			base + ".txt": []byte(diagram.RenderASCII(model)),
			base + ".md":  []byte("```mermaid\n" + diagram.RenderMermaid(model) + "\n```\n"),
		}
		svg, err := diagram.RenderImage(ctx, model, diagram.ImageSVG)
		if err != nil {
			return written, fmt.Errorf("%s: %w", path, err)
		}
		outputs[base+".svg"] = svg

		for _, target := range sortedKeys(outputs) {
			if err := os.WriteFile(target, outputs[target], 0o644); err != nil {
				return written, err
			}
			written = append(written, target)
		}
	}
	return written, nil
}

func pipelineFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
