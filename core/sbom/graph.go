package sbom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/execx"
)

// DefaultGraphCommand produces the resolved dependency graph when no graph file or
// command is configured.
var DefaultGraphCommand = []string{"cargo", "metadata", "--format-version", "1"}

// Graph is the resolved dependency graph in the shape `cargo metadata` emits.
type Graph struct {
	Packages         []Package `json:"packages" yaml:"packages"`
	Resolve          *Resolve  `json:"resolve" yaml:"resolve"`
	WorkspaceMembers []string  `json:"workspace_members" yaml:"workspace_members"`
}

type Package struct {
	ID      string   `json:"id" yaml:"id"`
	Name    string   `json:"name" yaml:"name"`
	Version string   `json:"version" yaml:"version"`
	Targets []Target `json:"targets" yaml:"targets"`
}

type Target struct {
	Name string   `json:"name" yaml:"name"`
	Kind []string `json:"kind" yaml:"kind"`
}

type Resolve struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
}

type Node struct {
	ID           string   `json:"id" yaml:"id"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
}

// GraphSource says where to read the graph from. File wins over Command.
type GraphSource struct {
	File    string
	Command []string
	Dir     string
}

// LoadGraph reads and parses the dependency graph. Every failure is classified as a
// dependency graph resolution failure.
func LoadGraph(ctx context.Context, source GraphSource) (Graph, error) {
	var (
		data   []byte
		origin string
		err    error
	)
	if file := strings.TrimSpace(source.File); file != "" {
		origin = file
		// #nosec G304 -- graph file path is explicit local user input.
		data, err = os.ReadFile(file)
		if err != nil {
			return Graph{}, coreerrors.GraphResolutionFailure(fmt.Errorf("read dependency graph: %w", err))
		}
	} else {
		command := source.Command
		if len(command) == 0 {
			command = DefaultGraphCommand
		}
		origin = strings.Join(command, " ")
		data, err = execx.Output(ctx, execx.Command{Argv: command, Dir: source.Dir})
		if err != nil {
			return Graph{}, coreerrors.GraphResolutionFailure(fmt.Errorf("produce dependency graph: %w", err))
		}
	}
	graph, err := ParseGraph(data)
	if err != nil {
		return Graph{}, coreerrors.GraphResolutionFailure(fmt.Errorf("%s: %w", origin, err))
	}
	return graph, nil
}

// ParseGraph accepts the JSON document a build tool emits, or the same structure
// written as YAML.
func ParseGraph(data []byte) (Graph, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Graph{}, fmt.Errorf("dependency graph is empty")
	}
	var graph Graph
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &graph); err != nil {
			return Graph{}, fmt.Errorf("parse dependency graph json: %w", err)
		}
	} else if err := yaml.Unmarshal(trimmed, &graph); err != nil {
		return Graph{}, fmt.Errorf("parse dependency graph yaml: %w", err)
	}
	if len(graph.Packages) == 0 {
		return Graph{}, fmt.Errorf("dependency graph lists no packages")
	}
	for _, pkg := range graph.Packages {
		if strings.TrimSpace(pkg.ID) == "" || strings.TrimSpace(pkg.Name) == "" {
			return Graph{}, fmt.Errorf("dependency graph package requires id and name")
		}
	}
	return graph, nil
}

func (graph Graph) packageIndex() map[string]Package {
	index := make(map[string]Package, len(graph.Packages))
	for _, pkg := range graph.Packages {
		index[pkg.ID] = pkg
	}
	return index
}

func (graph Graph) edges() map[string][]string {
	edges := map[string][]string{}
	if graph.Resolve == nil {
		return edges
	}
	for _, node := range graph.Resolve.Nodes {
		edges[node.ID] = append(edges[node.ID], node.Dependencies...)
	}
	return edges
}

// Closure returns every package id reachable from roots, sorted. The walk is an
// iterative depth-first search with a visited set, so shared and cyclic edges are
// visited once.
func Closure(graph Graph, roots []string) ([]string, error) {
	packages := graph.packageIndex()
	edges := graph.edges()

	stack := make([]string, 0, len(roots))
	for _, root := range roots {
		if _, ok := packages[root]; !ok {
			return nil, coreerrors.GraphResolutionFailure(fmt.Errorf("root package %q is not in the dependency graph", root))
		}
		stack = append(stack, root)
	}

	visited := make(map[string]struct{}, len(packages))
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[id]; seen {
			continue
		}
		if _, ok := packages[id]; !ok {
			return nil, coreerrors.GraphResolutionFailure(fmt.Errorf("dependency %q is not a known package", id))
		}
		visited[id] = struct{}{}
		for _, dependency := range edges[id] {
			if _, seen := visited[dependency]; !seen {
				stack = append(stack, dependency)
			}
		}
	}

	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ResolveRoots maps root references to package ids. A reference is an exact package
// id, else a unique workspace member name, else a unique package name.
func ResolveRoots(graph Graph, refs []string) ([]string, error) {
	packages := graph.packageIndex()
	members := make([]Package, 0, len(graph.WorkspaceMembers))
	for _, id := range graph.WorkspaceMembers {
		if pkg, ok := packages[id]; ok {
			members = append(members, pkg)
		}
	}

	resolved := make([]string, 0, len(refs))
	seen := map[string]struct{}{}
	for _, ref := range refs {
		id, err := resolveRoot(ref, packages, members, graph.Packages)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		resolved = append(resolved, id)
	}
	return resolved, nil
}

func resolveRoot(ref string, packages map[string]Package, members, all []Package) (string, error) {
	if _, ok := packages[ref]; ok {
		return ref, nil
	}
	for _, candidates := range [][]Package{members, all} {
		var matches []string
		for _, pkg := range candidates {
			if pkg.Name == ref {
				matches = append(matches, pkg.ID)
			}
		}
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			sort.Strings(matches)
			return "", coreerrors.GraphResolutionFailure(fmt.Errorf("root %q is ambiguous: %s", ref, strings.Join(matches, ", ")))
		}
	}
	return "", coreerrors.GraphResolutionFailure(fmt.Errorf("root %q matches no package in the dependency graph", ref))
}
