// Package sbom walks a resolved dependency graph from a set of root packages and
// writes CycloneDX component lists.
package sbom

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	coreerrors "github.com/davidahmann/attest/core/errors"
	"github.com/davidahmann/attest/core/fsx"
	"github.com/davidahmann/attest/core/logging"
	schemaattest "github.com/davidahmann/attest/core/schema/v1/attest"
	"github.com/davidahmann/attest/core/schema/validate"
)

var libraryKinds = map[string]struct{}{
	"lib":        {},
	"rlib":       {},
	"dylib":      {},
	"cdylib":     {},
	"staticlib":  {},
	"proc-macro": {},
}

type Options struct {
	Graph          Graph
	Ecosystem      string
	PrimaryLabel   string
	SecondaryLabel string
	// PrimaryRoots defaults to every workspace member.
	PrimaryRoots  []string
	PrimaryPath   string
	SecondaryPath string
	Timestamp     string
	Tool          schemaattest.SBOMTool
	Logger        logrus.FieldLogger
}

type Output struct {
	Label      string   `json:"label"`
	Path       string   `json:"path"`
	Roots      []string `json:"roots"`
	Components int      `json:"components"`
}

type Result struct {
	Primary   Output `json:"primary"`
	Secondary Output `json:"secondary"`
}

// Collect writes the primary SBOM for the primary roots' closure and the secondary
// SBOM for every other workspace member. Both files are always written; a secondary
// set with no roots produces an SBOM with no components.
func Collect(opts Options) (Result, error) {
	logger := logging.OrDiscard(opts.Logger)

	primaryRefs := opts.PrimaryRoots
	if len(primaryRefs) == 0 {
		primaryRefs = opts.Graph.WorkspaceMembers
	}
	if len(primaryRefs) == 0 {
		return Result{}, coreerrors.GraphResolutionFailure(fmt.Errorf("no primary roots configured and the graph has no workspace members"))
	}
	primaryRoots, err := ResolveRoots(opts.Graph, primaryRefs)
	if err != nil {
		return Result{}, err
	}
	primaryClosure, err := Closure(opts.Graph, primaryRoots)
	if err != nil {
		return Result{}, err
	}

	inPrimary := make(map[string]struct{}, len(primaryClosure))
	for _, id := range primaryClosure {
		inPrimary[id] = struct{}{}
	}
	secondaryRoots := make([]string, 0)
	for _, id := range opts.Graph.WorkspaceMembers {
		if _, ok := inPrimary[id]; !ok {
			secondaryRoots = append(secondaryRoots, id)
		}
	}
	sort.Strings(secondaryRoots)
	secondaryClosure, err := Closure(opts.Graph, secondaryRoots)
	if err != nil {
		return Result{}, err
	}

	primary, err := writeSBOM(opts, opts.PrimaryLabel, opts.PrimaryPath, primaryRoots, primaryClosure)
	if err != nil {
		return Result{}, err
	}
	secondary, err := writeSBOM(opts, opts.SecondaryLabel, opts.SecondaryPath, secondaryRoots, secondaryClosure)
	if err != nil {
		return Result{}, err
	}
	logger.WithFields(logrus.Fields{
		"primary":              primary.Path,
		"primary_components":   primary.Components,
		"secondary":            secondary.Path,
		"secondary_components": secondary.Components,
	}).Info("sboms written")
	return Result{Primary: primary, Secondary: secondary}, nil
}

func writeSBOM(opts Options, label, path string, roots, closure []string) (Output, error) {
	if strings.TrimSpace(label) == "" || strings.TrimSpace(path) == "" {
		return Output{}, fmt.Errorf("sbom label and path are required")
	}
	components, err := Components(opts.Graph, closure, opts.Ecosystem)
	if err != nil {
		return Output{}, err
	}
	document := Document(components, opts.Timestamp, opts.Tool)
	encoded, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return Output{}, fmt.Errorf("marshal %s sbom: %w", label, err)
	}
	encoded = append(encoded, '\n')
	if err := validate.JSON(validate.KindSBOM, encoded); err != nil {
		return Output{}, fmt.Errorf("%s sbom failed validation before write: %w", label, err)
	}
	if err := fsx.WriteFileAtomic(path, encoded, 0o644); err != nil {
		return Output{}, fmt.Errorf("write %s sbom: %w", label, err)
	}
	if roots == nil {
		roots = []string{}
	}
	return Output{Label: label, Path: path, Roots: roots, Components: len(components)}, nil
}

// Components converts package ids into SBOM components sorted by name, then
// version, then purl.
func Components(graph Graph, ids []string, ecosystem string) ([]schemaattest.SBOMComponent, error) {
	packages := graph.packageIndex()
	components := make([]schemaattest.SBOMComponent, 0, len(ids))
	for _, id := range ids {
		pkg, ok := packages[id]
		if !ok {
			return nil, coreerrors.GraphResolutionFailure(fmt.Errorf("package %q is not in the dependency graph", id))
		}
		componentType := schemaattest.ComponentApplication
		if IsLibrary(pkg) {
			componentType = schemaattest.ComponentLibrary
		}
		components = append(components, schemaattest.SBOMComponent{
			Type:    componentType,
			Name:    pkg.Name,
			Version: pkg.Version,
			PURL:    PURL(ecosystem, pkg.Name, pkg.Version),
		})
	}
	sort.Slice(components, func(i, j int) bool {
		if components[i].Name != components[j].Name {
			return components[i].Name < components[j].Name
		}
		if components[i].Version != components[j].Version {
			return components[i].Version < components[j].Version
		}
		return components[i].PURL < components[j].PURL
	})
	return components, nil
}

// IsLibrary reports whether any build target of pkg has a library-like kind.
func IsLibrary(pkg Package) bool {
	for _, target := range pkg.Targets {
		for _, kind := range target.Kind {
			if _, ok := libraryKinds[kind]; ok {
				return true
			}
		}
	}
	return false
}

func PURL(ecosystem, name, version string) string {
	if strings.TrimSpace(ecosystem) == "" {
		ecosystem = "generic"
	}
	purl := "pkg:" + ecosystem + "/" + name
	if version != "" {
		purl += "@" + version
	}
	return purl
}

func Document(components []schemaattest.SBOMComponent, timestamp string, tool schemaattest.SBOMTool) schemaattest.SBOM {
	if components == nil {
		components = []schemaattest.SBOMComponent{}
	}
	return schemaattest.SBOM{
		BOMFormat:   schemaattest.BOMFormatCycloneDX,
		SpecVersion: schemaattest.SBOMSpecVersion,
		Version:     1,
		Metadata: schemaattest.SBOMMetadata{
			Timestamp: timestamp,
			Tools:     []schemaattest.SBOMTool{tool},
		},
		Components: components,
	}
}
