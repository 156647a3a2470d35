package devserver

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ravi-parthasarathy/pipedash/pkg/pipeline"
)

var (
	// ErrUnknownTemplate is returned for a registry name with no template.
	ErrUnknownTemplate = errors.New("unknown node template")
	// ErrUnknownPlugin is returned for a plugin name the catalog does not offer.
	ErrUnknownPlugin = errors.New("unknown plugin")
	// ErrNoSource is returned when no source code is held for a template.
	ErrNoSource = errors.New("no source code for node")
)

const builtinPackage = "chimerapy-pipelines"

// Catalog is the node registry: the templates that can be placed in a
// pipeline plus the plugins that contribute more of them.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]pipeline.Node // registry name → template
	plugins   []pluginEntry
	sources   map[sourceKey]string
}

type pluginEntry struct {
	pipeline.NodesPlugin
	nodes []pipeline.Node
}

type sourceKey struct {
	registryName string
	pkg          string
}

// NewCatalog returns a catalog seeded with the built-in templates and an
// uninstalled example plugin.
func NewCatalog() *Catalog {
	c := &Catalog{
		templates: make(map[string]pipeline.Node),
		sources:   make(map[sourceKey]string),
	}
	for _, n := range []pipeline.Node{
		{Name: "Webcam", Type: pipeline.NodeTypeSource, RegistryName: "Webcam", Package: builtinPackage},
		{Name: "Video", Type: pipeline.NodeTypeSource, RegistryName: "Video", Package: builtinPackage},
		{Name: "MPPoseDetector", Type: pipeline.NodeTypeStep, RegistryName: "MPPoseDetector", Package: builtinPackage},
		{Name: "YOLOFrameProcessor", Type: pipeline.NodeTypeStep, RegistryName: "YOLOFrameProcessor", Package: builtinPackage},
		{Name: "ShowWindow", Type: pipeline.NodeTypeSink, RegistryName: "ShowWindow", Package: builtinPackage},
	} {
		c.addTemplate(n)
	}
	c.plugins = append(c.plugins, pluginEntry{
		NodesPlugin: pipeline.NodesPlugin{
			Name:        "chimerapy-pipelines-audio",
			Description: "Audio capture and spectrogram nodes",
		},
		nodes: []pipeline.Node{
			{Name: "Microphone", Type: pipeline.NodeTypeSource, RegistryName: "Microphone", Package: "chimerapy-pipelines-audio"},
			{Name: "Spectrogram", Type: pipeline.NodeTypeStep, RegistryName: "Spectrogram", Package: "chimerapy-pipelines-audio"},
			{Name: "AudioWriter", Type: pipeline.NodeTypeSink, RegistryName: "AudioWriter", Package: "chimerapy-pipelines-audio"},
		},
	})
	return c
}

// addTemplate registers a template and a placeholder source for it. Callers
// hold the write lock or own the catalog exclusively.
func (c *Catalog) addTemplate(n pipeline.Node) {
	n.ID = n.RegistryName
	c.templates[n.RegistryName] = n
	c.sources[sourceKey{n.RegistryName, n.Package}] = fmt.Sprintf(
		"class %s(cp.Node):\n    \"\"\"%s node from %s.\"\"\"\n", n.RegistryName, n.Type, n.Package)
}

// Templates lists every template sorted by registry name.
func (c *Catalog) Templates() []pipeline.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]pipeline.Node, 0, len(c.templates))
	for _, n := range c.templates {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegistryName < out[j].RegistryName })
	return out
}

// Template looks up a template by registry name.
func (c *Catalog) Template(registryName string) (pipeline.Node, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.templates[registryName]
	if !ok {
		return pipeline.Node{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, registryName)
	}
	return n, nil
}

// Plugins lists the plugins in the order they were offered.
func (c *Catalog) Plugins() []pipeline.NodesPlugin {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]pipeline.NodesPlugin, len(c.plugins))
	for i, p := range c.plugins {
		out[i] = p.NodesPlugin
	}
	return out
}

// Install marks a plugin installed and returns the templates it added.
// Installing twice returns the same templates again.
func (c *Catalog) Install(name string) ([]pipeline.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.plugins {
		p := &c.plugins[i]
		if p.Name != name {
			continue
		}
		out := make([]pipeline.Node, 0, len(p.nodes))
		for _, n := range p.nodes {
			c.addTemplate(n)
			out = append(out, c.templates[n.RegistryName])
		}
		p.Installed = true
		return out, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
}

// Source returns the source code of a template.
func (c *Catalog) Source(registryName, pkg string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src, ok := c.sources[sourceKey{registryName, pkg}]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrNoSource, pkg, registryName)
	}
	return src, nil
}
