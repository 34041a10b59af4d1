package build

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultTag is applied to every image a pipeline produces unless the
// document overrides it.
const DefaultTag = "latest"

// Document is a parsed pipeline description. Steps build in the order they
// are listed; each step may declare the name of an earlier step as its base.
type Document struct {
	// Prefix is prepended to every step name to form the image name.
	Prefix string `yaml:"prefix"`
	// Alias is an extra name tagged onto the last step's image after a
	// successful run. Empty disables aliasing.
	Alias string `yaml:"alias"`
	// Tag applied to every image. Defaults to DefaultTag.
	Tag string `yaml:"tag"`
	// Backend names the container CLI used for builds (docker, podman).
	Backend string `yaml:"backend"`
	// Args are the pinned build arguments shared by every step.
	Args map[string]string `yaml:"args"`
	// Snapshots are source trees mirrored into build contexts before the
	// first step builds.
	Snapshots []SnapshotSpec `yaml:"snapshots"`
	// Steps are the image builds, in order.
	Steps []StepSpec `yaml:"steps"`

	// dir anchors relative paths in the document.
	dir string
}

// StepSpec is the document form of a pipeline step. Base names an earlier
// step whose image this step builds from; images from outside the pipeline
// are not declared here, they appear only in the Dockerfile's FROM.
type StepSpec struct {
	Name       string `yaml:"name"`
	Dockerfile string `yaml:"dockerfile"`
	Context    string `yaml:"context"`
	Base       string `yaml:"base"`
}

// SnapshotSpec describes a source tree mirrored into a build context.
type SnapshotSpec struct {
	Name   string   `yaml:"name"`
	Source string   `yaml:"source"`
	Dest   string   `yaml:"dest"`
	Clean  []string `yaml:"clean"`
}

// LoadDocument reads and validates a pipeline document from path. Relative
// paths inside the document resolve against the document's directory.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline document: %w", err)
	}

	doc, err := parseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("parse pipeline document %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve pipeline document path: %w", err)
	}
	doc.dir = filepath.Dir(abs)

	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline document %s: %w", path, err)
	}
	return doc, nil
}

// DefaultDocument returns the embedded pipeline for the verification
// toolchain images. Relative paths resolve against the working directory.
func DefaultDocument() (*Document, error) {
	doc, err := parseDocument(defaultPipeline)
	if err != nil {
		return nil, fmt.Errorf("parse embedded pipeline: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid embedded pipeline: %w", err)
	}
	return doc, nil
}

func parseDocument(data []byte) (*Document, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	if doc.Tag == "" {
		doc.Tag = DefaultTag
	}
	return &doc, nil
}

// Dir returns the directory relative paths in the document resolve against.
func (d *Document) Dir() string {
	return d.dir
}

// ImageTag returns the tag applied to the pipeline's images.
func (d *Document) ImageTag() string {
	if d.Tag == "" {
		return DefaultTag
	}
	return d.Tag
}

// Validate checks the document for structural problems: missing fields,
// duplicate step names, and steps ordered before their declared base.
func (d *Document) Validate() error {
	if strings.TrimSpace(d.Prefix) == "" {
		return fmt.Errorf("prefix is required")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}

	names := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if strings.TrimSpace(step.Name) == "" {
			return fmt.Errorf("every step requires a name")
		}
		if names[step.Name] {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		names[step.Name] = true
	}

	earlier := make(map[string]bool, len(d.Steps))
	for _, step := range d.Steps {
		if strings.TrimSpace(step.Dockerfile) == "" {
			return fmt.Errorf("step %q requires a dockerfile", step.Name)
		}
		if step.Base != "" {
			if step.Base == step.Name {
				return fmt.Errorf("step %q declares itself as base", step.Name)
			}
			if !names[step.Base] {
				return fmt.Errorf("step %q declares unknown base %q", step.Name, step.Base)
			}
			if !earlier[step.Base] {
				return fmt.Errorf("step %q: %w: %q", step.Name, ErrStepOrder, step.Base)
			}
		}
		earlier[step.Name] = true
	}

	for _, snapshot := range d.Snapshots {
		if strings.TrimSpace(snapshot.Name) == "" {
			return fmt.Errorf("every snapshot requires a name")
		}
		if strings.TrimSpace(snapshot.Source) == "" || strings.TrimSpace(snapshot.Dest) == "" {
			return fmt.Errorf("snapshot %q requires source and dest", snapshot.Name)
		}
	}
	return nil
}

// ImageName returns the image name a step builds: the document prefix joined
// to the step name.
func (d *Document) ImageName(stepName string) string {
	return d.Prefix + "_" + stepName
}

// ResolvedSteps returns the steps with image names expanded and paths
// resolved against the document directory.
func (d *Document) ResolvedSteps() []Step {
	steps := make([]Step, 0, len(d.Steps))
	for _, spec := range d.Steps {
		step := Step{
			Image:      d.ImageName(spec.Name),
			Dockerfile: d.resolvePath(spec.Dockerfile),
		}
		if spec.Context != "" {
			step.Context = d.resolvePath(spec.Context)
		} else {
			step.Context = filepath.Dir(step.Dockerfile)
		}
		if spec.Base != "" {
			step.Base = d.ImageName(spec.Base)
		}
		steps = append(steps, step)
	}
	return steps
}

// AliasRef returns the extra name tagged onto the final image, or false when
// the document disables aliasing.
func (d *Document) AliasRef() (ImageRef, bool) {
	if strings.TrimSpace(d.Alias) == "" {
		return ImageRef{}, false
	}
	return ImageRef{Name: d.Alias, Tag: d.ImageTag()}, true
}

// Arguments merges the document's pinned arguments with the user identity
// arguments. Identity wins on collision so builds cannot unpin it.
func (d *Document) Arguments(id UserIdentity) Arguments {
	args := make(Arguments, len(d.Args)+3)
	for name, value := range d.Args {
		args[name] = value
	}
	for name, value := range id.Arguments() {
		args[name] = value
	}
	return args
}

func (d *Document) resolvePath(path string) string {
	if filepath.IsAbs(path) || d.dir == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(d.dir, path)
}
