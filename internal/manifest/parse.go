package manifest

import (
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclManifestFile represents the top-level structure of an extension.hcl
// file for decoding. Exactly one 'extension' block is expected.
type hclManifestFile struct {
	Extensions []*hclExtension `hcl:"extension,block"`
}

// hclExtension represents a single 'extension' block for decoding purposes.
type hclExtension struct {
	ID           string   `hcl:"id,label"`
	Name         string   `hcl:"name,optional"`
	Version      string   `hcl:"version,optional"`
	Type         string   `hcl:"type,optional"`
	Author       string   `hcl:"author,optional"`
	Main         string   `hcl:"main,optional"`
	Description  string   `hcl:"description,optional"`
	Homepage     string   `hcl:"homepage,optional"`
	Repository   string   `hcl:"repository,optional"`
	Host         string   `hcl:"host,optional"`
	Dependencies []string `hcl:"dependencies,optional"`
	Permissions  []string `hcl:"permissions,optional"`
	Tags         []string `hcl:"tags,optional"`
}

// Parse decodes and validates a manifest from HCL source. The returned
// Problems list carries every finding; the manifest is only usable when the
// list is empty. A nil Manifest is returned when the source is not even
// structurally decodable.
func Parse(filename string, src []byte) (*Manifest, Problems) {
	var problems Problems

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, problems.add("parse %s: %s", filename, diags.Error())
	}

	var parsedFile hclManifestFile
	diags = gohcl.DecodeBody(hclFile.Body, nil, &parsedFile)
	if diags.HasErrors() {
		return nil, problems.add("decode %s: %s", filename, diags.Error())
	}

	if len(parsedFile.Extensions) == 0 {
		return nil, problems.add("%s: no 'extension' block found", filename)
	}
	if len(parsedFile.Extensions) > 1 {
		problems = problems.add("%s: multiple 'extension' blocks; only one is allowed", filename)
	}

	raw := parsedFile.Extensions[0]
	m := &Manifest{
		ID:          raw.ID,
		Name:        raw.Name,
		Type:        Type(raw.Type),
		Author:      raw.Author,
		Main:        raw.Main,
		Description: raw.Description,
		Homepage:    raw.Homepage,
		Repository:  raw.Repository,
		Permissions: raw.Permissions,
		Tags:        raw.Tags,
		FilePath:    filename,
	}

	if !ValidID(raw.ID) {
		problems = problems.add("id %q does not match the identifier pattern", raw.ID)
	}
	if raw.Name == "" {
		problems = problems.add("'name' is required")
	}
	if raw.Author == "" {
		problems = problems.add("'author' is required")
	}
	if raw.Main == "" {
		problems = problems.add("'main' entry reference is required")
	}

	switch Type(raw.Type) {
	case TypePlugin, TypeTheme:
	case "":
		problems = problems.add("'type' is required (plugin or theme)")
	default:
		problems = problems.add("unrecognized type %q (must be plugin or theme)", raw.Type)
	}

	if raw.Version == "" {
		problems = problems.add("'version' is required")
	} else if v, err := semver.StrictNewVersion(raw.Version); err != nil {
		problems = problems.add("version %q is not a valid semantic version", raw.Version)
	} else {
		m.Version = v
	}

	if raw.Host != "" {
		if c, err := semver.NewConstraint(raw.Host); err != nil {
			problems = problems.add("host range %q is not a valid version range", raw.Host)
		} else {
			m.HostRange = c
		}
	}

	for _, depRaw := range raw.Dependencies {
		dep, err := ParseDependency(depRaw)
		if err != nil {
			problems = problems.add("%s", err.Error())
			continue
		}
		if dep.ID == raw.ID {
			problems = problems.add("extension cannot depend on itself")
			continue
		}
		m.Dependencies = append(m.Dependencies, dep)
	}

	if len(problems) > 0 {
		return m, problems
	}
	return m, nil
}

// ParseFile reads and parses a manifest file from disk.
func ParseFile(path string) (*Manifest, Problems) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, Problems{}.add("read %s: %s", path, err)
	}
	return Parse(path, src)
}
