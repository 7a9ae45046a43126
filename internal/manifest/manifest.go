// Package manifest defines the declarative descriptor every extension ships
// with and the rules for validating it.
//
// A manifest names the extension's identity, version, entry reference, and
// the dependencies it needs resolved before it may be enabled. Manifests are
// written in HCL and live in a file called extension.hcl at the root of the
// extension's directory or archive.
package manifest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// FileName is the well-known name of an extension's manifest file.
const FileName = "extension.hcl"

// Type distinguishes the two kinds of extensions the host composes.
type Type string

const (
	TypePlugin Type = "plugin"
	TypeTheme  Type = "theme"
)

// idPattern constrains extension identifiers: lowercase, starting with a
// letter, with dots, dashes and underscores allowed as separators.
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9._-]{0,63}$`)

// ValidID reports whether s is a well-formed extension identifier.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Dependency is one entry of a manifest's dependency list, declared in the
// source form "id@range" (a bare "id" accepts any version).
type Dependency struct {
	ID    string
	Range *semver.Constraints
	Raw   string
}

// ParseDependency parses a single "id@range" dependency declaration.
func ParseDependency(raw string) (Dependency, error) {
	id := raw
	rangeStr := "*"
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		id = raw[:at]
		rangeStr = raw[at+1:]
	}
	if !ValidID(id) {
		return Dependency{}, fmt.Errorf("dependency %q: invalid extension id %q", raw, id)
	}
	c, err := semver.NewConstraint(rangeStr)
	if err != nil {
		return Dependency{}, fmt.Errorf("dependency %q: invalid version range %q: %w", raw, rangeStr, err)
	}
	return Dependency{ID: id, Range: c, Raw: raw}, nil
}

// Manifest is the parsed, validated form of an extension.hcl file.
type Manifest struct {
	ID          string
	Name        string
	Version     *semver.Version
	Type        Type
	Author      string
	Main        string
	Description string
	Homepage    string
	Repository  string

	// HostRange is the host version span the extension declares support
	// for. Nil means the extension makes no compatibility claim.
	HostRange *semver.Constraints

	Dependencies []Dependency
	Permissions  []string
	Tags         []string

	// FilePath records where the manifest was parsed from, for error
	// reporting and for mapping a definition back to its source directory.
	FilePath string
}

// DependencyStrings returns the raw "id@range" declarations, for persistence.
func (m *Manifest) DependencyStrings() []string {
	out := make([]string, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		out = append(out, d.Raw)
	}
	return out
}

// Problems is an ordered list of validation findings for one manifest. An
// empty list means the manifest is valid.
type Problems []string

func (p Problems) add(format string, args ...any) Problems {
	return append(p, fmt.Sprintf(format, args...))
}

// Err returns all problems joined into a single error, or nil if there are none.
func (p Problems) Err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("invalid manifest:\n- %s", strings.Join(p, "\n- "))
}
