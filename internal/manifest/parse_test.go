package manifest

import (
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSrc = `
extension "forum-polls" {
  name    = "Forum Polls"
  version = "1.2.0"
  type    = "plugin"
  author  = "jane@example.com"
  main    = "entry.lua"

  description  = "Adds poll widgets to threads."
  host         = ">= 1.0.0, < 2.0.0"
  dependencies = ["forum-core@^1.0.0", "forum-markdown"]
  permissions  = ["posts:read"]
  tags         = ["widgets", "polls"]
}
`

func TestParseValid(t *testing.T) {
	m, problems := Parse("extension.hcl", []byte(validSrc))
	require.Empty(t, problems)
	require.NotNil(t, m)

	assert.Equal(t, "forum-polls", m.ID)
	assert.Equal(t, "Forum Polls", m.Name)
	assert.Equal(t, TypePlugin, m.Type)
	assert.Equal(t, "entry.lua", m.Main)
	assert.Equal(t, "1.2.0", m.Version.String())
	assert.Equal(t, []string{"posts:read"}, m.Permissions)

	require.Len(t, m.Dependencies, 2)
	assert.Equal(t, "forum-core", m.Dependencies[0].ID)
	assert.True(t, m.Dependencies[0].Range.Check(semver.MustParse("1.4.2")))
	assert.False(t, m.Dependencies[0].Range.Check(semver.MustParse("2.0.0")))
	// Bare id accepts any version.
	assert.Equal(t, "forum-markdown", m.Dependencies[1].ID)
	assert.True(t, m.Dependencies[1].Range.Check(semver.MustParse("0.0.1")))
}

func TestParseProblems(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "missing main",
			src: `extension "a" {
				name = "A"
				version = "1.0.0"
				type = "plugin"
				author = "x"
			}`,
			want: "'main' entry reference is required",
		},
		{
			name: "bad version",
			src: `extension "a" {
				name = "A"
				version = "one point oh"
				type = "plugin"
				author = "x"
				main = "entry.lua"
			}`,
			want: "not a valid semantic version",
		},
		{
			name: "bad type",
			src: `extension "a" {
				name = "A"
				version = "1.0.0"
				type = "widget"
				author = "x"
				main = "entry.lua"
			}`,
			want: "unrecognized type",
		},
		{
			name: "bad id",
			src: `extension "Not An ID" {
				name = "A"
				version = "1.0.0"
				type = "plugin"
				author = "x"
				main = "entry.lua"
			}`,
			want: "does not match the identifier pattern",
		},
		{
			name: "self dependency",
			src: `extension "a" {
				name = "A"
				version = "1.0.0"
				type = "plugin"
				author = "x"
				main = "entry.lua"
				dependencies = ["a@^1.0.0"]
			}`,
			want: "cannot depend on itself",
		},
		{
			name: "malformed dependency range",
			src: `extension "a" {
				name = "A"
				version = "1.0.0"
				type = "plugin"
				author = "x"
				main = "entry.lua"
				dependencies = ["b@not-a-range"]
			}`,
			want: "invalid version range",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, problems := Parse("extension.hcl", []byte(tc.src))
			require.NotEmpty(t, problems)
			assert.ErrorContains(t, problems.Err(), tc.want)
		})
	}
}

func TestParseNotHCL(t *testing.T) {
	m, problems := Parse("extension.hcl", []byte("{{{{"))
	assert.Nil(t, m)
	require.NotEmpty(t, problems)
}

func TestCheckHostCompatibility(t *testing.T) {
	m, problems := Parse("extension.hcl", []byte(validSrc))
	require.Empty(t, problems)

	assert.NoError(t, m.CheckHostCompatibility(semver.MustParse("1.5.0")))
	assert.Error(t, m.CheckHostCompatibility(semver.MustParse("2.1.0")))

	m.HostRange = nil
	assert.NoError(t, m.CheckHostCompatibility(semver.MustParse("9.9.9")))
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("forum-polls"))
	assert.True(t, ValidID("a.b_c-d9"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("9starts-with-digit"))
	assert.False(t, ValidID("Has-Upper"))
	assert.False(t, ValidID("has space"))
}
