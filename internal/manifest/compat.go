package manifest

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// CheckHostCompatibility compares the manifest's declared host range against
// the running host version. It returns nil when the manifest declares no
// range or the version satisfies it, and a descriptive error otherwise.
// Whether that error is fatal or a warning is the caller's policy.
func (m *Manifest) CheckHostCompatibility(hostVersion *semver.Version) error {
	if m.HostRange == nil {
		return nil
	}
	if m.HostRange.Check(hostVersion) {
		return nil
	}
	return fmt.Errorf("extension %q declares host range %q, which does not match host version %s",
		m.ID, m.HostRange.String(), hostVersion)
}
