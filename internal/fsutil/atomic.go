package fsutil

import (
	"fmt"
	"os"
)

// PublishDir atomically moves a fully prepared staging directory to its final
// path. If the destination already exists the rename fails; callers that want
// replace semantics must move the old directory aside first.
func PublishDir(stagingDir, finalDir string) error {
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return fmt.Errorf("publish %s: %w", finalDir, err)
	}
	return nil
}
