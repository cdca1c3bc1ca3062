//go:build !windows

package crypto

import (
	"os"

	"github.com/google/renameio/v2"
)

// writeFileAtomic replaces path so readers never see a partial key.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	return renameio.WriteFile(path, data, perm)
}
