package worker

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"

	"github.com/orcaops/orcaops/internal/models"
)

// artifactMetadataFor computes the metadata recorded for one extracted
// artifact: its basename, the requested path, its size, and a sha256
// digest for integrity verification by downstream consumers.
func artifactMetadataFor(path string, data []byte) (models.ArtifactMetadata, error) {
	sum := sha256.Sum256(data)
	return models.ArtifactMetadata{
		Name:      filepath.Base(path),
		Path:      path,
		SizeBytes: int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
	}, nil
}
