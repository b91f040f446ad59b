package cache

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// DiskUsage reports how full the filesystem holding the artifacts is
type DiskUsage struct {
	TotalBytes int64   `json:"total_bytes"`
	FreeBytes  int64   `json:"free_bytes"`
	FreeRatio  float64 `json:"free_ratio"`
}

// ArtifactStore manages the model files the cache points at. The cache owns
// entry metadata; artifacts live on a filesystem (or something that looks
// like one) behind this boundary.
type ArtifactStore interface {
	// Exists reports whether the artifact is present and readable
	Exists(path string) bool

	// Size returns the artifact's size in bytes
	Size(path string) (int64, error)

	// Signature returns the content digest of the artifact
	Signature(path string) (string, error)

	// Remove deletes the artifact. Missing files are not an error.
	Remove(path string) error

	// Usage reports capacity for the filesystem backing the store
	Usage() (DiskUsage, error)
}

// DiskArtifactStore is the filesystem-backed artifact store
type DiskArtifactStore struct {
	root string
}

// NewDiskArtifactStore roots the store at the given directory; Usage is
// measured against the filesystem holding it.
func NewDiskArtifactStore(root string) *DiskArtifactStore {
	return &DiskArtifactStore{root: root}
}

func (d *DiskArtifactStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (d *DiskArtifactStore) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrap(err, "stat artifact")
	}
	return info.Size(), nil
}

func (d *DiskArtifactStore) Signature(path string) (string, error) {
	return FileSignature(path)
}

func (d *DiskArtifactStore) Remove(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove artifact")
	}
	return nil
}

func (d *DiskArtifactStore) Usage() (DiskUsage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(d.root, &stat); err != nil {
		return DiskUsage{}, errors.Wrap(err, "statfs artifact root")
	}

	total := int64(stat.Blocks) * int64(stat.Bsize)
	free := int64(stat.Bavail) * int64(stat.Bsize)

	usage := DiskUsage{TotalBytes: total, FreeBytes: free}
	if total > 0 {
		usage.FreeRatio = float64(free) / float64(total)
	}
	return usage, nil
}
