package cache

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// InputHash derives the exact-match key for a descriptor. Every field that
// affects the generated model participates; client identity does not.
func InputHash(input InputDescriptor) string {
	payload := fmt.Sprintf("%s|%s|%s|%s", input.Text, input.Kind, input.Complexity, input.Format)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// FileSignature computes the content digest of an artifact file. Used to
// detect artifacts that were replaced or corrupted after caching.
func FileSignature(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
