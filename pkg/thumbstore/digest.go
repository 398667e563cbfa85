package thumbstore

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Digest maps an identifier to its lowercase hex SHA-256 digest. The 64
// hex characters leave room for 32 levels of two-character consumption,
// far beyond any partition depth reachable in practice.
func Digest(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

// DigestFile hashes the contents of the file at path. Used by callers that
// address thumbnails by rendered frame bytes instead of by source name.
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
