package export

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSHA256 streams path through SHA-256
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeChecksumFile writes a sha256sum compatible sidecar next to path
func writeChecksumFile(path, sum string) (string, error) {
	sidecar := path + ".sha256"
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(path))
	if err := os.WriteFile(sidecar, []byte(line), 0644); err != nil {
		return "", err
	}
	return sidecar, nil
}
