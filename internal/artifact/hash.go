package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Domain prefixes for content-addressed identity.
const (
	DomainKey     = "midrel/key/v1"
	DomainContent = "midrel/content/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ID is the stable identifier of a key, derived from its canonical name.
func (k Key) ID() string {
	return hashWithDomain(DomainKey, []byte(k.base()))
}

// ContentHash hashes the bytes of the file at path.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	h.Write([]byte(DomainContent))
	h.Write([]byte{0x00})
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
