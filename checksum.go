package coldshock

import (
	"encoding/hex"
	"io"

	"github.com/carbocation/pfx"
	"github.com/minio/blake2b-simd"
)

// ChecksumFile hashes the raw bytes of path (local or gs://) with BLAKE2b-512
// and returns the hex digest. Commands record these for their inputs so a
// results row can be traced back to the exact files that produced it.
func ChecksumFile(path string) (string, error) {
	rc, err := Open(path)
	if err != nil {
		return "", pfx.Err(err)
	}
	defer rc.Close()

	return Checksum(rc)
}

// Checksum hashes everything readable from r.
func Checksum(r io.Reader) (string, error) {
	h := blake2b.New512()
	if _, err := io.Copy(h, r); err != nil {
		return "", pfx.Err(err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
