// Package quickhash computes the stable per-slide fingerprint exposed
// as the openslide.quickhash-1 property (C8).
package quickhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Hasher accumulates the canonical-prefix-plus-bytes fingerprint. A
// canonical prefix describing the selection is hashed before the
// bytes themselves so that two vendors' identical byte ranges never
// collide, and so that the chosen selection is itself part of the
// digest (catching a vendor's selection logic changing silently).
type Hasher struct {
	h hashWriter
}

type hashWriter interface {
	io.Writer
	Sum(b []byte) []byte
}

// New starts a fresh hash, writing a canonical description of what's
// about to be hashed (e.g. "leica-dir:2" or "aperio-dir:0") as
// a framing prefix.
func New(selectionDescription string) *Hasher {
	h := sha256.New()
	fmt.Fprintf(h, "quickhash-1\x00%s\x00", selectionDescription)
	return &Hasher{h: h}
}

// Write feeds bytes into the digest, implementing io.Writer so a
// Hasher can be passed directly to io.Copy from a section reader.
func (hs *Hasher) Write(p []byte) (int, error) {
	return hs.h.Write(p)
}

// HexDigest finalises the hash and renders it as lowercase hex, the
// form stored in openslide.quickhash-1.
func (hs *Hasher) HexDigest() string {
	return hex.EncodeToString(hs.h.Sum(nil))
}

// Bytes hashes selectionDescription plus data in one call and returns
// the lowercase hex digest.
func Bytes(selectionDescription string, data []byte) string {
	hs := New(selectionDescription)
	hs.Write(data)
	return hs.HexDigest()
}
