package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint computes the content-address of a request: the lowercase hex
// SHA-256 digest of method || path || body? || sorted(key,value) query pairs.
// Headers never enter this computation, so requests that differ only in
// headers (including auth tokens) alias to the same verdict. That is
// acceptable for a cache over semantic threat decisions, but deployments
// where header-carried identity affects verdicts should know about it.
//
// Query key ordering uses a stable byte-wise sort so permuting the original
// query string never changes the result.
func Fingerprint(method, path, body string, query map[string]string) string {
	var b strings.Builder
	b.WriteString(method)
	b.WriteString(path)
	if body != "" {
		b.WriteString(body)
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(query[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ComputeFingerprint computes and sets p.Fingerprint from the payload's
// current method/path/body/query, returning it for convenience.
func (p *RequestPayload) ComputeFingerprint() string {
	p.Fingerprint = Fingerprint(p.Method, p.Path, p.Body, p.Query)
	return p.Fingerprint
}
