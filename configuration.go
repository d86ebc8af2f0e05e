package hpo

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// HashLength is the length of a configuration hash (SHA256 truncated).
const HashLength = 16

// Configuration maps hyperparameter names to concrete values. Inactive
// hyperparameters are omitted entirely.
type Configuration map[string]any

// Keys returns the hyperparameter names in sorted order.
func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// Clone returns a shallow copy. Values are immutable scalars.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}

// Hash returns the canonical key of the configuration.
func (c Configuration) Hash() string {
	return CanonicalKey(c)
}

// String renders the configuration as `{name=value, ...}` in sorted order.
func (c Configuration) String() string {
	var b strings.Builder

	b.WriteByte('{')

	for i, k := range c.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}

		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(canonicalValue(c[k]))
	}

	b.WriteByte('}')

	return b.String()
}

// CanonicalKey hashes the sorted key-value encoding of a configuration. It is
// the trial identity and the run history index, and does not depend on map
// iteration order, so it is stable across processes.
func CanonicalKey(c Configuration) string {
	h := sha256.New()

	for _, k := range c.Keys() {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(canonicalValue(c[k])))
		h.Write([]byte{'\n'})
	}

	return hex.EncodeToString(h.Sum(nil))[:HashLength]
}
