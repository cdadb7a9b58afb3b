// Package fingerprint describes the client attribute set a snippet request is
// matched on, and encodes it into a stable cache-key fragment.
package fingerprint

import (
	"encoding/hex"
	"sort"
	"strconv"

	sha256 "github.com/minio/sha256-simd"
)

// Attribute names a client attribute a match rule may constrain.
type Attribute string

// Attributes in the order the client sends them in the snippet URL.
const (
	StartpageVersion    Attribute = "startpage_version"
	Name                Attribute = "name"
	Version             Attribute = "version"
	AppBuildID          Attribute = "appbuildid"
	BuildTarget         Attribute = "build_target"
	Locale              Attribute = "locale"
	Channel             Attribute = "channel"
	OSVersion           Attribute = "os_version"
	Distribution        Attribute = "distribution"
	DistributionVersion Attribute = "distribution_version"
)

// Attributes is the full, ordered list of known attributes.
var Attributes = []Attribute{
	StartpageVersion, Name, Version, AppBuildID, BuildTarget,
	Locale, Channel, OSVersion, Distribution, DistributionVersion,
}

// Fingerprint maps attribute name to the client's value.
type Fingerprint map[string]string

// Get returns the value for a, or "" when the client did not send it.
func (f Fingerprint) Get(a Attribute) string { return f[string(a)] }

// FromPath builds a fingerprint from URL segments given in Attributes order.
// Extra segments are ignored; missing ones are left unset.
func FromPath(segments []string) Fingerprint {
	fp := make(Fingerprint, len(Attributes))
	for i, a := range Attributes {
		if i >= len(segments) {
			break
		}
		fp[string(a)] = segments[i]
	}
	return fp
}

// Key returns a fixed-length hex digest of the fingerprint. Equal mappings give
// equal keys regardless of insertion order; the empty mapping has its own key.
func Key(f Fingerprint) string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)

	h := sha256.New()
	var buf []byte
	for _, k := range names {
		// length-prefixed so separators inside values can't collide
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(len(k)), 10)
		buf = append(buf, ':')
		buf = append(buf, k...)
		buf = append(buf, '=')
		buf = strconv.AppendInt(buf, int64(len(f[k])), 10)
		buf = append(buf, ':')
		buf = append(buf, f[k]...)
		buf = append(buf, ';')
		_, _ = h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil))
}
