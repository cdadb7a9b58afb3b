package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_OrderIndependent(t *testing.T) {
	a := Fingerprint{}
	a["name"] = "Firefox"
	a["version"] = "4.0"
	a["locale"] = "en-US"

	b := Fingerprint{}
	b["locale"] = "en-US"
	b["version"] = "4.0"
	b["name"] = "Firefox"

	assert.Equal(t, Key(a), Key(b))
	assert.Len(t, Key(a), 64)
}

func TestKey_Distinguishes(t *testing.T) {
	tests := []struct {
		name string
		a, b Fingerprint
	}{
		{"different value", Fingerprint{"locale": "en-US"}, Fingerprint{"locale": "en-GB"}},
		{"different name", Fingerprint{"locale": "en-US"}, Fingerprint{"channel": "en-US"}},
		{"extra attribute", Fingerprint{"name": "Firefox"}, Fingerprint{"name": "Firefox", "locale": ""}},
		{"separator smuggling", Fingerprint{"a": "1;b=2"}, Fingerprint{"a": "1", "b": "2"}},
		{"empty vs one", Fingerprint{}, Fingerprint{"name": ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, Key(tt.a), Key(tt.b))
		})
	}
}

func TestKey_Empty(t *testing.T) {
	assert.Equal(t, Key(nil), Key(Fingerprint{}))
	assert.Len(t, Key(nil), 64)
}

func TestFromPath(t *testing.T) {
	fp := FromPath([]string{"1", "Firefox", "4.0", "xxx", "xxx", "en-US", "xxx", "xxx", "default", "default"})
	assert.Equal(t, "1", fp.Get(StartpageVersion))
	assert.Equal(t, "Firefox", fp.Get(Name))
	assert.Equal(t, "en-US", fp.Get(Locale))
	assert.Equal(t, "default", fp.Get(DistributionVersion))
	assert.Len(t, fp, len(Attributes))

	short := FromPath([]string{"1", "Firefox"})
	assert.Len(t, short, 2)
	assert.Equal(t, "", short.Get(Locale))
}
