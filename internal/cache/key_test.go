package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	a := DeriveKey([]byte("A"), "docx")
	assert.Len(t, string(a), KeyLength)
	assert.True(t, ValidKey(string(a)))

	assert.Equal(t, a, DeriveKey([]byte("A"), "docx"), "same content, same key")
	assert.Equal(t, a, DeriveKey([]byte("A"), ".DOCX"), "extension is normalised")
	assert.NotEqual(t, a, DeriveKey([]byte("B"), "docx"), "re-upload with new content gets a new key")
	assert.NotEqual(t, a, DeriveKey([]byte("A"), "csv"), "format is part of the key")
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint(nil))
	assert.Len(t, Fingerprint([]byte("A")), 64)
}

func TestValidKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"0123456789abcdef", true},
		{"0123456789ABCDEF", false},
		{"0123456789abcde", false},
		{"0123456789abcdef0", false},
		{"../../etc/passwd", false},
		{"0123456789abcdeg", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidKey(tt.in), tt.in)
	}
}
