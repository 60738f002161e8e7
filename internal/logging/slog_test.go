package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnonymizeUser(t *testing.T) {
	assert.Empty(t, AnonymizeUser(""))

	hashed := AnonymizeUser("alice")
	assert.True(t, strings.HasPrefix(hashed, "user:"))
	assert.NotContains(t, hashed, "alice")

	// Stable across calls for log correlation.
	assert.Equal(t, hashed, AnonymizeUser("alice"))
	assert.NotEqual(t, hashed, AnonymizeUser("bob"))
}

func TestQueryHash(t *testing.T) {
	attr := QueryHash("typescript preferences")
	assert.Equal(t, KeyQuery, attr.Key)
	assert.NotContains(t, attr.Value.String(), "typescript")

	empty := QueryHash("")
	assert.Equal(t, "<empty>", empty.Value.String())
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	assert.Equal(t, "[token:6 chars]", SanitizeToken("secret"))
}

func TestErr(t *testing.T) {
	attr := Err(nil)
	assert.Equal(t, "", attr.Value.String())

	attr = Err(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), attr.Value.String())
}
