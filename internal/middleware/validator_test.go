package middleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateCaseID(t *testing.T) {
	assert.NoError(t, ValidateCaseID("case-2026_001"))
	assert.NoError(t, ValidateCaseID("0d1c8a4e-3f2b-4a6c-9d8e-7f6a5b4c3d2e"))

	assert.Error(t, ValidateCaseID(""))
	assert.Error(t, ValidateCaseID("has spaces"))
	assert.Error(t, ValidateCaseID("semi;colon"))
	assert.Error(t, ValidateCaseID("../../etc/passwd"))
}

func TestValidateUUID(t *testing.T) {
	assert.NoError(t, ValidateUUID("0d1c8a4e-3f2b-4a6c-9d8e-7f6a5b4c3d2e"))
	assert.Error(t, ValidateUUID(""))
	assert.Error(t, ValidateUUID("not-a-uuid"))
}

func TestValidateStage(t *testing.T) {
	for _, s := range []string{"egg", "instar1", "instar2", "instar3", "pupa", "adult", "Pupa"} {
		assert.NoError(t, ValidateStage(s), s)
	}
	assert.Error(t, ValidateStage("larva"))
	assert.Error(t, ValidateStage(""))
}

func TestValidateVerification(t *testing.T) {
	for _, s := range []string{"pending", "confirmed", "corrected", "rejected"} {
		assert.NoError(t, ValidateVerification(s), s)
	}
	assert.Error(t, ValidateVerification("approved"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello  "))
	assert.Equal(t, "ab", SanitizeString("a\x00b"))
	assert.Equal(t, "line1\nline2", SanitizeString("line1\nline2"))
	assert.Equal(t, "ab", SanitizeString("a\x1bb"))
}

func TestValidateLimit(t *testing.T) {
	assert.Equal(t, 20, ValidateLimit(0))
	assert.Equal(t, 20, ValidateLimit(-5))
	assert.Equal(t, 50, ValidateLimit(50))
	assert.Equal(t, 100, ValidateLimit(5000))
}

func TestValidateDays(t *testing.T) {
	assert.Equal(t, 30, ValidateDays(0))
	assert.Equal(t, 7, ValidateDays(7))
	assert.Equal(t, 365, ValidateDays(10000))
}
