package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/entomolab/casetrace/internal/domain/detections"
)

// Input validation and sanitization utilities

var caseIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateCaseID validates case ID format
func ValidateCaseID(id string) error {
	if id == "" {
		return fmt.Errorf("case ID cannot be empty")
	}
	if !caseIDPattern.MatchString(id) {
		return fmt.Errorf("invalid case ID format (alphanumeric, dash, underscore only, max 64 chars)")
	}
	return nil
}

// ValidateUUID validates upload and detection IDs.
func ValidateUUID(id string) error {
	if id == "" {
		return fmt.Errorf("ID cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid ID format")
	}
	return nil
}

// ValidateStage checks the life stage value.
func ValidateStage(stage string) error {
	if !detections.ValidStage(detections.LifeStage(strings.ToLower(stage))) {
		return fmt.Errorf("invalid stage: %s (allowed: egg, instar1, instar2, instar3, pupa, adult)", stage)
	}
	return nil
}

// ValidateVerification checks the verification status value.
func ValidateVerification(status string) error {
	if !detections.ValidVerification(detections.Verification(strings.ToLower(status))) {
		return fmt.Errorf("invalid verification status: %s (allowed: pending, confirmed, corrected, rejected)", status)
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit int) int {
	if limit <= 0 {
		return 20 // default
	}
	if limit > 100 {
		return 100 // max limit
	}
	return limit
}

// ValidateDays validates days parameter
func ValidateDays(days int) int {
	if days <= 0 {
		return 30 // default
	}
	if days > 365 {
		return 365 // max 1 year
	}
	return days
}
