package domain

import (
	"regexp"
	"strings"

	dErrors "checkpoint/pkg/domain-errors"
)

// ReferenceNumber is an externally issued volunteer reference.
// Invariant: exactly 12 ASCII decimal digits.
type ReferenceNumber string

var referencePattern = regexp.MustCompile(`^\d{12}$`)

// ParseReferenceNumber validates a reference number from external input.
// Surrounding whitespace is trimmed; anything else must already be 12 digits.
func ParseReferenceNumber(s string) (ReferenceNumber, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "reference_number cannot be empty")
	}
	if !referencePattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeValidation, "reference_number must be exactly 12 digits")
	}
	return ReferenceNumber(s), nil
}

// ParseOptionalReferenceNumber returns nil for empty input.
func ParseOptionalReferenceNumber(s *string) (*ReferenceNumber, error) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, nil
	}
	ref, err := ParseReferenceNumber(*s)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// LooksLikeReference reports whether input has the reference number shape.
// The resolver uses it to skip the reference lookup for DP codes.
func LooksLikeReference(s string) bool {
	return referencePattern.MatchString(s)
}

func (r ReferenceNumber) String() string {
	return string(r)
}

// UserCode is the short public per-volunteer identifier (DP code) printed on
// badges. Codes are matched case-insensitively.
type UserCode string

const maxUserCodeLength = 32

// ParseUserCode normalises scanned or typed input into a UserCode.
func ParseUserCode(s string) (UserCode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "code cannot be empty")
	}
	if len(s) > maxUserCodeLength {
		return "", dErrors.New(dErrors.CodeValidation, "code is too long")
	}
	return UserCode(s), nil
}

func (c UserCode) String() string {
	return string(c)
}
