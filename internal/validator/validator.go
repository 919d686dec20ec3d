// Package validator checks an extracted field mapping against the profile
// schema: all five fields present, email and phone in a plausible shape.
package validator

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/compliance-cli/internal/model"
)

var (
	emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

	// Accepts international, US, and German formats after digit counting.
	phoneCharsRe = regexp.MustCompile(`^[0-9+\-()./\s]+$`)

	spaceRe = regexp.MustCompile(`\s+`)
)

// Result is the outcome of validating one field mapping.
type Result struct {
	Status  model.ValidationStatus
	Fields  map[string]string
	Missing []string
}

// Validate normalizes the extracted fields and reports which required fields
// are missing or malformed. Malformed emails and phones count as missing.
// Missing fields are listed in schema order.
func Validate(fields map[string]string) Result {
	cleaned := make(map[string]string, len(fields))
	for k, v := range fields {
		if nv := normalize(v); nv != "" {
			cleaned[k] = nv
		}
	}

	var missing []string
	for _, key := range model.FieldOrder {
		v, ok := cleaned[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		if !wellFormed(key, v) {
			delete(cleaned, key)
			missing = append(missing, key)
		}
	}

	res := Result{Fields: cleaned, Missing: missing}
	if len(missing) == 0 {
		res.Status = model.ValidationValid
	} else {
		res.Status = model.ValidationInvalid
	}
	return res
}

// normalize applies NFC normalization and collapses runs of whitespace.
func normalize(s string) string {
	s = norm.NFC.String(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func wellFormed(key, value string) bool {
	switch key {
	case "contact_email":
		return emailRe.MatchString(value)
	case "phone_number":
		return validPhone(value)
	default:
		return true
	}
}

// validPhone requires a phone-shaped character set and between 7 and 15
// digits, which covers US, international, and German numbers.
func validPhone(s string) bool {
	if !phoneCharsRe.MatchString(s) {
		return false
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 7 && digits <= 15
}
