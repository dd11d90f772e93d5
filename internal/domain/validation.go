package domain

import (
	"net/mail"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"
)

var (
	productNamePattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}\s\-_.,&'()/+#]*$`)
	skuPattern         = regexp.MustCompile(`^[A-Z0-9][A-Z0-9_-]*$`)
	tagPattern         = regexp.MustCompile(`^[a-z0-9][a-z0-9 _-]*$`)
	categoryPattern    = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N}\s\-_&/]*$`)
	tenantIDPattern    = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
	tenantNamePattern  = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} &.,'_-]*$`)
	personNamePattern  = regexp.MustCompile(`^\p{L}[\p{L}\s'.-]*$`)
	languagePattern    = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)
	countryPattern     = regexp.MustCompile(`^[A-Z]{2}$`)
	hostnamePattern    = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
	subdomainPattern   = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

const (
	maxEmailLength      = 254
	maxPersonNameLength = 100
)

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// collapseSpaces trims s and folds inner whitespace runs into one space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func validateLength(field, value string, min, max int) error {
	n := runeLen(value)
	if n < min || n > max {
		return invalid(field, "length must be between %d and %d characters, got %d", min, max, n)
	}
	return nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", invalid("email", "must not be blank")
	}
	if len(email) > maxEmailLength {
		return "", invalid("email", "must be at most %d characters", maxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email", "%q is not a valid address", email)
	}
	return email, nil
}

func normalizePersonName(field, name string) (string, error) {
	name = collapseSpaces(name)
	if err := validateLength(field, name, 1, maxPersonNameLength); err != nil {
		return "", err
	}
	if !personNamePattern.MatchString(name) {
		return "", invalid(field, "%q contains unsupported characters", name)
	}
	return name, nil
}

func validateLanguage(language string) error {
	if !languagePattern.MatchString(language) {
		return invalid("language", "%q must look like \"en\" or \"en-US\"", language)
	}
	return nil
}

// validateTimezone resolves tz against the system timezone database.
func validateTimezone(tz string) error {
	if tz == "" {
		return invalid("timezone", "must not be blank")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return invalid("timezone", "%q is not a known timezone", tz)
	}
	return nil
}

func validateCountry(country string) error {
	if !countryPattern.MatchString(country) {
		return invalid("country", "%q must be a two-letter uppercase code", country)
	}
	return nil
}
