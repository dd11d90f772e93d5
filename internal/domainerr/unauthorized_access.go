package domainerr

import (
	"fmt"
	"net/netip"
	"strings"
	"unicode/utf8"
)

const CodeUnauthorizedTenantAccess = "UNAUTHORIZED_TENANT_ACCESS"

// AccessType is the kind of operation attempted on a resource.
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessWrite  AccessType = "write"
	AccessDelete AccessType = "delete"
	AccessAdmin  AccessType = "admin"
)

// sensitiveMarkers flag resource names whose access is worth a second look.
var sensitiveMarkers = []string{"admin", "secret", "password", "credential", "token", "billing", "sso", "settings"}

const maxUserAgentLen = 64

var _ error = (*UnauthorizedTenantAccessError)(nil)

// AccessAttempt describes a denied access for NewUnauthorizedTenantAccess.
type AccessAttempt struct {
	AttemptedTenantID string
	CallerTenantID    string
	UserID            string
	ResourceType      string
	ResourceID        string
	ResourceName      string
	AccessType        AccessType
	AdminPath         bool
	IPAddress         string
	UserAgent         string
	CorrelationID     string
}

// UnauthorizedTenantAccessError is returned when the caller's tenant does not own
// the resource, or when no tenant context was resolved at all.
type UnauthorizedTenantAccessError struct {
	*DomainError
	AttemptedTenantID string
	CallerTenantID    string
	ResourceType      string
	ResourceID        string
	ResourceName      string
	AccessType        AccessType
	MaskedIP          string
	MaskedUserAgent   string
	NoTenantContext   bool
	IsSuspicious      bool
}

// NewUnauthorizedTenantAccess classifies the attempt and builds the error.
func NewUnauthorizedTenantAccess(a AccessAttempt) *UnauthorizedTenantAccessError {
	if a.AccessType == "" {
		a.AccessType = AccessRead
	}
	noTenant := strings.TrimSpace(a.CallerTenantID) == ""
	crossTenant := !noTenant && !strings.EqualFold(a.CallerTenantID, a.AttemptedTenantID)
	adminAccess := a.AccessType == AccessAdmin || a.AdminPath

	severity := classifySeverity(adminAccess, crossTenant, a.AccessType)
	suspicious := adminAccess || isSensitiveResource(a.ResourceName) ||
		(crossTenant && isInternalOrigin(a.IPAddress))

	var msg string
	switch {
	case noTenant:
		msg = fmt.Sprintf("%s access to %s without a tenant context", a.AccessType, describe(a))
	default:
		msg = fmt.Sprintf("tenant %q is not allowed %s access to %s owned by tenant %q",
			a.CallerTenantID, a.AccessType, describe(a), a.AttemptedTenantID)
	}

	maskedIP := MaskIP(a.IPAddress)
	maskedUA := MaskUserAgent(a.UserAgent)

	base := New(CodeUnauthorizedTenantAccess, CategorySecurity, severity, msg).
		WithTenant(a.CallerTenantID).
		WithUser(a.UserID).
		WithCorrelationID(a.CorrelationID).
		WithContext("attempted_tenant_id", a.AttemptedTenantID).
		WithContext("access_type", string(a.AccessType)).
		WithContext("resource_type", a.ResourceType).
		WithContext("suspicious", suspicious)
	if a.ResourceID != "" {
		base.WithContext("resource_id", a.ResourceID)
	}
	if a.ResourceName != "" {
		base.WithContext("resource_name", a.ResourceName)
	}
	if maskedIP != "" {
		base.WithContext("ip", maskedIP)
	}
	if maskedUA != "" {
		base.WithContext("user_agent", maskedUA)
	}

	return &UnauthorizedTenantAccessError{
		DomainError:       base,
		AttemptedTenantID: a.AttemptedTenantID,
		CallerTenantID:    a.CallerTenantID,
		ResourceType:      a.ResourceType,
		ResourceID:        a.ResourceID,
		ResourceName:      a.ResourceName,
		AccessType:        a.AccessType,
		MaskedIP:          maskedIP,
		MaskedUserAgent:   maskedUA,
		NoTenantContext:   noTenant,
		IsSuspicious:      suspicious,
	}
}

func classifySeverity(admin, crossTenant bool, access AccessType) Severity {
	switch {
	case admin:
		return SeverityCritical
	case crossTenant:
		return SeverityHigh
	case access == AccessRead:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

func describe(a AccessAttempt) string {
	switch {
	case a.ResourceType != "" && a.ResourceID != "":
		return a.ResourceType + " " + a.ResourceID
	case a.ResourceType != "":
		return a.ResourceType
	default:
		return "resource"
	}
}

func isSensitiveResource(name string) bool {
	lower := strings.ToLower(name)
	if lower == "" {
		return false
	}
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// isInternalOrigin reports loopback and private-range addresses. Tenant traffic
// arrives through the public edge, so an internal origin crossing tenants is odd.
func isInternalOrigin(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}

// MaskIP hides the host part of an address: the last IPv4 octet, or everything
// after the first four IPv6 groups. Unparseable input is replaced entirely.
func MaskIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "***"
	}
	addr = addr.Unmap()
	if addr.Is4() {
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d.***", b[0], b[1], b[2])
	}
	b := addr.As16()
	return fmt.Sprintf("%x:%x:%x:%x:****",
		uint16(b[0])<<8|uint16(b[1]),
		uint16(b[2])<<8|uint16(b[3]),
		uint16(b[4])<<8|uint16(b[5]),
		uint16(b[6])<<8|uint16(b[7]),
	)
}

// MaskUserAgent truncates user agents longer than maxUserAgentLen runes.
func MaskUserAgent(ua string) string {
	ua = strings.TrimSpace(ua)
	if utf8.RuneCountInString(ua) <= maxUserAgentLen {
		return ua
	}
	return string([]rune(ua)[:maxUserAgentLen]) + "..."
}
