package domainerr

import "fmt"

const CodeTenantNotFound = "TENANT_NOT_FOUND"

var _ error = (*TenantNotFoundError)(nil)

// SearchType names the key a tenant lookup used.
type SearchType string

const (
	SearchByID        SearchType = "id"
	SearchByName      SearchType = "name"
	SearchByDomain    SearchType = "domain"
	SearchBySubdomain SearchType = "subdomain"
)

// TenantNotFoundError is returned when a tenant lookup fails. MayHaveBeenDeleted
// separates a soft-deleted tenant from one that never existed.
type TenantNotFoundError struct {
	*DomainError
	SearchType         SearchType
	SearchValue        string
	MayHaveBeenDeleted bool
}

// NewTenantNotFound builds a TenantNotFoundError with Medium severity.
func NewTenantNotFound(searchType SearchType, value string, mayHaveBeenDeleted bool) *TenantNotFoundError {
	msg := fmt.Sprintf("tenant with %s %q was not found", searchType, value)
	if mayHaveBeenDeleted {
		msg = fmt.Sprintf("tenant with %s %q was not found or has been deleted", searchType, value)
	}
	base := New(CodeTenantNotFound, CategoryMultiTenancy, SeverityMedium, msg).
		WithContext("search_type", string(searchType)).
		WithContext("search_value", value).
		WithContext("may_have_been_deleted", mayHaveBeenDeleted)
	if searchType == SearchByID {
		base.TenantID = value
	}
	return &TenantNotFoundError{
		DomainError:        base,
		SearchType:         searchType,
		SearchValue:        value,
		MayHaveBeenDeleted: mayHaveBeenDeleted,
	}
}
