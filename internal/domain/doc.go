// Package domain holds the Product, Tenant and User aggregates and the rules
// that keep them consistent. Aggregates validate every input before writing a
// field, so a rejected call leaves the aggregate exactly as it was.
//
// Two error channels exist. Plain validation, state and rule violations are
// returned as *ValidationError, *StateError and *RuleError. Failures that need
// audit context (tenant lookups, cross-tenant access) live in package domainerr.
package domain
