// Package policy implements the authorization decision core: matching
// request traits and subjects against tenant policies, deny-overrides
// precedence, redaction collection, and vector-store filter narrowing.
package policy

import (
	"errors"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// Permission is the action a policy grants for one channel.
type Permission string

const (
	PermissionAllow  Permission = "ALLOW"
	PermissionDeny   Permission = "DENY"
	PermissionRedact Permission = "REDACT"
)

// PolicyStatus gates whether a policy participates in evaluation.
type PolicyStatus string

const (
	StatusActive   PolicyStatus = "active"
	StatusInactive PolicyStatus = "inactive"
)

// PublicGroup matches every subject regardless of membership.
const PublicGroup = "public"

var (
	// ErrStoreUnavailable means the policy store could not be queried.
	// The engine fails closed and the caller surfaces a service error.
	ErrStoreUnavailable = errors.New("policy: store unavailable")
)

// Policy binds subjects and traits to per-channel permissions.
// Policies are read-only inputs here; the administrative layer owns
// mutation.
type Policy struct {
	ID     int64        `json:"id"`
	Status PolicyStatus `json:"status"`

	// Tags are the traits this policy targets.
	Tags []string `json:"tags"`

	AllowedUsers  []string `json:"allowedUsers,omitempty"`
	DeniedUsers   []string `json:"deniedUsers,omitempty"`
	AllowedGroups []string `json:"allowedGroups,omitempty"`
	DeniedGroups  []string `json:"deniedGroups,omitempty"`
	AllowedRoles  []string `json:"allowedRoles,omitempty"`
	DeniedRoles   []string `json:"deniedRoles,omitempty"`

	// Permissions maps channel -> permission. Channels without an
	// entry do not match the policy.
	Permissions map[contracts.RequestType]Permission `json:"permissions"`

	// Condition is an optional CEL expression over the request context
	// map. An empty condition always matches; an erroring condition
	// never grants (fail-closed).
	Condition string `json:"condition,omitempty"`
}

// VectorStorePolicy restricts which documents a subject may read from
// one vector store, expressed as a metadata predicate.
type VectorStorePolicy struct {
	ID            int64  `json:"id"`
	VectorStoreID string `json:"vectorStoreId"`
	MetadataKey   string `json:"metadataKey"`
	MetadataValue string `json:"metadataValue"`
	Operator      string `json:"operator"`

	AllowedUsers  []string `json:"allowedUsers,omitempty"`
	DeniedUsers   []string `json:"deniedUsers,omitempty"`
	AllowedGroups []string `json:"allowedGroups,omitempty"`
	DeniedGroups  []string `json:"deniedGroups,omitempty"`
}

// VectorStoreConfig describes one registered vector store.
type VectorStoreConfig struct {
	ID               string `json:"id"`
	Provider         string `json:"provider"` // milvus | opensearch | cortex
	UserEnforcement  bool   `json:"userEnforcement"`
	GroupEnforcement bool   `json:"groupEnforcement"`
}

// subjectMatch is how a policy matched the requesting subject.
type subjectMatch int

const (
	matchNone subjectMatch = iota
	matchAllowed
	matchDenied
)

// matchSubject tests exact token membership of the subject against the
// policy's allow/deny sets. Membership is exact after tokenization:
// group "admin" does not match "superadmin".
func (p *Policy) matchSubject(userID string, groups, roles []string) subjectMatch {
	if contains(p.DeniedUsers, userID) ||
		intersects(p.DeniedGroups, groups) ||
		intersects(p.DeniedRoles, roles) {
		return matchDenied
	}
	if contains(p.AllowedUsers, userID) ||
		intersects(p.AllowedGroups, groups) ||
		intersects(p.AllowedRoles, roles) ||
		contains(p.AllowedGroups, PublicGroup) {
		return matchAllowed
	}
	return matchNone
}

// matchedTraits returns the intersection of the policy's tags with the
// request traits, preserving request trait order.
func (p *Policy) matchedTraits(traits []string) []string {
	var out []string
	for _, tr := range traits {
		if contains(p.Tags, tr) {
			out = append(out, tr)
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(set, values []string) bool {
	for _, v := range values {
		if contains(set, v) {
			return true
		}
	}
	return false
}
