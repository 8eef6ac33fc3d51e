package models

import (
	"time"

	"github.com/google/uuid"
)

// TagType is the registry namespace of a tag.
type TagType string

const (
	TagTypeCodeGroup     TagType = "code_group"
	TagTypePayerGroup    TagType = "payer_group"
	TagTypeProviderGroup TagType = "provider_group"
	TagTypeAction        TagType = "action"
	TagTypeChartSection  TagType = "chart_section"
	// TagTypeOther is only produced by category resolution; it is never stored.
	TagTypeOther TagType = "other"
)

// TagTypes lists the storable tag types.
var TagTypes = []TagType{
	TagTypeCodeGroup,
	TagTypePayerGroup,
	TagTypeProviderGroup,
	TagTypeAction,
	TagTypeChartSection,
}

// Valid reports whether t is a storable tag type.
func (t TagType) Valid() bool {
	for _, v := range TagTypes {
		if t == v {
			return true
		}
	}
	return false
}

// TagStatus is the governance state of a tag.
type TagStatus string

const (
	TagStatusActive          TagStatus = "ACTIVE"
	TagStatusPendingReview   TagStatus = "PENDING_REVIEW"
	TagStatusApproved        TagStatus = "APPROVED"
	TagStatusRejected        TagStatus = "REJECTED"
	TagStatusNeedsDefinition TagStatus = "NEEDS_DEFINITION"
	TagStatusDeprecated      TagStatus = "DEPRECATED"
)

// IsAuthoritative reports whether lookups should treat the tag as known.
func (s TagStatus) IsAuthoritative() bool {
	return s == TagStatusActive || s == TagStatusApproved
}

// IsReviewable reports whether approve/reject may still be applied.
func (s TagStatus) IsReviewable() bool {
	return s == TagStatusPendingReview || s == TagStatusNeedsDefinition
}

// TagIngestPolicy selects how newly discovered tags enter the registry.
type TagIngestPolicy string

const (
	// TagPolicyReview creates tags as PENDING_REVIEW for a human decision.
	TagPolicyReview TagIngestPolicy = "review"
	// TagPolicyAutoApprove creates tags directly as APPROVED (trusted runs).
	TagPolicyAutoApprove TagIngestPolicy = "auto_approve"
)

// Tag is a namespaced symbolic reference. Identity is (Tag, Type) per project.
type Tag struct {
	ID           uuid.UUID  `json:"id"`
	ProjectID    uuid.UUID  `json:"project_id"`
	Tag          string     `json:"tag"`
	Type         TagType    `json:"type"`
	Name         string     `json:"name,omitempty"`
	Description  string     `json:"description,omitempty"`
	Status       TagStatus  `json:"status"`
	UsageCount   int        `json:"usage_count"`
	CreatedBy    string     `json:"created_by,omitempty"`
	OriginRuleID string     `json:"origin_rule_id,omitempty"`
	OriginSOPID  *uuid.UUID `json:"origin_sop_id,omitempty"`
	ReviewedBy   *string    `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TagDiscovery is an unresolved tag found while normalizing a rule.
type TagDiscovery struct {
	Tag          string    `json:"tag"`
	Type         TagType   `json:"type"`
	Description  string    `json:"description,omitempty"`
	OriginRuleID string    `json:"origin_rule_id"`
	OriginSOPID  uuid.UUID `json:"origin_sop_id"`
	CreatedAt    time.Time `json:"created_at"`
	Status       TagStatus `json:"status"`
}
