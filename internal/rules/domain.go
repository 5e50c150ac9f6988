// Package rules stores the community rulebook: categories and the published
// rules inside them that moderators cite when issuing warnings.
package rules

import (
	"time"
)

// Category groups rules on the public site.
type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	OrderIndex  int       `json:"order_index"`
	IsActive    bool      `json:"is_active"`
	RuleCount   int       `json:"ruleCount"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CategoryRef is the category summary embedded in a rule.
type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Rule is one entry of the rulebook.
type Rule struct {
	ID          int64       `json:"id"`
	CategoryID  int64       `json:"category_id"`
	Category    CategoryRef `json:"category"`
	Title       string      `json:"title"`
	Subtitle    string      `json:"subtitle,omitempty"`
	Content     string      `json:"content"`
	Slug        string      `json:"slug"`
	OrderIndex  int         `json:"order_index"`
	IsPublished bool        `json:"is_published"`
	IsFeatured  bool        `json:"is_featured"`
	ViewCount   int         `json:"view_count"`
	Version     int         `json:"version"`
	Tags        []string    `json:"tags"`
	CreatedBy   int64       `json:"created_by,omitempty"`
	UpdatedBy   int64       `json:"updated_by,omitempty"`
	PublishedAt *time.Time  `json:"published_at"`
	ExpiresAt   *time.Time  `json:"expires_at"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Visible reports whether the public site may show the rule at now.
func (r *Rule) Visible(now time.Time) bool {
	return r.IsPublished && (r.ExpiresAt == nil || r.ExpiresAt.After(now))
}

// ListFilter narrows the public rule listing.
type ListFilter struct {
	CategorySlug string
	Search       string
	FeaturedOnly bool
	Limit        int
	Offset       int
}

// NewRule is the input for Create.
type NewRule struct {
	CategoryID  int64
	Title       string
	Subtitle    string
	Content     string
	Slug        string
	OrderIndex  int
	IsPublished bool
	IsFeatured  bool
	Tags        []string
	ExpiresAt   *time.Time
}

// RuleChanges lists the mutable fields of a rule. Nil means unchanged.
type RuleChanges struct {
	CategoryID  *int64
	Title       *string
	Subtitle    *string
	Content     *string
	OrderIndex  *int
	IsPublished *bool
	IsFeatured  *bool
	Tags        []string
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// CategoryInput is the input for category create and update. Nil means unchanged on update.
type CategoryInput struct {
	Name        *string
	Description *string
	OrderIndex  *int
	IsActive    *bool
}
