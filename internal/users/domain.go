package users

import (
	"time"

	"github.com/MaxBossMan1/ddgmotdv2/internal/rbac"
)

// PermanentBanExpiry marks a ban that never lapses. Storing a concrete instant
// keeps ban status a single comparison against the clock.
var PermanentBanExpiry = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// User represents a staff panel account.
type User struct {
	ID              int64
	Username        string
	Email           string
	PasswordHash    string
	SteamID         string
	DiscordID       string
	Role            rbac.Role
	Permissions     rbac.CapabilitySet
	IsActive        bool
	BanExpires      *time.Time
	BanReason       string
	Warns           int
	EscalationLevel int
	Notes           string
	LastLogin       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GetID implements rbac.Principal.
func (u *User) GetID() int64 { return u.ID }

// GetRole implements rbac.Principal.
func (u *User) GetRole() rbac.Role { return u.Role }

// Capabilities implements rbac.Principal.
func (u *User) Capabilities() rbac.CapabilitySet { return u.Permissions }

// IsBanned reports whether a ban is in force at now.
func (u *User) IsBanned(now time.Time) bool {
	return u.BanExpires != nil && now.Before(*u.BanExpires)
}

// IsPermanentlyBanned reports whether the stored expiry is the permanent sentinel.
func (u *User) IsPermanentlyBanned() bool {
	return u.BanExpires != nil && !u.BanExpires.Before(PermanentBanExpiry)
}

// BanView is the externally visible ban state.
type BanView struct {
	Banned    bool       `json:"banned"`
	Permanent bool       `json:"permanent"`
	Expires   *time.Time `json:"expires"`
	Reason    string     `json:"reason,omitempty"`
}

// Ban renders the ban state at now. Permanent bans report a nil expiry.
func (u *User) Ban(now time.Time) BanView {
	if !u.IsBanned(now) {
		return BanView{}
	}
	view := BanView{Banned: true, Reason: u.BanReason}
	if u.IsPermanentlyBanned() {
		view.Permanent = true
		return view
	}
	exp := *u.BanExpires
	view.Expires = &exp
	return view
}

// PublicUser is the JSON shape returned by the API; credentials are never exposed.
type PublicUser struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	SteamID     string     `json:"steam_id,omitempty"`
	DiscordID   string     `json:"discord_id,omitempty"`
	Role        rbac.Role  `json:"role"`
	Permissions []string   `json:"permissions"`
	IsActive    bool       `json:"is_active"`
	Ban         BanView    `json:"ban"`
	Warns       int        `json:"warns"`
	Notes       string     `json:"notes,omitempty"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Public builds the API view of u at now.
func (u *User) Public(now time.Time) PublicUser {
	return PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		SteamID:     u.SteamID,
		DiscordID:   u.DiscordID,
		Role:        u.Role,
		Permissions: u.Permissions.Names(),
		IsActive:    u.IsActive,
		Ban:         u.Ban(now),
		Warns:       u.Warns,
		Notes:       u.Notes,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// PunishmentKind classifies a violation record.
type PunishmentKind string

// Punishment kinds.
const (
	PunishmentWarning      PunishmentKind = "warning"
	PunishmentKick         PunishmentKind = "kick"
	PunishmentTemporaryBan PunishmentKind = "temporary_ban"
	PunishmentPermanentBan PunishmentKind = "permanent_ban"
)

// IsBan reports whether the kind is a ban.
func (k PunishmentKind) IsBan() bool {
	return k == PunishmentTemporaryBan || k == PunishmentPermanentBan
}

// AppealStatus tracks an appeal against a violation.
type AppealStatus string

// Appeal states.
const (
	AppealNone     AppealStatus = "none"
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

// Violation is a sanction record. Records are deactivated, never deleted.
type Violation struct {
	ID              int64          `json:"id"`
	UserID          int64          `json:"user_id"`
	StaffID         int64          `json:"staff_id"`
	StaffUsername   string         `json:"staff_username,omitempty"`
	RuleID          *int64         `json:"rule_id,omitempty"`
	Punishment      PunishmentKind `json:"punishment_type"`
	Reason          string         `json:"reason"`
	DurationMinutes *int           `json:"duration,omitempty"`
	IsActive        bool           `json:"is_active"`
	AppealStatus    AppealStatus   `json:"appeal_status"`
	CreatedAt       time.Time      `json:"created_at"`
}

// ViolationStats summarises a user's sanction history.
type ViolationStats struct {
	Total  int `json:"violationCount"`
	Active int `json:"activeViolations"`
}

// ListFilter narrows the user listing.
type ListFilter struct {
	Search   string
	Role     rbac.Role
	IsActive *bool
	IsBanned *bool
	Limit    int
	Offset   int
}

// NewUser carries the fields for account creation.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	SteamID      string
	DiscordID    string
	Role         rbac.Role
}

// Changes lists the mutable fields of an account. Nil means unchanged.
type Changes struct {
	Role            *rbac.Role
	IsActive        *bool
	Warns           *int
	EscalationLevel *int
	Notes           *string
	Permissions     rbac.CapabilitySet
}

// Empty reports whether no field is set.
func (c Changes) Empty() bool {
	return c.Role == nil && c.IsActive == nil && c.Warns == nil &&
		c.EscalationLevel == nil && c.Notes == nil && c.Permissions == nil
}
