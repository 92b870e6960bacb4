package users

import (
	"context"
	"time"
)

// SubscriptionStatus is the processor-driven subscription state of a user
type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCancelAtPeriodEnd SubscriptionStatus = "cancel_at_period_end"
	StatusDeleted           SubscriptionStatus = "deleted"
)

// Valid reports whether s is one of the known statuses
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPastDue, StatusCancelAtPeriodEnd, StatusDeleted:
		return true
	}
	return false
}

// User is an account as seen by billing and metering
type User struct {
	ID                     int64               `json:"id" db:"id"`
	Email                  *string             `json:"email" db:"email"`
	Username               string              `json:"username" db:"username"`
	IsAdmin                bool                `json:"isAdmin" db:"is_admin"`
	Credits                int                 `json:"credits" db:"credits"`
	SubscriptionStatus     *SubscriptionStatus `json:"subscriptionStatus" db:"subscription_status"`
	SubscriptionPlan       *string             `json:"subscriptionPlan" db:"subscription_plan"`
	PaymentProcessorUserID *string             `json:"paymentProcessorUserId" db:"payment_processor_user_id"`
	DatePaid               *time.Time          `json:"datePaid" db:"date_paid"`
	CreatedAt              time.Time           `json:"createdAt" db:"created_at"`
}

// HasEmail reports whether the user has a non-empty email address
func (u *User) HasEmail() bool {
	return u.Email != nil && *u.Email != ""
}

// PaymentUpdate describes a processor-driven mutation of a user. Nil fields
// are left untouched; CreditsIncrement of zero leaves credits untouched.
type PaymentUpdate struct {
	SubscriptionPlan   *string
	SubscriptionStatus *SubscriptionStatus
	DatePaid           *time.Time
	CreditsIncrement   int
}

// Empty reports whether the update would change nothing
func (u PaymentUpdate) Empty() bool {
	return u.SubscriptionPlan == nil && u.SubscriptionStatus == nil && u.DatePaid == nil && u.CreditsIncrement == 0
}

// ListFilter narrows the admin user listing
type ListFilter struct {
	EmailContains string
	IsAdmin       *bool
	// Statuses to include; IncludeNoStatus adds users with no subscription status
	Statuses        []SubscriptionStatus
	IncludeNoStatus bool
}

// UserSummary is the row shape of the admin user listing
type UserSummary struct {
	ID                     int64               `json:"id" db:"id"`
	Email                  *string             `json:"email" db:"email"`
	Username               string              `json:"username" db:"username"`
	IsAdmin                bool                `json:"isAdmin" db:"is_admin"`
	SubscriptionStatus     *SubscriptionStatus `json:"subscriptionStatus" db:"subscription_status"`
	PaymentProcessorUserID *string             `json:"paymentProcessorUserId" db:"payment_processor_user_id"`
}

// Page is one page of the admin user listing
type Page struct {
	Users      []UserSummary `json:"users"`
	TotalPages int           `json:"totalPages"`
}

// PageSize is the number of users per admin listing page
const PageSize = 10

// Store persists users
type Store interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByProcessorID(ctx context.Context, customerID string) (*User, error)
	SetProcessorID(ctx context.Context, userID int64, customerID string) error
	// UpdateByProcessorID applies a payment update to the user joined by processor customer id
	UpdateByProcessorID(ctx context.Context, customerID string, update PaymentUpdate) (*User, error)
	CountUsers(ctx context.Context) (int, error)
	CountPaidUsers(ctx context.Context) (int, error)
	List(ctx context.Context, skipPages int, filter ListFilter) (*Page, error)
	SetAdmin(ctx context.Context, id int64, isAdmin bool) (*User, error)
}
