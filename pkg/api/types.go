package api

import (
	"context"

	"github.com/platinummonkey/docmeter/pkg/billing"
	"github.com/platinummonkey/docmeter/pkg/chatbot"
	"github.com/platinummonkey/docmeter/pkg/files"
	"github.com/platinummonkey/docmeter/pkg/joblog"
	"github.com/platinummonkey/docmeter/pkg/stats"
	"github.com/platinummonkey/docmeter/pkg/users"
)

// CheckoutCreator starts checkout sessions and links to the customer portal
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, user *users.User, planID billing.PlanID) (*billing.CheckoutSession, error)
	CustomerPortalURL(ctx context.Context, user *users.User) (string, error)
}

// WebhookHandler verifies and applies one processor webhook delivery
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

// CreditSpender consumes one credit of a user
type CreditSpender interface {
	Spend(ctx context.Context, userID int64) error
}

// UserAdmin reads users and changes their admin flag
type UserAdmin interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
	List(ctx context.Context, skipPages int, filter users.ListFilter) (*users.Page, error)
	SetAdmin(ctx context.Context, id int64, isAdmin bool) (*users.User, error)
}

// StatsReader returns the admin dashboard overview
type StatsReader interface {
	Overview(ctx context.Context) (*stats.Overview, error)
}

// LogReader lists recent rows of the logs table
type LogReader interface {
	Recent(ctx context.Context, level joblog.Level, limit int) ([]joblog.Entry, error)
}

// FileService implements the user file operations
type FileService interface {
	Create(ctx context.Context, user *users.User, fileType, name string) (*files.Upload, error)
	List(ctx context.Context, user *users.User) ([]files.File, error)
	DownloadURL(ctx context.Context, user *users.User, key string) (string, error)
}

// SessionEnder ends login sessions
type SessionEnder interface {
	Logout(ctx context.Context, sessionID string) error
}

// ChatResponder answers a chat conversation
type ChatResponder interface {
	Reply(ctx context.Context, messages []chatbot.Message) (string, error)
}

// CheckoutRequest is the body of POST /api/billing/checkout
type CheckoutRequest struct {
	Plan billing.PlanID `json:"plan"`
}

// CreateFileRequest is the body of POST /api/files
type CreateFileRequest struct {
	FileType string `json:"fileType"`
	Name     string `json:"name"`
}

// ChatbotRequest is the body of POST /api/chatbot
type ChatbotRequest struct {
	Messages []chatbot.Message `json:"messages"`
}

// SetAdminRequest is the body of PUT /api/admin/users/{id}/admin
type SetAdminRequest struct {
	IsAdmin *bool `json:"isAdmin"`
}

// WebhookResponse acknowledges a processed webhook
type WebhookResponse struct {
	Received bool `json:"received"`
}

// DownloadURLResponse carries a presigned download URL
type DownloadURLResponse struct {
	URL string `json:"url"`
}
