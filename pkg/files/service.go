// Package files issues presigned S3 upload and download URLs for user
// files and records the uploads in the files table.
package files

import (
	"context"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/observability"
	"github.com/platinummonkey/docmeter/pkg/users"
)

// DownloadURLExpiry is the lifetime of a presigned download URL
const DownloadURLExpiry = time.Hour

// AllowedTypes lists accepted content types; an entry ending in /* matches
// every subtype.
var AllowedTypes = []string{
	"image/jpeg",
	"image/png",
	"application/pdf",
	"text/*",
	"video/quicktime",
	"video/mp4",
}

// Upload is the result of creating a file
type Upload struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
}

// Repository is the persistence surface of Service
type Repository interface {
	Create(ctx context.Context, f *File) error
	ListByUser(ctx context.Context, userID int64) ([]File, error)
	GetByKey(ctx context.Context, userID int64, key string) (*File, error)
}

// Service implements the file operations for authenticated users
type Service struct {
	presigner    Presigner
	repo         Repository
	uploadExpiry time.Duration
	logger       *observability.Logger
}

// NewService creates a new Service
func NewService(presigner Presigner, repo Repository, uploadExpiry time.Duration, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if uploadExpiry <= 0 {
		uploadExpiry = DownloadURLExpiry
	}
	return &Service{presigner: presigner, repo: repo, uploadExpiry: uploadExpiry, logger: logger}
}

func allowedType(contentType string) bool {
	for _, t := range AllowedTypes {
		if prefix, ok := strings.CutSuffix(t, "/*"); ok {
			if strings.HasPrefix(contentType, prefix+"/") {
				return true
			}
			continue
		}
		if contentType == t {
			return true
		}
	}
	return false
}

// objectKey builds <userId>/<uuid>-<base name>
func objectKey(userID int64, id, name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	return strconv.FormatInt(userID, 10) + "/" + id + "-" + base
}

// Create presigns an upload for a new file and records it
func (s *Service) Create(ctx context.Context, user *users.User, fileType, name string) (*Upload, error) {
	if user == nil {
		return nil, apperr.ErrUnauthenticated
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("Operation arguments validation failed: name is required")
	}
	if !allowedType(fileType) {
		return nil, apperr.Validation("Operation arguments validation failed: file type %q is not allowed", fileType)
	}

	id := uuid.NewString()
	key := objectKey(user.ID, id, name)

	url, err := s.presigner.PresignUpload(ctx, key, fileType, s.uploadExpiry)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	if err := s.repo.Create(ctx, &File{
		ID:        id,
		UserID:    user.ID,
		Name:      name,
		Type:      fileType,
		Key:       key,
		UploadURL: url,
	}); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id": user.ID,
		"key":     key,
	}).Info("File upload URL issued")

	return &Upload{UploadURL: url, Key: key}, nil
}

// List returns the caller's files, newest first
func (s *Service) List(ctx context.Context, user *users.User) ([]File, error) {
	if user == nil {
		return nil, apperr.ErrUnauthenticated
	}
	return s.repo.ListByUser(ctx, user.ID)
}

// DownloadURL presigns a download for one of the caller's files
func (s *Service) DownloadURL(ctx context.Context, user *users.User, key string) (string, error) {
	if user == nil {
		return "", apperr.ErrUnauthenticated
	}
	if key == "" {
		return "", apperr.Validation("Operation arguments validation failed: key is required")
	}

	f, err := s.repo.GetByKey(ctx, user.ID, key)
	if err != nil {
		return "", err
	}
	if f == nil {
		return "", apperr.ErrNotFound
	}

	url, err := s.presigner.PresignDownload(ctx, f.Key, DownloadURLExpiry)
	if err != nil {
		return "", apperr.Internal(err)
	}
	return url, nil
}
