package files

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/docmeter/pkg/apperr"
	"github.com/platinummonkey/docmeter/pkg/config"
	"github.com/platinummonkey/docmeter/pkg/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresigner struct {
	err        error
	lastExpiry time.Duration
	lastType   string
}

func (f *fakePresigner) PresignUpload(_ context.Context, key, contentType string, expiry time.Duration) (string, error) {
	f.lastExpiry, f.lastType = expiry, contentType
	return "https://bucket.s3/put/" + key, f.err
}

func (f *fakePresigner) PresignDownload(_ context.Context, key string, expiry time.Duration) (string, error) {
	f.lastExpiry = expiry
	return "https://bucket.s3/get/" + key, f.err
}

type memoryRepo struct {
	files []File
}

func (m *memoryRepo) Create(_ context.Context, f *File) error {
	f.CreatedAt = time.Now()
	m.files = append(m.files, *f)
	return nil
}

func (m *memoryRepo) ListByUser(_ context.Context, userID int64) ([]File, error) {
	var out []File
	for i := len(m.files) - 1; i >= 0; i-- {
		if m.files[i].UserID == userID {
			out = append(out, m.files[i])
		}
	}
	return out, nil
}

func (m *memoryRepo) GetByKey(_ context.Context, userID int64, key string) (*File, error) {
	for _, f := range m.files {
		if f.Key == key && f.UserID == userID {
			return &f, nil
		}
	}
	return nil, nil
}

func TestService_Create(t *testing.T) {
	presigner := &fakePresigner{}
	repo := &memoryRepo{}
	svc := NewService(presigner, repo, 15*time.Minute, nil)
	user := &users.User{ID: 7}

	up, err := svc.Create(context.Background(), user, "application/pdf", "reports/q1.pdf")
	require.NoError(t, err)
	assert.Regexp(t, `^7/[0-9a-f-]{36}-q1\.pdf$`, up.Key)
	assert.Equal(t, "https://bucket.s3/put/"+up.Key, up.UploadURL)
	assert.Equal(t, 15*time.Minute, presigner.lastExpiry)
	assert.Equal(t, "application/pdf", presigner.lastType)

	require.Len(t, repo.files, 1)
	assert.Equal(t, "reports/q1.pdf", repo.files[0].Name)
	assert.Equal(t, up.Key, repo.files[0].Key)
	assert.True(t, strings.HasPrefix(up.Key, "7/"+repo.files[0].ID+"-"))
}

func TestService_CreateValidation(t *testing.T) {
	svc := NewService(&fakePresigner{}, &memoryRepo{}, 0, nil)
	user := &users.User{ID: 7}

	tests := []struct {
		name     string
		user     *users.User
		fileType string
		fileName string
		kind     apperr.Kind
	}{
		{"no user", nil, "image/png", "a.png", apperr.KindUnauthenticated},
		{"empty name", user, "image/png", "  ", apperr.KindValidation},
		{"disallowed type", user, "application/zip", "a.zip", apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.user, tt.fileType, tt.fileName)
			assert.True(t, apperr.IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestService_CreatePresignFailure(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(&fakePresigner{err: errors.New("no credentials")}, repo, 0, nil)

	_, err := svc.Create(context.Background(), &users.User{ID: 1}, "text/plain", "notes.txt")
	assert.True(t, apperr.IsKind(err, apperr.KindInternal))
	assert.Empty(t, repo.files)
}

func TestAllowedType(t *testing.T) {
	assert.True(t, allowedType("text/markdown"))
	assert.True(t, allowedType("video/mp4"))
	assert.False(t, allowedType("text"))
	assert.False(t, allowedType("image/gif"))
}

func TestService_ListAndDownload(t *testing.T) {
	presigner := &fakePresigner{}
	repo := &memoryRepo{}
	svc := NewService(presigner, repo, 0, nil)
	alice := &users.User{ID: 1}
	bob := &users.User{ID: 2}

	first, err := svc.Create(context.Background(), alice, "image/png", "a.png")
	require.NoError(t, err)
	second, err := svc.Create(context.Background(), alice, "image/png", "b.png")
	require.NoError(t, err)

	list, err := svc.List(context.Background(), alice)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Key, list[0].Key)

	u, err := svc.DownloadURL(context.Background(), alice, first.Key)
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3/get/"+first.Key, u)
	assert.Equal(t, time.Hour, presigner.lastExpiry)

	_, err = svc.DownloadURL(context.Background(), bob, first.Key)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "keys of other users are not served")

	_, err = svc.DownloadURL(context.Background(), alice, "")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestS3Presigner(t *testing.T) {
	p, err := NewS3Presigner(context.Background(), config.S3Config{
		Region:       "us-east-1",
		Bucket:       "docmeter-files",
		Endpoint:     "http://localhost:9000",
		AccessKey:    "AKIDEXAMPLE",
		SecretKey:    "secret",
		UsePathStyle: true,
	})
	require.NoError(t, err)

	raw, err := p.PresignDownload(context.Background(), "1/abc-a.png", time.Hour)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.Equal(t, "/docmeter-files/1/abc-a.png", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))

	raw, err = p.PresignUpload(context.Background(), "1/abc-a.png", "image/png", 10*time.Minute)
	require.NoError(t, err)
	u, err = url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.Contains(t, u.Query().Get("X-Amz-SignedHeaders"), "host")
}

func TestStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cols := []string{"id", "user_id", "name", "type", "key", "upload_url", "created_at"}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO files")).
		WithArgs("f1", int64(7), "a.png", "image/png", "7/f1-a.png", "https://u").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectQuery("SELECT .* FROM files WHERE user_id = \\$1 ORDER BY created_at DESC").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("f1", 7, "a.png", "image/png", "7/f1-a.png", "https://u", now))
	mock.ExpectQuery("SELECT .* FROM files WHERE key = \\$1 AND user_id = \\$2").
		WithArgs("7/f1-a.png", int64(8)).
		WillReturnRows(sqlmock.NewRows(cols))

	store := NewStore(db)
	f := &File{ID: "f1", UserID: 7, Name: "a.png", Type: "image/png", Key: "7/f1-a.png", UploadURL: "https://u"}
	require.NoError(t, store.Create(context.Background(), f))
	assert.Equal(t, now, f.CreatedAt)

	list, err := store.ListByUser(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "7/f1-a.png", list[0].Key)

	got, err := store.GetByKey(context.Background(), 8, "7/f1-a.png")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
