package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key     string
		want    string
		wantErr bool
	}{
		{key: "PASSPORT/abc.pdf", want: "PASSPORT/abc.pdf"},
		{key: "PASSPORT//abc.pdf", want: "PASSPORT/abc.pdf"},
		{key: "a/../b.pdf", want: "b.pdf"},
		{key: "", wantErr: true},
		{key: "   ", wantErr: true},
		{key: "/etc/passwd", wantErr: true},
		{key: "../secret", wantErr: true},
		{key: "a/../../secret", wantErr: true},
		{key: "..", wantErr: true},
		{key: `a\b`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := cleanKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =========================================================================
// LOCAL STORE
// =========================================================================

func newTestLocalStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewLocalStore(dir, "applications", "http://localhost:8080/files/")
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	return s, dir
}

func TestLocalStore_PutAndDelete(t *testing.T) {
	s, dir := newTestLocalStore(t)
	ctx := context.Background()
	content := "%PDF-1.4 fake"

	obj, err := s.Put(ctx, "PASSPORT/abc.pdf", strings.NewReader(content), int64(len(content)), "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "PASSPORT/abc.pdf", obj.Key)
	assert.Equal(t, "applications/PASSPORT/abc.pdf", obj.Path)
	assert.Equal(t, "http://localhost:8080/files/applications/PASSPORT/abc.pdf", obj.URL)

	stored, err := os.ReadFile(filepath.Join(dir, "applications", "PASSPORT", "abc.pdf"))
	require.NoError(t, err)
	assert.Equal(t, content, string(stored))

	require.NoError(t, s.Delete(ctx, "PASSPORT/abc.pdf"))
	_, err = os.Stat(filepath.Join(dir, "applications", "PASSPORT", "abc.pdf"))
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStore_DeleteMissingSucceeds(t *testing.T) {
	s, _ := newTestLocalStore(t)
	assert.NoError(t, s.Delete(context.Background(), "PASSPORT/missing.pdf"))
}

func TestLocalStore_SizeMismatch(t *testing.T) {
	s, dir := newTestLocalStore(t)

	_, err := s.Put(context.Background(), "PASSPORT/short.pdf", strings.NewReader("abc"), 10, "application/pdf")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "applications", "PASSPORT", "short.pdf"))
	assert.True(t, os.IsNotExist(statErr), "partial object must not be visible")
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	s, _ := newTestLocalStore(t)

	_, err := s.Put(context.Background(), "../escape.pdf", strings.NewReader("x"), 1, "application/pdf")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, s.Delete(context.Background(), "../escape.pdf"), ErrInvalidKey)
}

func TestLocalStore_CanceledContext(t *testing.T) {
	s, _ := newTestLocalStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "PASSPORT/a.pdf", strings.NewReader("x"), 1, "application/pdf")
	assert.ErrorIs(t, err, context.Canceled)
}

// =========================================================================
// CLOUDINARY STORE
// =========================================================================

type fakeCloudinary struct {
	uploads  []uploader.UploadParams
	destroys []uploader.DestroyParams
	upErr    error
	result   string
}

func (f *fakeCloudinary) Upload(_ context.Context, _ interface{}, p uploader.UploadParams) (*uploader.UploadResult, error) {
	if f.upErr != nil {
		return nil, f.upErr
	}
	f.uploads = append(f.uploads, p)
	return &uploader.UploadResult{
		PublicID:  p.PublicID,
		SecureURL: "https://res.cloudinary.com/demo/" + p.ResourceType + "/upload/" + p.PublicID,
	}, nil
}

func (f *fakeCloudinary) Destroy(_ context.Context, p uploader.DestroyParams) (*uploader.DestroyResult, error) {
	f.destroys = append(f.destroys, p)
	return &uploader.DestroyResult{Result: f.result}, nil
}

func TestCloudinaryStore_PutImage(t *testing.T) {
	fake := &fakeCloudinary{}
	s := newCloudinaryStore(fake, "applications")

	obj, err := s.Put(context.Background(), "PASSPORT/abc.JPG", strings.NewReader("img"), 3, "image/jpeg")
	require.NoError(t, err)
	require.Len(t, fake.uploads, 1)

	assert.Equal(t, "image", fake.uploads[0].ResourceType)
	assert.Equal(t, "applications/PASSPORT/abc", fake.uploads[0].PublicID)
	assert.Equal(t, "applications/PASSPORT/abc.JPG", obj.Path)
	assert.Equal(t, "https://res.cloudinary.com/demo/image/upload/applications/PASSPORT/abc", obj.URL)
}

func TestCloudinaryStore_PutDocumentIsRaw(t *testing.T) {
	fake := &fakeCloudinary{}
	s := newCloudinaryStore(fake, "applications")

	_, err := s.Put(context.Background(), "TRANSCRIPTS/abc.pdf", strings.NewReader("pdf"), 3, "application/pdf")
	require.NoError(t, err)

	assert.Equal(t, "raw", fake.uploads[0].ResourceType)
	assert.Equal(t, "applications/TRANSCRIPTS/abc.pdf", fake.uploads[0].PublicID)
}

func TestCloudinaryStore_UploadError(t *testing.T) {
	s := newCloudinaryStore(&fakeCloudinary{upErr: errors.New("network down")}, "applications")

	_, err := s.Put(context.Background(), "PASSPORT/abc.pdf", strings.NewReader("x"), 1, "application/pdf")
	assert.ErrorContains(t, err, "network down")
}

func TestCloudinaryStore_Delete(t *testing.T) {
	tests := []struct {
		result  string
		wantErr bool
	}{
		{result: "ok"},
		{result: "not found"},
		{result: "error", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			fake := &fakeCloudinary{result: tt.result}
			s := newCloudinaryStore(fake, "applications")

			err := s.Delete(context.Background(), "PASSPORT/abc.png")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			require.Len(t, fake.destroys, 1)
			assert.Equal(t, "image", fake.destroys[0].ResourceType)
			assert.Equal(t, "applications/PASSPORT/abc", fake.destroys[0].PublicID)
		})
	}
}

func TestCloudinaryStore_APIErrorMessage(t *testing.T) {
	s := newCloudinaryStore(&apiErrorCloudinary{}, "applications")

	err := s.Delete(context.Background(), "PASSPORT/abc.pdf")
	assert.ErrorContains(t, err, "Invalid Signature")
}

type apiErrorCloudinary struct{ fakeCloudinary }

func (a *apiErrorCloudinary) Destroy(_ context.Context, _ uploader.DestroyParams) (*uploader.DestroyResult, error) {
	return &uploader.DestroyResult{Error: api.ErrorResp{Message: "Invalid Signature"}}, nil
}
