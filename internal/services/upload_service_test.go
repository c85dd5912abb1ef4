package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	squadlink_errors "squadlink/pkg/errors"
)

type stubPresigner struct {
	err     error
	lastKey string
}

func (p *stubPresigner) PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error) {
	if p.err != nil {
		return "", nil, p.err
	}
	p.lastKey = key
	return "https://upload.example.com/" + key, map[string]string{"Content-Type": contentType}, nil
}

func (p *stubPresigner) FileURL(key string) string { return "https://cdn.example.com/" + key }

func (p *stubPresigner) PresignTTL() time.Duration { return 10 * time.Minute }

func TestCreateImageUpload(t *testing.T) {
	presigner := &stubPresigner{}
	svc := NewUploadService(presigner)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	up, err := svc.CreateImageUpload(context.Background(), ImageUploadInput{
		ViewerID: "alice", FileName: "clip.png", ContentType: "image/png", FileSize: 2048,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if up.ObjectKey != presigner.lastKey || !strings.HasPrefix(up.ObjectKey, "images/alice/") {
		t.Fatalf("unexpected key %q", up.ObjectKey)
	}
	if up.FileURL != "https://cdn.example.com/"+up.ObjectKey {
		t.Fatalf("unexpected file url %q", up.FileURL)
	}
	if !up.ExpiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", up.ExpiresAt)
	}
}

func TestCreateImageUploadRejects(t *testing.T) {
	svc := NewUploadService(&stubPresigner{})
	cases := map[string]struct {
		in   ImageUploadInput
		want error
	}{
		"no viewer":   {ImageUploadInput{FileName: "a.png", ContentType: "image/png", FileSize: 1}, squadlink_errors.ErrNotAuthenticated},
		"no name":     {ImageUploadInput{ViewerID: "a", ContentType: "image/png", FileSize: 1}, squadlink_errors.ErrInvalidInput},
		"not image":   {ImageUploadInput{ViewerID: "a", FileName: "a.exe", ContentType: "application/octet-stream", FileSize: 1}, squadlink_errors.ErrInvalidInput},
		"empty image": {ImageUploadInput{ViewerID: "a", FileName: "a.png", ContentType: "image/png"}, squadlink_errors.ErrInvalidInput},
	}
	for name, tc := range cases {
		if _, err := svc.CreateImageUpload(context.Background(), tc.in); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", name, tc.want, err)
		}
	}
}

func TestCreateImageUploadStorageFailure(t *testing.T) {
	svc := NewUploadService(&stubPresigner{err: errors.New("s3 down")})
	_, err := svc.CreateImageUpload(context.Background(), ImageUploadInput{
		ViewerID: "alice", FileName: "a.png", ContentType: "image/png", FileSize: 10,
	})
	if !errors.Is(err, squadlink_errors.ErrServiceUnavailable) {
		t.Fatalf("expected ErrServiceUnavailable, got %v", err)
	}
}
