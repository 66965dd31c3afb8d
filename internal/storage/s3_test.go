package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestClassifyStorageError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey"}, ErrObjectNotFound},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket"}, ErrObjectNotFound},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied"}, ErrAccessDenied},
		{"bad signature", minio.ErrorResponse{Code: "SignatureDoesNotMatch"}, ErrAccessDenied},
		{"dial failure", errors.New("dial tcp 127.0.0.1:9000: connect: connection refused"), ErrNetworkError},
		{"timeout", errors.New("i/o Timeout"), ErrNetworkError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStorageError(tt.err, "download")
			if !errors.Is(got, tt.want) {
				t.Errorf("classifyStorageError(%v) = %v, want wrapping %v", tt.err, got, tt.want)
			}
		})
	}

	t.Run("unknown error is wrapped as-is", func(t *testing.T) {
		orig := errors.New("something odd")
		got := classifyStorageError(orig, "upload")
		if !errors.Is(got, orig) {
			t.Errorf("expected %v to wrap original error", got)
		}
	})

	t.Run("nil stays nil", func(t *testing.T) {
		if classifyStorageError(nil, "upload") != nil {
			t.Error("expected nil")
		}
	})
}

func TestAvatarKey(t *testing.T) {
	if got := AvatarKey(42, ".png"); got != "avatars/42/avatar.png" {
		t.Errorf("AvatarKey = %q", got)
	}
}

func TestS3Config_Enabled(t *testing.T) {
	full := S3Config{Endpoint: "localhost:9000", AccessKeyID: "a", SecretAccessKey: "b", BucketName: "c"}
	if !full.Enabled() {
		t.Error("expected full config to be enabled")
	}
	partial := full
	partial.BucketName = ""
	if partial.Enabled() {
		t.Error("expected config without bucket to be disabled")
	}
}
