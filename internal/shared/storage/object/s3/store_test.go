package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"docextract-backend/internal/shared/storage/object"
)

type fakeS3 struct {
	objects map[string][]byte
	lastPut *s3.PutObjectInput
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Key)] = data
	f.lastPut = in
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "owner/file.pdf", want: "owner/file.pdf"},
		{name: "simple prefix", prefix: "root", key: "owner/file.pdf", want: "root/owner/file.pdf"},
		{name: "prefix trailing slash", prefix: "root/", key: "owner/file.pdf", want: "root/owner/file.pdf"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/owner/file.pdf", want: "root/owner/file.pdf"},
		{name: "empty key", prefix: "root", key: "", want: "root"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestSaveAndOpenThroughPrefix(t *testing.T) {
	fake := &fakeS3{}
	store := newWithClient(fake, "bucket", "/raw/", "")
	ctx := context.Background()

	key, size, sniffed, err := store.Save(ctx, "owner-1", "notes.txt", strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if size != 11 {
		t.Fatalf("expected 11 bytes, got %d", size)
	}
	if !strings.HasPrefix(sniffed, "text/plain") {
		t.Fatalf("unexpected sniffed type %s", sniffed)
	}
	if got := aws.ToString(fake.lastPut.Key); got != "raw/"+key {
		t.Fatalf("expected prefixed object key, got %s", got)
	}
	if fake.lastPut.ServerSideEncryption != s3types.ServerSideEncryptionAes256 {
		t.Fatalf("expected AES256 default encryption, got %s", fake.lastPut.ServerSideEncryption)
	}

	data, err := object.ReadAll(ctx, store, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("unexpected body %q", data)
	}
}

func TestSaveUsesKMSWhenConfigured(t *testing.T) {
	fake := &fakeS3{}
	store := newWithClient(fake, "bucket", "", "key-123")

	if _, _, _, err := store.Save(context.Background(), "owner-1", "a.pdf", strings.NewReader("%PDF")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if fake.lastPut.ServerSideEncryption != s3types.ServerSideEncryptionAwsKms {
		t.Fatalf("expected kms encryption")
	}
	if aws.ToString(fake.lastPut.SSEKMSKeyId) != "key-123" {
		t.Fatalf("unexpected kms key %s", aws.ToString(fake.lastPut.SSEKMSKeyId))
	}
}

func TestOpenMissingMapsToNotFound(t *testing.T) {
	store := newWithClient(&fakeS3{}, "bucket", "", "")
	if _, err := store.Open(context.Background(), "missing"); !errors.Is(err, object.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
