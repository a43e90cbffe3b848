package state

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/testbed/internal/ir"
	"github.com/picklr-io/testbed/internal/logging"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	sse     s3types.ServerSideEncryption
	getErr  error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	f.sse = in.ServerSideEncryption
	return &s3.PutObjectOutput{}, nil
}

type fakeLocks struct {
	mu    sync.Mutex
	items map[string]string
}

func (f *fakeLocks) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if _, held := f.items[key]; held {
		return nil, &dbtypes.ConditionalCheckFailedException{}
	}
	f.items[key] = in.Item["Info"].(*dbtypes.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLocks) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := in.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value
	owner := in.ExpressionAttributeValues[":owner"].(*dbtypes.AttributeValueMemberS).Value
	if f.items[key] != owner {
		return nil, &dbtypes.ConditionalCheckFailedException{}
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func newS3Backend(t *testing.T, cfg S3Config, locks lockAPI) (*s3Backend, *fakeS3) {
	t.Helper()
	cfg, err := cfg.withDefaults()
	require.NoError(t, err)
	fs := &fakeS3{objects: make(map[string][]byte)}
	return &s3Backend{cfg: cfg, s3: fs, locks: locks, log: logging.Discard()}, fs
}

func TestS3Config_Defaults(t *testing.T) {
	_, err := S3Config{}.withDefaults()
	assert.ErrorContains(t, err, "bucket")

	cfg, err := S3Config{Bucket: "ci-state"}.withDefaults()
	require.NoError(t, err)
	assert.Equal(t, "testbed/sessions.json", cfg.Key)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Empty(t, cfg.LockTable)
}

func TestS3Backend_Store(t *testing.T) {
	locks := &fakeLocks{items: make(map[string]string)}
	b, fs := newS3Backend(t, S3Config{Bucket: "ci-state", LockTable: "testbed-locks", Encrypt: true}, locks)
	s := New(b)
	ctx := context.Background()

	assert.Equal(t, "s3://ci-state/testbed/sessions.json", s.Path())

	sessions, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	require.NoError(t, s.Record(ctx, &ir.Session{ID: "a", Volumes: []string{"pgdata"}}))
	require.NoError(t, s.Record(ctx, &ir.Session{ID: "b"}))
	assert.Contains(t, string(fs.objects["ci-state/testbed/sessions.json"]), `"pgdata"`)
	assert.Equal(t, s3types.ServerSideEncryptionAes256, fs.sse)

	latest, err := s.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)

	require.NoError(t, s.Remove(ctx, "b"))
	sessions, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "a", sessions[0].ID)

	// Every lock was released.
	assert.Empty(t, locks.items)
}

func TestS3Backend_LockWaitsForHolder(t *testing.T) {
	locks := &fakeLocks{items: map[string]string{"testbed/sessions.json": "other-host"}}
	b, _ := newS3Backend(t, S3Config{Bucket: "ci-state", LockTable: "testbed-locks"}, locks)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := New(b).List(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "testbed-locks")

	// The foreign lock is untouched.
	assert.Equal(t, "other-host", locks.items["testbed/sessions.json"])
}

func TestS3Backend_NoLockTable(t *testing.T) {
	b, _ := newS3Backend(t, S3Config{Bucket: "ci-state"}, nil)
	unlock, err := b.Lock(context.Background())
	require.NoError(t, err)
	unlock()
}

func TestS3Backend_LoadErrors(t *testing.T) {
	b, fs := newS3Backend(t, S3Config{Bucket: "ci-state"}, nil)
	ctx := context.Background()

	fs.getErr = &smithy.GenericAPIError{Code: "NotFound"}
	raw, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, raw)

	fs.getErr = errors.New("access denied")
	_, err = b.Load(ctx)
	assert.ErrorContains(t, err, "s3://ci-state/testbed/sessions.json")
}
