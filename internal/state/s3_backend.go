package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sethvargo/go-retry"

	"github.com/picklr-io/testbed/internal/logging"
)

const (
	defaultS3Key    = "testbed/sessions.json"
	defaultS3Region = "us-east-1"

	s3LockRetryInterval = 500 * time.Millisecond
)

// S3Config selects a shared session store in S3. With a LockTable, writers
// are serialized through a DynamoDB item keyed by the object key; without
// one, concurrent writers may overwrite each other.
type S3Config struct {
	Bucket    string `mapstructure:"state_bucket"`
	Key       string `mapstructure:"state_key"`
	Region    string `mapstructure:"state_region"`
	LockTable string `mapstructure:"state_lock_table"`
	Profile   string `mapstructure:"state_profile"`
	// Encrypt requests SSE-S3 server-side encryption on write.
	Encrypt bool `mapstructure:"state_encrypt"`
}

type s3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type lockAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// s3Backend keeps the document as one S3 object.
type s3Backend struct {
	cfg   S3Config
	s3    s3API
	locks lockAPI // nil without a lock table
	log   *slog.Logger
}

// NewS3Store returns a store kept in S3. Credentials come from the default
// AWS chain, optionally narrowed to a shared-config profile.
func NewS3Store(ctx context.Context, cfg S3Config) (*Store, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	b := &s3Backend{cfg: cfg, s3: s3.NewFromConfig(awsCfg), log: logging.Component("state")}
	if cfg.LockTable != "" {
		b.locks = dynamodb.NewFromConfig(awsCfg)
	}
	return New(b), nil
}

func (c S3Config) withDefaults() (S3Config, error) {
	if c.Bucket == "" {
		return c, errors.New("s3 session store requires a bucket")
	}
	if c.Key == "" {
		c.Key = defaultS3Key
	}
	if c.Region == "" {
		c.Region = defaultS3Region
	}
	return c, nil
}

func (b *s3Backend) Location() string {
	return "s3://" + b.cfg.Bucket + "/" + b.cfg.Key
}

func (b *s3Backend) Load(ctx context.Context) ([]byte, error) {
	out, err := b.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.cfg.Key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session store %s: %w", b.Location(), err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read session store %s: %w", b.Location(), err)
	}
	return raw, nil
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	// Some S3-compatible stores answer with a bare 404.
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound")
}

func (b *s3Backend) Save(ctx context.Context, data []byte) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.cfg.Bucket),
		Key:         aws.String(b.cfg.Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if b.cfg.Encrypt {
		in.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := b.s3.PutObject(ctx, in); err != nil {
		return fmt.Errorf("failed to write session store %s: %w", b.Location(), err)
	}
	return nil
}

// Lock creates the lock item, retrying while another holder has it until ctx
// is done.
func (b *s3Backend) Lock(ctx context.Context) (func(), error) {
	if b.locks == nil {
		return func() {}, nil
	}

	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())

	err := retry.Do(ctx, retry.NewConstant(s3LockRetryInterval), func(ctx context.Context) error {
		_, err := b.locks.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(b.cfg.LockTable),
			Item: map[string]dbtypes.AttributeValue{
				"LockID":  &dbtypes.AttributeValueMemberS{Value: b.cfg.Key},
				"Info":    &dbtypes.AttributeValueMemberS{Value: owner},
				"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			},
			ConditionExpression: aws.String("attribute_not_exists(LockID)"),
		})
		var held *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &held) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to lock session store %s (lock item %q in table %q): %w",
			b.Location(), b.cfg.Key, b.cfg.LockTable, err)
	}

	return func() {
		// The unlock must run even when the caller's context is gone.
		_, err := b.locks.DeleteItem(context.WithoutCancel(ctx), &dynamodb.DeleteItemInput{
			TableName: aws.String(b.cfg.LockTable),
			Key: map[string]dbtypes.AttributeValue{
				"LockID": &dbtypes.AttributeValueMemberS{Value: b.cfg.Key},
			},
			ConditionExpression:       aws.String("Info = :owner"),
			ExpressionAttributeValues: map[string]dbtypes.AttributeValue{":owner": &dbtypes.AttributeValueMemberS{Value: owner}},
		})
		if err != nil {
			b.log.Warn("failed to release session store lock", slog.String("table", b.cfg.LockTable), slog.Any("err", err))
		}
	}, nil
}
