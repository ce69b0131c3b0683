// Copyright 2025 Alexander Alten (novatechflow), NovaTechflow (novatechflow.com).
// This project is supported and financed by Scalytics, Inc. (www.scalytics.io).
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

const defaultS3Key = "ringlog/image"

// S3Config describes the bucket and object holding the ring image.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	Key             string
	ForcePathStyle  bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	KMSKeyARN       string
}

type awsS3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// S3Backing keeps the ring image in a single S3 object.
type S3Backing struct {
	bucket string
	region string
	key    string
	kmsKey string
	api    awsS3API
}

// NewS3Backing returns an AWS-backed S3 backing.
func NewS3Backing(ctx context.Context, cfg S3Config) (*S3Backing, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3 region required")
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	if cfg.Endpoint != "" {
		customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:           cfg.Endpoint,
					PartitionID:   "aws",
					SigningRegion: cfg.Region,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		loadOpts = append(loadOpts, config.WithEndpointResolverWithOptions(customResolver))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return newS3BackingWithAPI(cfg.Bucket, cfg.Region, cfg.Key, cfg.KMSKeyARN, client), nil
}

func newS3BackingWithAPI(bucket, region, key, kmsKey string, api awsS3API) *S3Backing {
	if key == "" {
		key = defaultS3Key
	}
	return &S3Backing{
		bucket: bucket,
		region: region,
		key:    key,
		kmsKey: kmsKey,
		api:    api,
	}
}

func (b *S3Backing) Name() string { return "s3" }

// EnsureBucket creates the bucket when it does not exist yet.
func (b *S3Backing) EnsureBucket(ctx context.Context) error {
	if err := b.headBucket(ctx); err == nil {
		return nil
	} else if !errors.Is(err, errBucketMissing) {
		return err
	}

	input := &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	}
	if cfg := b.bucketLocationConfig(); cfg != nil {
		input.CreateBucketConfiguration = cfg
	}
	_, err := b.api.CreateBucket(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
				return nil
			}
		}
		return fmt.Errorf("create bucket %s: %w", b.bucket, err)
	}
	return nil
}

var errBucketMissing = errors.New("bucket missing")

func (b *S3Backing) headBucket(ctx context.Context) error {
	_, err := b.api.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchBucket" {
			return errBucketMissing
		}
	}
	return fmt.Errorf("head bucket %s: %w", b.bucket, err)
}

func (b *S3Backing) bucketLocationConfig() *types.CreateBucketConfiguration {
	if b.region == "" || b.region == "us-east-1" {
		return nil
	}
	constraint := types.BucketLocationConstraint(b.region)
	return &types.CreateBucketConfiguration{LocationConstraint: constraint}
}

func (b *S3Backing) Reset(ctx context.Context) error {
	return b.deleteObject(ctx)
}

func (b *S3Backing) Store(ctx context.Context, image []byte, records int) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(image),
		ContentType: aws.String("text/plain"),
		Metadata: map[string]string{
			"records": strconv.Itoa(records),
		},
	}
	if b.kmsKey != "" {
		input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		input.SSEKMSKeyId = aws.String(b.kmsKey)
	}
	if _, err := b.api.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", b.key, err)
	}
	return nil
}

func (b *S3Backing) Remove(ctx context.Context) error {
	return b.deleteObject(ctx)
}

func (b *S3Backing) deleteObject(ctx context.Context) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
		return nil
	}
	return fmt.Errorf("delete object %s: %w", b.key, err)
}
