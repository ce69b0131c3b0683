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
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	putInputs    []*s3.PutObjectInput
	putBodies    [][]byte
	deleteInputs []*s3.DeleteObjectInput
	putErr       error
	deleteErr    error
	headErr      error
	createErr    error
	created      bool
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putInputs = append(f.putInputs, params)
	body, _ := io.ReadAll(params.Body)
	f.putBodies = append(f.putBodies, body)
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleteInputs = append(f.deleteInputs, params)
	return &s3.DeleteObjectOutput{}, f.deleteErr
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = true
	return &s3.CreateBucketOutput{}, f.createErr
}

func TestS3BackingStore(t *testing.T) {
	api := &fakeS3{}
	b := newS3BackingWithAPI("test-bucket", "us-east-1", "", "arn:kms", api)

	if err := b.Store(context.Background(), []byte("a\nb\n"), 2); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if len(api.putInputs) != 1 {
		t.Fatalf("expected 1 put input got %d", len(api.putInputs))
	}
	input := api.putInputs[0]
	if aws.ToString(input.Bucket) != "test-bucket" || aws.ToString(input.Key) != defaultS3Key {
		t.Fatalf("bucket/key mismatch: %#v", input)
	}
	if input.Metadata["records"] != "2" {
		t.Fatalf("expected records metadata, got %#v", input.Metadata)
	}
	if string(api.putBodies[0]) != "a\nb\n" {
		t.Fatalf("unexpected body %q", api.putBodies[0])
	}
	if input.ServerSideEncryption == "" || aws.ToString(input.SSEKMSKeyId) != "arn:kms" {
		t.Fatalf("expected kms encryption: %#v", input)
	}
}

func TestS3BackingRemoveIgnoresMissingKey(t *testing.T) {
	api := &fakeS3{deleteErr: &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}}
	b := newS3BackingWithAPI("test-bucket", "us-east-1", "custom/key", "", api)
	if err := b.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if len(api.deleteInputs) != 1 || aws.ToString(api.deleteInputs[0].Key) != "custom/key" {
		t.Fatalf("unexpected delete inputs %#v", api.deleteInputs)
	}

	api.deleteErr = errors.New("boom")
	if err := b.Remove(context.Background()); err == nil {
		t.Fatalf("expected delete error")
	}
}

func TestS3BackingEnsureBucket(t *testing.T) {
	api := &fakeS3{headErr: &smithy.GenericAPIError{Code: "NotFound"}}
	b := newS3BackingWithAPI("test-bucket", "eu-west-1", "", "", api)
	if err := b.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket: %v", err)
	}
	if !api.created {
		t.Fatalf("expected bucket creation")
	}

	api = &fakeS3{
		headErr:   &smithy.GenericAPIError{Code: "NoSuchBucket"},
		createErr: &smithy.GenericAPIError{Code: "BucketAlreadyOwnedByYou"},
	}
	b = newS3BackingWithAPI("test-bucket", "us-east-1", "", "", api)
	if err := b.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket with existing bucket: %v", err)
	}

	api = &fakeS3{headErr: errors.New("denied")}
	b = newS3BackingWithAPI("test-bucket", "us-east-1", "", "", api)
	if err := b.EnsureBucket(context.Background()); err == nil {
		t.Fatalf("expected head error to surface")
	}
}
