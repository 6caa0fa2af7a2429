//go:build integration

package s3_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittodrive/pkg/gc"
	"github.com/marmos91/dittodrive/pkg/hierarchy"
	"github.com/marmos91/dittodrive/pkg/store/content"
	s3store "github.com/marmos91/dittodrive/pkg/store/content/s3"
	contenttesting "github.com/marmos91/dittodrive/pkg/store/content/testing"
	"github.com/marmos91/dittodrive/pkg/store/metadata/memory"
	"github.com/marmos91/dittodrive/pkg/upload"
	"github.com/marmos91/dittodrive/pkg/upload/chunk"
)

// setupTestS3 creates an S3 client and a test bucket on Localstack (or
// another S3-compatible endpoint). The bucket is emptied and removed by the
// returned cleanup function.
func setupTestS3(t *testing.T, bucketName string) (*s3.Client, func()) {
	t.Helper()
	ctx := context.Background()

	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}

	cfg, err := awsConfig.LoadDefaultConfig(ctx,
		awsConfig.WithRegion("us-east-1"),
		awsConfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	if err != nil {
		t.Fatalf("Failed to load AWS config: %v", err)
	}

	// Path-style URLs are required for Localstack
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucketName)}); err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	cleanup := func() {
		paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{Bucket: aws.String(bucketName)})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				break
			}
			for _, obj := range page.Contents {
				_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucketName), Key: obj.Key})
			}
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucketName)})
	}

	return client, cleanup
}

func newStore(t *testing.T, client *s3.Client, bucket, prefix string) *s3store.S3ContentStore {
	t.Helper()
	store, err := s3store.NewS3ContentStore(context.Background(), s3store.S3ContentStoreConfig{
		Client:    client,
		Bucket:    bucket,
		KeyPrefix: prefix,
	})
	if err != nil {
		t.Fatalf("Failed to create S3 content store: %v", err)
	}
	return store
}

// TestS3ContentStore_Integration runs the content store suite against a real
// S3-compatible service.
//
// Prerequisites:
//   - Localstack running on localhost:4566
//   - Run with: go test -tags=integration ./test/integration/s3/...
//
// To start Localstack:
//
//	docker run --rm -p 4566:4566 localstack/localstack
func TestS3ContentStore_Integration(t *testing.T) {
	bucketName := "dittodrive-test-bucket"
	client, cleanup := setupTestS3(t, bucketName)
	defer cleanup()

	// Each test gets a fresh key prefix for isolation
	testCounter := 0
	suite := &contenttesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.ContentStore {
			testCounter++
			return newStore(t, client, bucketName, fmt.Sprintf("test-%d/", testCounter))
		},
	}
	suite.Run(t)
}

// TestS3_UploadAndCollect uploads a file with blobs and scratch chunks in
// the same bucket under distinct prefixes, then runs the collector.
func TestS3_UploadAndCollect(t *testing.T) {
	ctx := context.Background()

	bucketName := "dittodrive-upload-test"
	client, cleanup := setupTestS3(t, bucketName)
	defer cleanup()

	blobs := newStore(t, client, bucketName, "blobs/")
	scratch := newStore(t, client, bucketName, "scratch/")

	store := memory.NewMemoryMetadataStore()
	svc := hierarchy.New(store, blobs, hierarchy.Options{})
	reg := upload.NewRegistrar(store, svc, chunk.NewAssembler(scratch, blobs, nil), blobs, upload.Options{})

	prov, err := svc.ProvisionMember(ctx, "alice")
	if err != nil {
		t.Fatalf("ProvisionMember failed: %v", err)
	}

	up, err := reg.Initiate(ctx, prov.Member.ID, prov.Root.Key, "hello.txt", 3)
	if err != nil {
		t.Fatalf("Initiate failed: %v", err)
	}

	var res upload.Result
	for _, c := range []struct {
		index uint32
		data  string
	}{{2, "rld"}, {0, "Hello"}, {1, " Wo"}} {
		res, err = reg.ReceiveChunk(ctx, up.Key, c.index, []byte(c.data))
		if err != nil {
			t.Fatalf("ReceiveChunk %d failed: %v", c.index, err)
		}
	}
	if !res.Done || res.Size != 11 {
		t.Fatalf("Expected completed upload of 11 bytes, got %+v", res)
	}

	rc, err := svc.Open(ctx, res.Node.Key)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "Hello World" {
		t.Errorf("Expected 'Hello World', got %q", data)
	}

	if err := blobs.WriteContent(ctx, "orphan", []byte("x")); err != nil {
		t.Fatalf("Failed to write orphan: %v", err)
	}

	collector, err := gc.NewCollector(store, blobs, scratch, gc.Config{}, nil)
	if err != nil {
		t.Fatalf("NewCollector failed: %v", err)
	}
	stats, err := collector.RunNow(ctx)
	if err != nil {
		t.Fatalf("RunNow failed: %v", err)
	}
	if stats.ExistingCount != 2 || stats.OrphanedCount != 1 || stats.ScratchCount != 0 {
		t.Errorf("Unexpected collection: %s", stats.Summary())
	}

	if exists, err := blobs.ContentExists(ctx, res.Node.Key); err != nil || !exists {
		t.Errorf("Uploaded blob should survive collection (exists=%v, err=%v)", exists, err)
	}
}
