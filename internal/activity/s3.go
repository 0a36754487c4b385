package activity

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// S3Handler implements the `s3` node type.
//
// config fields:
//
//	bucket:       bucket name (required)
//	region:       AWS region (required)
//	folder:       key prefix inside the bucket
//	method:       "get" | "put" (required)
//	auth:         map — access_key_id, secret_access_key, session_token.
//	              The same keys may appear flat, injected by a secret of type
//	              aws_credentials. Without either the default AWS chain is used.
//	regex_filter: object-name filter regex (get)
//	local_folder: local source (put) or destination (get) directory
//	files:        filenames to upload (put)
//	overwrite:    replace existing objects (put, default true)
type S3Handler struct{}

func (h *S3Handler) Name() string { return "s3" }

func (h *S3Handler) Execute(input, config map[string]interface{}, run *flow.ExecutionContext) (map[string]interface{}, error) {
	bucket, ok := config["bucket"].(string)
	if !ok || bucket == "" {
		return nil, fmt.Errorf("s3 activity: missing required config field 'bucket'")
	}
	region, ok := config["region"].(string)
	if !ok || region == "" {
		return nil, fmt.Errorf("s3 activity: missing required config field 'region'")
	}
	method, err := transferMethod("s3", config)
	if err != nil {
		return nil, err
	}
	filter, err := compileNameFilter("s3", config)
	if err != nil {
		return nil, err
	}

	client, err := newS3Client(region, config)
	if err != nil {
		return nil, err
	}

	prefix, _ := config["folder"].(string)
	callCtx := context.Background()
	if method == "get" {
		return s3Download(callCtx, client, bucket, prefix, localFolder(config), filter)
	}
	return s3Upload(callCtx, client, bucket, prefix, config)
}

func s3Download(ctx context.Context, client *s3.Client, bucket, prefix, localDir string, filter *regexp.Regexp) (map[string]interface{}, error) {
	pager := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})

	var downloaded []string
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 activity: list objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			name := filepath.Base(key)
			if filter != nil && !filter.MatchString(name) {
				continue
			}

			resp, err := client.GetObject(ctx, &s3.GetObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return nil, fmt.Errorf("s3 activity: get %q: %w", key, err)
			}
			err = writeStreamToFile(filepath.Join(localDir, name), resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("s3 activity: write %q: %w", name, err)
			}
			downloaded = append(downloaded, name)
		}
	}
	return downloadOutput(downloaded), nil
}

func s3Upload(ctx context.Context, client *s3.Client, bucket, prefix string, config map[string]interface{}) (map[string]interface{}, error) {
	localDir := localFolder(config)
	overwrite := overwriteEnabled(config)

	var uploaded []string
	for _, name := range uploadNames(config) {
		key := name
		if prefix != "" {
			key = strings.TrimRight(prefix, "/") + "/" + name
		}

		if !overwrite {
			_, err := client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String(key),
			})
			if err == nil {
				continue
			}
		}

		data, err := os.ReadFile(filepath.Join(localDir, name))
		if err != nil {
			return nil, fmt.Errorf("s3 activity: read %q: %w", name, err)
		}
		if _, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		}); err != nil {
			return nil, fmt.Errorf("s3 activity: put %q: %w", key, err)
		}
		uploaded = append(uploaded, name)
	}
	return uploadOutput(uploaded), nil
}

// newS3Client resolves credentials from the nested auth map or flat config
// keys; when neither is present the SDK's default chain applies.
func newS3Client(region string, config map[string]interface{}) (*s3.Client, error) {
	credential := func(key string) string {
		if auth, ok := config["auth"].(map[string]interface{}); ok {
			if v, ok := auth[key].(string); ok && v != "" {
				return v
			}
		}
		v, _ := config[key].(string)
		return v
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	accessKey := credential("access_key_id")
	secretKey := credential("secret_access_key")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, credential("session_token")),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 activity: load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

func writeStreamToFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}
