package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/bjpl/corporate-intel-sub001/internal/breaker"
	"github.com/bjpl/corporate-intel-sub001/internal/config"
	"github.com/bjpl/corporate-intel-sub001/internal/jobs"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// FilingArchiver downloads regulatory filings and archives them to local
// disk or S3. Downloads route through the "filing_source" circuit breaker.
type FilingArchiver struct {
	jobs.NoopHooks

	cfg        config.Config
	httpClient *http.Client
	breakers   *breaker.Manager
	local      uploader
	s3         uploader
}

// NewFilingArchiver constructs the archive_filing runner and chooses an
// uploader (local or S3) from configuration.
func NewFilingArchiver(ctx context.Context, cfg config.Config, breakers *breaker.Manager) (*FilingArchiver, error) {
	baseDir := cfg.FilingOutputDir
	if baseDir == "" {
		baseDir = "./filings"
	}

	var s3Upload uploader
	if cfg.FilingS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s3Upload = &s3Uploader{client: client, bucket: cfg.FilingS3Bucket}
	}

	return &FilingArchiver{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breakers:   breakers,
		local:      &localUploader{baseDir: baseDir},
		s3:         s3Upload,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.FilingS3Region),
	}
	if cfg.FilingS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.FilingS3Endpoint,
					HostnameImmutable: cfg.FilingS3PathStyle,
					SigningRegion:     cfg.FilingS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.FilingS3PathStyle
	}), nil
}

// Execute downloads one filing and archives it.
func (a *FilingArchiver) Execute(ctx context.Context, params map[string]any) (any, error) {
	sourceURL, _ := params["source_url"].(string)
	if sourceURL == "" {
		return nil, jobs.Validationf("source_url parameter is required")
	}
	outputKey, _ := params["output_key"].(string)
	destination, _ := params["destination"].(string)

	var (
		body        []byte
		contentType string
	)
	download := func() error {
		var err error
		body, contentType, err = a.download(ctx, sourceURL)
		return err
	}
	var err error
	if a.breakers != nil {
		err = a.breakers.Call("filing_source", download)
	} else {
		err = download()
	}
	if err != nil {
		return nil, err
	}

	if outputKey == "" {
		outputKey = filepath.Base(sourceURL)
	}
	outputKey = sanitizeKey(outputKey)

	up, err := a.pickUploader(destination)
	if err != nil {
		return nil, jobs.Fatal(err)
	}
	location, err := up.Upload(ctx, outputKey, body, contentType)
	if err != nil {
		return nil, fmt.Errorf("archive filing: %w", err)
	}

	return map[string]any{
		"source_url": sourceURL,
		"location":   location,
		"bytes":      len(body),
	}, nil
}

func (a *FilingArchiver) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download filing: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, "", jobs.Transientf("filing source returned %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, "", jobs.Fatal(fmt.Errorf("filing source rejected request: %d", resp.StatusCode))
	}

	limit := a.cfg.FilingMaxBytes
	if limit == 0 {
		limit = 50 * 1024 * 1024
	}
	limited := io.LimitReader(resp.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read filing: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, "", jobs.Fatal(fmt.Errorf("filing too large (>%d bytes)", limit))
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func (a *FilingArchiver) pickUploader(destination string) (uploader, error) {
	switch strings.ToLower(destination) {
	case "s3":
		if a.s3 != nil {
			return a.s3, nil
		}
		return nil, errors.New("destination s3 requested but FILING_S3_BUCKET is not configured")
	case "local", "":
		if a.local != nil {
			return a.local, nil
		}
	}
	if a.s3 != nil {
		return a.s3, nil
	}
	if a.local != nil {
		return a.local, nil
	}
	return nil, errors.New("no uploader configured")
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
