package backup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"path"
	"strings"
)

// S3Config holds S3 uploader parameters. Credentials come from the
// environment the aws CLI already understands (AWS_ACCESS_KEY_ID, profiles,
// instance roles).
type S3Config struct {
	URI      string
	Endpoint string
	Region   string
}

// commandRunner runs name with args and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// S3Uploader copies files to S3 with `aws s3 cp`.
type S3Uploader struct {
	bucket    string
	keyPrefix string
	cfg       S3Config
	run       commandRunner
}

// NewS3Uploader parses an s3://bucket/prefix URI and checks the aws CLI is
// installed.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	bucket, prefix, err := parseS3URI(cfg.URI)
	if err != nil {
		return nil, err
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return nil, errors.New("s3: aws cli not found in PATH")
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	return &S3Uploader{bucket: bucket, keyPrefix: prefix, cfg: cfg, run: runCommand}, nil
}

// Destination returns the object URI localPath is uploaded to.
func (u *S3Uploader) Destination(localPath string) string {
	key := path.Base(localPath)
	if u.keyPrefix != "" {
		key = path.Join(u.keyPrefix, key)
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, key)
}

// UploadFile uploads localPath under the configured prefix.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	args := []string{"s3", "cp", localPath, u.Destination(localPath), "--region", u.cfg.Region, "--only-show-errors"}
	if endpoint := normalizeEndpoint(u.cfg.Endpoint); endpoint != "" {
		args = append(args, "--endpoint-url", endpoint)
	}
	out, err := u.run(ctx, "aws", args...)
	if err != nil {
		return fmt.Errorf("s3 upload command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return "https://" + endpoint
}

func parseS3URI(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("s3: parse uri: %w", err)
	}
	if u.Scheme != "s3" {
		return "", "", errors.New("s3: uri must use s3:// scheme")
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", "", errors.New("s3: uri missing bucket name")
	}
	return u.Host, strings.Trim(strings.TrimSpace(u.Path), "/"), nil
}
