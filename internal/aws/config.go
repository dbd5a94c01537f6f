package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

// Credentials selects how the SDK authenticates. Static keys take precedence
// over the profile; when neither is set the default chain is used.
type Credentials struct {
	Profile         string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LoadConfig builds the SDK configuration shared by the gateway, the stager
// and the preflight client. Nothing is cached process-wide.
func LoadConfig(ctx context.Context, creds Credentials) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if creds.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(creds.Profile))
	}
	if creds.Region != "" {
		opts = append(opts, awsconfig.WithRegion(creds.Region))
	}
	if creds.AccessKeyID != "" {
		if creds.SecretAccessKey == "" {
			return aws.Config{}, fmt.Errorf("access key %s has no secret access key", creds.AccessKeyID)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

// ObjectURI returns the s3:// URI for an object.
func ObjectURI(bucket, key string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, key)
}
