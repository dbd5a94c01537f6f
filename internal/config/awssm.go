package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager resolves an AWS Secrets Manager reference.
// Format: secret-id, or secret-id#json-key for a JSON secret.
func resolveAWSSecretsManager(ctx context.Context, ref string) (string, error) {
	id, key, _ := strings.Cut(ref, "#")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("loading AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(id),
	})
	if err != nil {
		return "", fmt.Errorf("getting secret %q: %w", id, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %q has no string value (binary secrets not supported)", id)
	}
	if key == "" {
		return *out.SecretString, nil
	}
	return jsonField(*out.SecretString, key)
}

func jsonField(doc, key string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return "", fmt.Errorf("secret is not a JSON object: %w", err)
	}
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in secret", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("secret value for key %q is not a string", key)
	}
	return s, nil
}
