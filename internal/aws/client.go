package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// RealClient implements Client using the AWS SDK v2.
type RealClient struct {
	stsClient *sts.Client
	iamClient *iam.Client
}

// NewRealClient creates a preflight client from an explicit SDK config.
func NewRealClient(cfg aws.Config) *RealClient {
	return &RealClient{
		stsClient: sts.NewFromConfig(cfg),
		iamClient: iam.NewFromConfig(cfg),
	}
}

// VerifyCredentials checks the current AWS credentials using STS.
func (c *RealClient) VerifyCredentials(ctx context.Context) (*CallerIdentity, error) {
	out, err := c.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, classify("GetCallerIdentity", fmt.Errorf("getting caller identity: %w", err))
	}

	return &CallerIdentity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}

// CheckAccess simulates the caller's policy for each action against the
// EMR cluster resource.
func (c *RealClient) CheckAccess(ctx context.Context, actions []string) (map[string]bool, error) {
	identity, err := c.VerifyCredentials(ctx)
	if err != nil {
		return nil, err
	}

	out, err := c.iamClient.SimulatePrincipalPolicy(ctx, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: aws.String(identity.ARN),
		ActionNames:     actions,
		ResourceArns:    []string{"arn:aws:elasticmapreduce:*:*:cluster/*"},
	})
	if err != nil {
		return nil, classify("SimulatePrincipalPolicy", fmt.Errorf("simulating policy for %s: %w", identity.ARN, err))
	}

	allowed := make(map[string]bool, len(actions))
	for _, a := range actions {
		allowed[a] = false
	}
	for _, result := range out.EvaluationResults {
		if result.EvalDecision == "allowed" {
			allowed[aws.ToString(result.EvalActionName)] = true
		}
	}
	return allowed, nil
}
