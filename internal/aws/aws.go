package aws

import (
	"context"
	"sort"
	"strings"
)

// Client defines the credential and permission checks run before a cluster
// is provisioned.
type Client interface {
	VerifyCredentials(ctx context.Context) (*CallerIdentity, error)
	CheckAccess(ctx context.Context, actions []string) (map[string]bool, error)
}

// CallerIdentity holds AWS STS caller identity information.
type CallerIdentity struct {
	Account string
	ARN     string
	UserID  string
}

// LifecycleActions are the EMR permissions the orchestrator needs.
var LifecycleActions = []string{
	"elasticmapreduce:RunJobFlow",
	"elasticmapreduce:AddJobFlowSteps",
	"elasticmapreduce:DescribeCluster",
	"elasticmapreduce:ListSteps",
	"elasticmapreduce:TerminateJobFlows",
}

// Preflight describes whether the caller can drive a cluster lifecycle.
type Preflight struct {
	Identity *CallerIdentity
	Denied   []string
	Message  string
}

// OK reports whether every lifecycle action is allowed.
func (p *Preflight) OK() bool { return len(p.Denied) == 0 }

// RunPreflight verifies credentials and the EMR permissions the lifecycle uses.
func RunPreflight(ctx context.Context, client Client) (*Preflight, error) {
	identity, err := client.VerifyCredentials(ctx)
	if err != nil {
		return nil, err
	}

	allowed, err := client.CheckAccess(ctx, LifecycleActions)
	if err != nil {
		return nil, err
	}

	p := &Preflight{Identity: identity}
	for _, action := range LifecycleActions {
		if !allowed[action] {
			p.Denied = append(p.Denied, action)
		}
	}
	sort.Strings(p.Denied)

	switch {
	case p.OK():
		p.Message = "All EMR lifecycle actions are allowed."
	case len(p.Denied) == len(LifecycleActions):
		p.Message = "EMR is not accessible. Check IAM permissions."
	default:
		p.Message = "Missing EMR permissions: " + strings.Join(p.Denied, ", ")
	}
	return p, nil
}
