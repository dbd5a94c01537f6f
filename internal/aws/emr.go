package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/emr"
	"github.com/aws/aws-sdk-go-v2/service/emr/types"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

// ListSteps accepts at most this many step IDs per request.
const maxStepIDsPerList = 10

// DefaultCallTimeout bounds a single control-plane round trip.
const DefaultCallTimeout = 30 * time.Second

type emrAPI interface {
	RunJobFlow(ctx context.Context, params *emr.RunJobFlowInput, optFns ...func(*emr.Options)) (*emr.RunJobFlowOutput, error)
	AddJobFlowSteps(ctx context.Context, params *emr.AddJobFlowStepsInput, optFns ...func(*emr.Options)) (*emr.AddJobFlowStepsOutput, error)
	TerminateJobFlows(ctx context.Context, params *emr.TerminateJobFlowsInput, optFns ...func(*emr.Options)) (*emr.TerminateJobFlowsOutput, error)
	DescribeCluster(ctx context.Context, params *emr.DescribeClusterInput, optFns ...func(*emr.Options)) (*emr.DescribeClusterOutput, error)
	ListSteps(ctx context.Context, params *emr.ListStepsInput, optFns ...func(*emr.Options)) (*emr.ListStepsOutput, error)
}

// GatewayOptions tunes the EMR gateway.
type GatewayOptions struct {
	CallTimeout time.Duration
	Retry       RetryPolicy
	Logger      *slog.Logger
}

// EMRGateway implements cluster.Gateway for Amazon EMR.
type EMRGateway struct {
	client emrAPI
	calls  callPolicy
}

// NewEMRGateway creates an EMR gateway from an explicit SDK config.
// SDK-level retries are disabled; the gateway owns the retry policy.
func NewEMRGateway(cfg aws.Config, opts GatewayOptions) *EMRGateway {
	client := emr.NewFromConfig(cfg, func(o *emr.Options) {
		o.Retryer = aws.NopRetryer{}
	})
	return newEMRGateway(client, opts)
}

func newEMRGateway(client emrAPI, opts GatewayOptions) *EMRGateway {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Retry == (RetryPolicy{}) {
		opts.Retry = DefaultRetryPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &EMRGateway{
		client: client,
		calls: callPolicy{
			retry:   opts.Retry,
			timeout: opts.CallTimeout,
			logger:  opts.Logger,
		},
	}
}

// Provision creates an EMR cluster. It is never retried: RunJobFlow has no
// client request token, so a blind retry could create a duplicate cluster.
func (g *EMRGateway) Provision(ctx context.Context, spec cluster.Spec) (cluster.Handle, error) {
	input := runJobFlowInput(spec)

	var out *emr.RunJobFlowOutput
	err := g.calls.do(ctx, "RunJobFlow", false, func(ctx context.Context) error {
		var err error
		out, err = g.client.RunJobFlow(ctx, input)
		return err
	})
	if err != nil {
		return "", err
	}

	id := aws.ToString(out.JobFlowId)
	if id == "" {
		return "", &cluster.GatewayError{Op: "RunJobFlow", Err: errors.New("control plane returned no cluster id")}
	}
	return cluster.Handle(id), nil
}

func runJobFlowInput(spec cluster.Spec) *emr.RunJobFlowInput {
	apps := make([]types.Application, 0, len(spec.Applications))
	for _, name := range spec.Applications {
		apps = append(apps, types.Application{Name: aws.String(name)})
	}

	// Sorted so the request is deterministic for a given spec.
	keys := make([]string, 0, len(spec.Tags))
	for k := range spec.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tags := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, types.Tag{
			Key:   aws.String(k),
			Value: aws.String(spec.Tags[k]),
		})
	}

	input := &emr.RunJobFlowInput{
		Name:         aws.String(spec.Name),
		ReleaseLabel: aws.String(spec.ReleaseLabel),
		Applications: apps,
		Tags:         tags,
		Instances: &types.JobFlowInstancesConfig{
			MasterInstanceType:          aws.String(spec.MasterInstanceType),
			SlaveInstanceType:           aws.String(spec.CoreInstanceType),
			InstanceCount:               aws.Int32(int32(spec.InstanceCount)),
			KeepJobFlowAliveWhenNoSteps: aws.Bool(spec.KeepAlive),
			TerminationProtected:        aws.Bool(spec.TerminationProtected),
		},
		VisibleToAllUsers: aws.Bool(spec.VisibleToAllUsers),
		JobFlowRole:       aws.String(spec.InstanceRole),
		ServiceRole:       aws.String(spec.ServiceRole),
	}
	if spec.LogURI != "" {
		input.LogUri = aws.String(spec.LogURI)
	}
	if spec.KeyName != "" {
		input.Instances.Ec2KeyName = aws.String(spec.KeyName)
	}
	return input
}

// AddSteps appends steps to the cluster's queue in the given order.
// Acceptance only means the steps are queued, not that they ran.
func (g *EMRGateway) AddSteps(ctx context.Context, h cluster.Handle, steps []cluster.Step) (cluster.Submission, error) {
	configs := make([]types.StepConfig, 0, len(steps))
	for _, s := range steps {
		configs = append(configs, types.StepConfig{
			Name:            aws.String(s.Name),
			ActionOnFailure: types.ActionOnFailure(s.ActionOnFailure),
			HadoopJarStep: &types.HadoopJarStepConfig{
				Jar:  aws.String(s.Jar),
				Args: s.Args,
			},
		})
	}

	var out *emr.AddJobFlowStepsOutput
	err := g.calls.do(ctx, "AddJobFlowSteps", false, func(ctx context.Context) error {
		var err error
		out, err = g.client.AddJobFlowSteps(ctx, &emr.AddJobFlowStepsInput{
			JobFlowId: aws.String(string(h)),
			Steps:     configs,
		})
		return err
	})
	if err != nil {
		return cluster.Submission{}, err
	}
	return cluster.Submission{Handle: h, StepIDs: out.StepIds}, nil
}

// Terminate requests termination of the cluster.
func (g *EMRGateway) Terminate(ctx context.Context, h cluster.Handle) error {
	return g.calls.do(ctx, "TerminateJobFlows", false, func(ctx context.Context) error {
		_, err := g.client.TerminateJobFlows(ctx, &emr.TerminateJobFlowsInput{
			JobFlowIds: []string{string(h)},
		})
		return err
	})
}

// Describe returns the current state of the cluster. Transient failures are
// retried.
func (g *EMRGateway) Describe(ctx context.Context, h cluster.Handle) (cluster.ClusterStatus, error) {
	var out *emr.DescribeClusterOutput
	err := g.calls.do(ctx, "DescribeCluster", true, func(ctx context.Context) error {
		var err error
		out, err = g.client.DescribeCluster(ctx, &emr.DescribeClusterInput{
			ClusterId: aws.String(string(h)),
		})
		return err
	})
	if err != nil {
		return cluster.ClusterStatus{}, err
	}

	status := cluster.ClusterStatus{Handle: h}
	if out.Cluster == nil || out.Cluster.Status == nil {
		return status, nil
	}
	status.State = string(out.Cluster.Status.State)
	if out.Cluster.Status.StateChangeReason != nil {
		status.Message = aws.ToString(out.Cluster.Status.StateChangeReason.Message)
	}
	status.Ready, status.Gone = mapEMRState(out.Cluster.Status.State)
	return status, nil
}

// DescribeSteps returns the status of the given steps, in the order requested.
func (g *EMRGateway) DescribeSteps(ctx context.Context, h cluster.Handle, stepIDs []string) ([]cluster.StepStatus, error) {
	found := make(map[string]cluster.StepStatus, len(stepIDs))

	for start := 0; start < len(stepIDs); start += maxStepIDsPerList {
		end := min(start+maxStepIDsPerList, len(stepIDs))
		paginator := emr.NewListStepsPaginator(g.client, &emr.ListStepsInput{
			ClusterId: aws.String(string(h)),
			StepIds:   stepIDs[start:end],
		})

		for paginator.HasMorePages() {
			var page *emr.ListStepsOutput
			err := g.calls.do(ctx, "ListSteps", true, func(ctx context.Context) error {
				var err error
				page, err = paginator.NextPage(ctx)
				return err
			})
			if err != nil {
				return nil, err
			}
			for _, s := range page.Steps {
				st := stepStatus(s)
				found[st.ID] = st
			}
		}
	}

	out := make([]cluster.StepStatus, 0, len(stepIDs))
	for _, id := range stepIDs {
		st, ok := found[id]
		if !ok {
			return nil, &cluster.GatewayError{
				Op:   "ListSteps",
				Kind: cluster.KindUnknownHandle,
				Err:  fmt.Errorf("step %s not found on %s", id, h),
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func stepStatus(s types.StepSummary) cluster.StepStatus {
	st := cluster.StepStatus{
		ID:   aws.ToString(s.Id),
		Name: aws.ToString(s.Name),
	}
	if s.Status == nil {
		return st
	}
	st.State = string(s.Status.State)
	if fd := s.Status.FailureDetails; fd != nil {
		st.Message = aws.ToString(fd.Reason)
		if m := aws.ToString(fd.Message); m != "" {
			st.Message += ": " + m
		}
	} else if r := s.Status.StateChangeReason; r != nil {
		st.Message = aws.ToString(r.Message)
	}
	return st
}

// mapEMRState reports whether a cluster in state accepts work (ready) or is
// on its way out (gone).
func mapEMRState(state types.ClusterState) (ready, gone bool) {
	switch state {
	case types.ClusterStateRunning, types.ClusterStateWaiting:
		return true, false
	case types.ClusterStateTerminating, types.ClusterStateTerminated, types.ClusterStateTerminatedWithErrors:
		return false, true
	default:
		return false, false
	}
}
