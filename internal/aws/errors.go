package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/smithy-go"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

var authCodes = map[string]bool{
	"AccessDenied":                true,
	"AccessDeniedException":       true,
	"UnrecognizedClientException": true,
	"InvalidClientTokenId":        true,
	"ExpiredToken":                true,
	"ExpiredTokenException":       true,
	"SignatureDoesNotMatch":       true,
	"InvalidSignatureException":   true,
	"MissingAuthenticationToken":  true,
	"UnauthorizedOperation":       true,
	"AuthFailure":                 true,
}

var quotaCodes = map[string]bool{
	"LimitExceededException":        true,
	"ServiceQuotaExceededException": true,
	"InstanceLimitExceeded":         true,
	"InsufficientInstanceCapacity":  true,
	"VcpuLimitExceeded":             true,
}

var transientRetryables = retry.IsErrorRetryables(retry.DefaultRetryables)

// classify maps an SDK error into the cluster error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var gw *cluster.GatewayError
	if errors.As(err, &gw) {
		return err
	}
	return &cluster.GatewayError{Op: op, Kind: kindFor(err), Err: err}
}

func kindFor(err error) cluster.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return cluster.KindUnknown
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		msg := strings.ToLower(apiErr.ErrorMessage())
		switch {
		case authCodes[code]:
			return cluster.KindAuth
		case quotaCodes[code], strings.Contains(msg, "quota"):
			return cluster.KindQuota
		case code == "InvalidRequestException" || code == "ValidationException":
			if unknownHandleMessage(msg) {
				return cluster.KindUnknownHandle
			}
			return cluster.KindInvalidSpec
		}
	}

	// The per-call timeout expiring is a network-class failure.
	if errors.Is(err, context.DeadlineExceeded) {
		return cluster.KindTransient
	}
	if transientRetryables.IsErrorRetryable(err) == aws.TrueTernary {
		return cluster.KindTransient
	}
	if apiErr != nil && apiErr.ErrorFault() == smithy.FaultServer {
		return cluster.KindTransient
	}
	return cluster.KindUnknown
}

func unknownHandleMessage(msg string) bool {
	if !strings.Contains(msg, "not valid") && !strings.Contains(msg, "does not exist") {
		return false
	}
	return strings.Contains(msg, "cluster id") || strings.Contains(msg, "job flow")
}

func isTransient(err error) bool {
	var gw *cluster.GatewayError
	return errors.As(err, &gw) && gw.Transient()
}
