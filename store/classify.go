package store

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/vishallnvk/knowlio/retry"
)

// transientCodes are DynamoDB error codes expected to clear on retry.
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionInProgressException":         true,
	"TransactionConflictException":           true,
}

// transientCancellations are transaction cancellation reasons that clear
// on retry.
var transientCancellations = map[string]bool{
	"TransactionConflict":                    true,
	"ThrottlingError":                        true,
	"ProvisionedThroughputExceeded":          true,
	"ProvisionedThroughputExceededException": true,
}

// Classify maps a store fault to its retry class.
//
// Throttling, server faults and network failures are transient. Missing
// items, unique violations, conditional failures and cancellation are
// permanent. Everything else is unknown and is not retried.
func Classify(err error) retry.Class {
	switch {
	case err == nil:
		return retry.Permanent
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return retry.Permanent
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrDuplicateValue):
		return retry.Permanent
	}

	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return retry.Permanent
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		return classifyCancellation(txErr)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return retry.Transient
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return retry.Transient
		}
	}

	if awsretry.IsErrorThrottles(awsretry.DefaultThrottles).IsErrorThrottle(err) == aws.TrueTernary {
		return retry.Transient
	}
	if awsretry.IsErrorRetryables(awsretry.DefaultRetryables).IsErrorRetryable(err) == aws.TrueTernary {
		return retry.Transient
	}

	return retry.Unknown
}

func classifyCancellation(txErr *types.TransactionCanceledException) retry.Class {
	class := retry.Unknown
	for _, reason := range txErr.CancellationReasons {
		if reason.Code == nil {
			continue
		}
		switch code := *reason.Code; {
		case code == "ConditionalCheckFailed":
			return retry.Permanent
		case transientCancellations[code]:
			class = retry.Transient
		}
	}
	return class
}
