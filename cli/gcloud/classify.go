package gcloud

import (
	"context"
	"errors"
	"strings"

	"github.com/hermitcrab/hermit/cli/retry"
)

var reasonMarkers = []struct {
	reason  retry.Reason
	markers []string
}{
	{retry.ReasonApiNotEnabled, []string{"SERVICE_DISABLED", "has not been used in project",
		"is not enabled", "it is disabled"}},
	{retry.ReasonAlreadyExists, []string{"already exists", "alreadyExists"}},
	{retry.ReasonPermissionDenied, []string{"PERMISSION_DENIED", "Required '",
		"does not have permission"}},
	{retry.ReasonNotFound, []string{"was not found", "notFound", "NOT_FOUND"}},
	{retry.ReasonConnectionRefused, []string{"Connection refused"}},
	{retry.ReasonTimeout, []string{"timed out", "Connection timed out"}},
}

// classify maps provider stderr to a failure reason.
func classify(stderr string) retry.Reason {
	for _, entry := range reasonMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(stderr, marker) {
				return entry.reason
			}
		}
	}
	return retry.ReasonUnknown
}

// failure builds the tagged error of a failed provider call.
func failure(op string, res Result, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return retry.NewReasonError(retry.ReasonTimeout, op, err)
		}
		return retry.NewReasonError(retry.ReasonUnknown, op, err)
	}
	stderr := strings.TrimSpace(res.Stderr)
	return retry.NewReasonError(classify(stderr), op, &ExitError{Code: res.ExitCode, Stderr: stderr})
}
