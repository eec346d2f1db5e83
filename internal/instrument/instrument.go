// Package instrument measures external calls and feeds the outcome into the history store.
package instrument

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/r-heap47/eipmon/internal/models"
	"github.com/r-heap47/eipmon/internal/pkg/utils"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Recorder - sink of measured calls
type Recorder interface {
	RecordAPICall(op string, seconds float64, status models.CallStatus, at time.Time)
}

// Call runs fn and reports its duration and outcome to rec under op.
// The call is reported on failure too, measured up to the failure point.
func Call[T any](
	ctx context.Context,
	rec Recorder,
	clock utils.Provider[time.Time],
	op string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	start := clock(ctx)
	res, err := fn(ctx)
	end := clock(ctx)

	seconds := end.Sub(start).Seconds()
	if seconds < 0 {
		seconds = 0
	}

	rec.RecordAPICall(op, seconds, Classify(err), end)

	return res, err
}

// Classify maps an error returned by an external call onto a call status:
//   - nil is a success
//   - exceeded deadline or cancellation is a timeout
//   - a non-success API server response is an error
//   - everything else failed before reaching the server and is a transport error
func Classify(err error) models.CallStatus {
	if err == nil {
		return models.CallSuccess
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.CallTimeout
	}

	var status apierrors.APIStatus
	if errors.As(err, &status) {
		if apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err) {
			return models.CallTimeout
		}
		return models.CallError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.CallTimeout
	}

	return models.CallTransport
}
