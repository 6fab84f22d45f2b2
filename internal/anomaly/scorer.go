// Package anomaly implements spatial peer-group anomaly scoring.
//
// A building's consumption is compared against the mean and standard
// deviation of its peer group; the z-score is normalized into [0,1] with
// saturation at three standard deviations.
package anomaly

import (
	"errors"
	"math"

	"github.com/gridmind/gridmind/internal/model"
)

// ErrInsufficientPeerData is returned when a building cannot be scored
// because its peer group is empty or has zero spread. Callers must treat the
// building as unscoreable for the cycle, not as anomaly-free.
var ErrInsufficientPeerData = errors.New("insufficient peer data for anomaly scoring")

// Result is the output of a single scoring call.
type Result struct {
	Score    float64
	ZScore   float64
	Severity model.Severity
}

// Score computes the normalized anomaly score for one building given its
// peer-group statistics. It is a pure function; persisting the resulting
// AnomalyRecord is the caller's job.
func Score(consumptionKW, neighborMeanKW, neighborStdDevKW float64) (Result, error) {
	if neighborStdDevKW <= 0 || math.IsNaN(neighborStdDevKW) {
		return Result{}, ErrInsufficientPeerData
	}
	z := math.Abs(consumptionKW-neighborMeanKW) / neighborStdDevKW
	score := math.Min(z/3.0, 1.0)
	return Result{
		Score:    score,
		ZScore:   z,
		Severity: model.SeverityFor(score),
	}, nil
}

// PeerStats computes mean and sample standard deviation over the latest
// loads of a peer group. Fewer than two peers cannot yield a spread, so the
// caller gets ErrInsufficientPeerData.
func PeerStats(loadsKW []float64) (mean, stddev float64, err error) {
	n := len(loadsKW)
	if n < 2 {
		return 0, 0, ErrInsufficientPeerData
	}
	var sum float64
	for _, v := range loadsKW {
		sum += v
	}
	mean = sum / float64(n)
	var sq float64
	for _, v := range loadsKW {
		d := v - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(n-1))
	return mean, stddev, nil
}
