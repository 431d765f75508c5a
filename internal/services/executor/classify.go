package executor

import (
	"errors"
	"regexp"
	"strings"

	"github.com/archon-research/stl-sentry/internal/domain/entity"
	"github.com/archon-research/stl-sentry/internal/ports/outbound"
)

// Revert reasons meaning the position can no longer be liquidated. "45" and
// "46" are the pool's HEALTH_FACTOR_NOT_BELOW_THRESHOLD and
// COLLATERAL_CANNOT_BE_LIQUIDATED error codes. Phrases match whole words
// only, so "unhealthy" stays generic.
var healthyReasons = regexp.MustCompile(`\b(healthy|health_factor_not_below_threshold|collateral_cannot_be_liquidated|no collateral)\b`)

var healthyCodes = map[string]struct{}{"45": {}, "46": {}}

// ClassifySimulation maps a simulation error to a failure kind. Reverts are
// position-healthy or generic; anything else is a transport failure.
func ClassifySimulation(err error) entity.FailureKind {
	var revert *outbound.RevertError
	if !errors.As(err, &revert) {
		return entity.FailureTransport
	}
	return ClassifyRevert(revert.Reason)
}

// ClassifyRevert maps a revert reason to FailurePositionHealthy or FailureGeneric.
func ClassifyRevert(reason string) entity.FailureKind {
	r := strings.ToLower(strings.TrimSpace(reason))
	if _, ok := healthyCodes[r]; ok {
		return entity.FailurePositionHealthy
	}
	if healthyReasons.MatchString(r) {
		return entity.FailurePositionHealthy
	}
	return entity.FailureGeneric
}
