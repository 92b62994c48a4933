package realtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type invalidErr struct{ msg string }

func (e invalidErr) Error() string { return e.msg }
func (e invalidErr) Invalid() bool { return true }

func TestFailure_IsByKind(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", newFailure(RateLimited, "slow down", nil))

	assert.ErrorIs(t, err, ErrRateLimited)
	assert.NotErrorIs(t, err, ErrUpstreamFailure)
	assert.Equal(t, RateLimited, KindOf(err))
	assert.Equal(t, UpstreamFailure, KindOf(errors.New("boom")))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ValidationFailure, classify(fmt.Errorf("create: %w", invalidErr{"channel not found"}), "x", nil).Kind)
	assert.Equal(t, UpstreamFailure, classify(errors.New("connection refused"), "x", nil).Kind)
	assert.Equal(t, AuthFailure, classify(newFailure(AuthFailure, "no", nil), "x", nil).Kind)
}
