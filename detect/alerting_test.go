package detect

import (
	"testing"
	"time"

	"gatekeeper/core"

	"github.com/stretchr/testify/assert"
)

func TestDecideAlert(t *testing.T) {
	t.Run("no match no error", func(t *testing.T) {
		d := DecideAlert(core.ExecutionOutput{InputID: "row-1"})
		assert.False(t, d.TriggerAlert)
		assert.False(t, d.Errored)
		assert.Empty(t, d.DedupKey)
	})

	t.Run("match uses dedup string and period", func(t *testing.T) {
		d := DecideAlert(core.ExecutionOutput{
			InputID: "row-2",
			Match: &core.ExecutionMatch{
				AlertType:       core.AlertTypeRule,
				DetectionID:     "AWS.Root.Login",
				DedupString:     "123456789012",
				DedupPeriodMins: 15,
			},
		})
		assert.True(t, d.TriggerAlert)
		assert.False(t, d.Errored)
		assert.Equal(t, "AWS.Root.Login:123456789012", d.DedupKey)
		assert.Equal(t, 15, d.DedupPeriodMins)
		assert.Equal(t, 15*time.Minute, d.DedupPeriod())
		assert.Equal(t, core.AlertTypeRule, d.AlertType)
	})

	t.Run("zero period defaults to an hour", func(t *testing.T) {
		d := DecideAlert(core.ExecutionOutput{Match: &core.ExecutionMatch{AlertType: core.AlertTypePolicy, DetectionID: "p"}})
		assert.Equal(t, DefaultDedupPeriodMins, d.DedupPeriodMins)
		assert.Equal(t, time.Hour, d.DedupPeriod())
		assert.Equal(t, "p:", d.DedupKey)
	})

	t.Run("error without match still triggers", func(t *testing.T) {
		d := DecideAlert(core.ExecutionOutput{Details: core.ExecutionDetails{InputError: core.NewExecError("KeyError", "x")}})
		assert.True(t, d.TriggerAlert)
		assert.True(t, d.Errored)
		assert.Empty(t, d.AlertType)
	})

	t.Run("error alert type", func(t *testing.T) {
		d := DecideAlert(core.ExecutionOutput{Match: &core.ExecutionMatch{AlertType: core.AlertTypeScheduledRuleError, DetectionID: "s"}})
		assert.True(t, d.Errored)
		assert.True(t, d.TriggerAlert)
	})
}
