package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tmsmtm/models/mtm"
)

func TestTierFor(t *testing.T) {
	cases := map[string]Tier{
		"easy":          TierNudge,
		"BASIC":         TierNudge,
		" Moderate ":    TierSoftBlock,
		"intermediate":  TierSoftBlock,
		"hard":          TierHardBlock,
		"Advanced":      TierHardBlock,
		"":              TierHardBlock,
		"impossible!!!": TierHardBlock,
	}
	for in, want := range cases {
		assert.Equal(t, want, TierFor(in), "difficulty %q", in)
	}
}

func TestGate(t *testing.T) {
	ok := Result{Compliant: true}
	bad := Result{Violations: []string{"Stop loss is required"}}

	for _, tier := range []Tier{TierNudge, TierSoftBlock, TierHardBlock} {
		d := Gate(tier, ok, false)
		assert.True(t, d.Save)
		assert.Equal(t, mtm.CompliancePass, d.ComplianceStatus)
	}

	d := Gate(TierNudge, bad, false)
	assert.True(t, d.Save)
	assert.Equal(t, mtm.ComplianceFail, d.ComplianceStatus)

	d = Gate(TierSoftBlock, bad, false)
	assert.False(t, d.Save)
	assert.True(t, d.RequiresOverride)

	d = Gate(TierSoftBlock, bad, true)
	assert.True(t, d.Save)
	assert.Equal(t, mtm.ComplianceOverride, d.ComplianceStatus)

	d = Gate(TierHardBlock, bad, true)
	assert.False(t, d.Save)
	assert.False(t, d.RequiresOverride)
}
