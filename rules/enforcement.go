package rules

import (
	"strings"

	"tmsmtm/models/mtm"
)

// Tier is how strongly a model's violations are enforced at submission.
type Tier string

const (
	TierNudge     Tier = "nudge"
	TierSoftBlock Tier = "soft_block"
	TierHardBlock Tier = "hard_block"
)

// TierFor maps a model difficulty to its enforcement tier. Unknown values
// get the hard block.
func TierFor(difficulty string) Tier {
	switch strings.ToLower(strings.TrimSpace(difficulty)) {
	case "easy", "basic":
		return TierNudge
	case "moderate", "intermediate":
		return TierSoftBlock
	default:
		return TierHardBlock
	}
}

// Decision tells the submission flow what to do with an evaluated trade.
type Decision struct {
	Save             bool   `json:"save"`
	ComplianceStatus string `json:"compliance_status,omitempty"`
	RequiresOverride bool   `json:"requires_override"`
	Tier             Tier   `json:"tier"`
}

// Gate combines a tier with an evaluation result. acknowledged is the
// trader's explicit acceptance of the violations, honoured only by the
// soft block.
func Gate(tier Tier, res Result, acknowledged bool) Decision {
	d := Decision{Tier: tier}
	if res.Compliant {
		d.Save = true
		d.ComplianceStatus = mtm.CompliancePass
		return d
	}
	switch tier {
	case TierNudge:
		d.Save = true
		d.ComplianceStatus = mtm.ComplianceFail
	case TierSoftBlock:
		if acknowledged {
			d.Save = true
			d.ComplianceStatus = mtm.ComplianceOverride
		} else {
			d.RequiresOverride = true
		}
	}
	return d
}
