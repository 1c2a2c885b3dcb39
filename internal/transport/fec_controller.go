package transport

import "github.com/parityline/transfer/internal/fec"

// FECController wraps fec.AdaptivePolicy with the sender's side-channel:
// callers feed sampled loss via RecordLoss, and Tick pushes any resulting
// K/R change to the receiver via the supplied update callback.
type FECController struct {
	k, r   int
	policy *fec.AdaptivePolicy
	update func(k, r int, reason string)
}

// NewFECController seeds an adaptive FEC policy at (initK, initR) and
// wires update to fire whenever Tick observes a parameter change.
func NewFECController(initK, initR int, update func(k, r int, reason string)) *FECController {
	cfg := fec.DefaultPolicyConfig()
	cfg.DefaultK = initK
	cfg.DefaultR = initR
	return &FECController{
		k:      initK,
		r:      initR,
		policy: fec.NewAdaptivePolicy(cfg),
		update: update,
	}
}

// RecordLoss feeds a freshly sampled loss rate percentage (0-100) into the
// adaptive policy.
func (fc *FECController) RecordLoss(lossRatePct float64) {
	fc.policy.Update(lossRatePct)
}

// Tick re-reads the adaptive policy's current parameters and, while the
// policy reports FEC enabled, notifies the update callback if K or R changed
// since the last notification. While FEC is disabled Tick sends nothing.
func (fc *FECController) Tick() {
	enabled, k, r := fc.policy.GetParameters()
	if !enabled {
		return
	}
	if r == fc.r && k == fc.k {
		return
	}
	reason := "loss-adapted"
	fc.k, fc.r = k, r
	fc.update(fc.k, fc.r, reason)
}
