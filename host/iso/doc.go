// Package iso streams a synthesized tone to an isochronous OUT endpoint.
//
// # Architecture
//
// A [Ring] owns RingDepth [TransferBuffer]s and keeps one [Submission] in
// flight over each. Whenever a submission resolves, the ring refills that
// buffer from the shared [tone.Clock] and submits it again; the other slots
// are left alone. Samples are addressed by absolute index, so the stream is
// phase continuous across buffers and across recoveries.
//
// Completion crosses goroutines through a [Bridge]. Each submission
// registers a completion context under a token carried in the native
// transfer's user data. The callback, run by the [Pump] goroutine inside
// [hal.EventHandler.HandleEvents], reclaims the context exactly once, stores
// the result in the submission's one-slot channel and wakes the ring. A
// second completion for the same token is reported as
// [pkg.ErrProtocolViolation] and halts the ring.
//
// # Recovery
//
// A rejected submit or a completion with nonzero status triggers a
// [Recoverer], normally an [AltToggler] that selects the disabled and then
// the enabled alternate setting. Each slot gets MaxRecoveries consecutive
// recoveries; one more failure halts the ring with [pkg.ErrRingHalted]. A
// successful completion resets the slot's count.
//
// # Ownership
//
// A buffer cannot be refilled or released while its submission is in
// flight. Cancelling the context passed to [Ring.Step] or [Ring.Run] only
// stops waiting; in-flight transfers are not cancelled, and [Ring.Release]
// refuses to run until they have completed.
//
// # Example
//
//	dev, _ := linux.Open(info)
//	iso.Configure(dev, cfg)
//
//	iso.NewPump(dev, cfg.EventTimeout).Start()
//	ring, _ := iso.NewRing(cfg, dev, iso.NewAltToggler(dev, cfg))
//	err := ring.Run(ctx)
package iso
