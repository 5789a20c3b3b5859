// Package calibration runs full discharge/recharge cycles that let the battery
// gauge recalibrate. It contains:
//
//   - State: the persisted position in the cycle
//   - Subsystem: the state machine, advanced by the policy engine on every tick
//   - Scheduler: an optional cron trigger for periodic automatic cycles
//
// The cycle always goes Idle -> DischargingTo -> ChargingTo100 -> Complete.
// Only Cancel goes back to Idle.
package calibration
