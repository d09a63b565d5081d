// Package scheduler runs recurring in-process jobs on cron-style schedules.
//
// A single loop goroutine ticks on a fixed cadence (Config.TickInterval). On
// every tick it:
//   - detects clock jumps: if the wall clock moved by DriftThreshold or more
//     (whole hours, either direction) since the previous tick, every job's
//     next run is recomputed from "now" and nothing fires for the stale state
//   - arms jobs seen for the first time (computes their first run, no fire)
//   - runs every job whose next run is at or before now, then advances that
//     job by exactly one occurrence; a job that is several occurrences behind
//     catches up one occurrence per tick
//
// Callbacks run synchronously inside the tick. A panicking callback is
// recovered, logged and counted; the tick continues with the remaining jobs.
//
// Lifecycle moments (started, stopped, scheduled, cancelled, invoked) are
// published through a Notifier; BusNotifier adapts an eventbus.Bus.
package scheduler
