// Package scratch manages the lifetime of temporary artifacts.
//
// A [Dir] hands out uniquely named scratch files on a go-billy filesystem
// (an OS directory in production, memfs in tests). Callers own every file
// they create and remove it with [Dir.Remove] as soon as it is consumed.
//
// Artifacts that must outlive the request that produced them, such as a
// directory archive still being streamed to a client, are handed to a
// [Scheduler]:
//
//	task := sched.Schedule(name, 60*time.Second)
//	defer task.Cancel() // only if ownership is taken back
//
// A [Task] can be cancelled, waited on via [Task.Done], and [Scheduler.Close]
// removes everything still pending so nothing survives shutdown.
package scratch
