// Package warden provides a durable task orchestration engine for autonomous
// agents that act on a human's behalf.
//
// The engine advances every task through an explicit lifecycle: discovery,
// risk evaluation, optional human approval, execution with bounded retries,
// and terminal settlement (done, rejected or escalated). All state lives in a
// file-system-like substrate, so a crashed engine resumes exactly where the
// persisted documents say it stopped, and a human can inspect or decide any
// approval with a text editor.
//
// Pluggable service layers:
//
//   - orchestrator – the scheduling loop: recovery, inbox admission, polling
//   - processor    – the per-task state machine and retry policy
//   - classifier   – rule-based risk evaluation with a fail-safe default
//   - approval     – human sign-off artifacts gating risky actions
//   - dispatcher   – executor registry with per-attempt timeouts
//   - audit        – append-only record stream for every transition
//
// Warden is designed to be embedded in host applications. End-users typically
// interact with the engine via the high-level Service façade exposed by the
// root package:
//
//	srv, _ := warden.New(
//		warden.WithBaseURL("/var/lib/agent"),
//		warden.WithExecutors(dispatcher.Func{TaskType: "send_email", Fn: sendEmail}),
//	)
//	rt := srv.Runtime()
//	_ = rt.Start(ctx)
//	id, _ := rt.Submit(ctx, &orchestrator.InboxTask{Type: "send_email", Priority: task.PriorityHigh})
//	done, _ := rt.WaitForTask(ctx, id, time.Minute)
//
// For more details see the README and individual sub-packages.
package warden
