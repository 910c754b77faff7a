// Package audithook is a conveyor extension that bridges job lifecycle
// events to an audit trail backend.
//
// Every job and queue hook emits a structured audit event through the
// [Recorder] interface. The extension assigns severity levels (info for
// normal operations, warning for retries and stalls, critical for terminal
// failures) and metadata such as job name, queue, attempts and errors.
//
// # Forwarding to alerts
//
// [AlertRecorder] turns audit events at or above a severity into
// alert.Sender calls:
//
//	audithook.New(audithook.AlertRecorder(sender, audithook.SeverityCritical))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDeadLettered,
//	    ),
//	)
package audithook
