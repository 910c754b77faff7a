package audithook

import (
	"context"
	"fmt"

	"github.com/xraph/conveyor/alert"
)

var severityRank = map[string]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// AlertRecorder returns a Recorder that forwards events at or above minSeverity
// to sender. Events below minSeverity are dropped.
func AlertRecorder(sender alert.Sender, minSeverity string) Recorder {
	floor := severityRank[minSeverity]
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		if severityRank[evt.Severity] < floor {
			return nil
		}
		meta := make(map[string]string, len(evt.Metadata)+2)
		for k, v := range evt.Metadata {
			meta[k] = fmt.Sprint(v)
		}
		meta["action"] = evt.Action
		if evt.Resource == ResourceJob {
			meta["job_id"] = evt.ResourceID
		}

		msg := evt.Action + " " + evt.ResourceID
		if evt.Reason != "" {
			msg += ": " + evt.Reason
		}
		return sender.SendAlert(ctx, alertSeverity(evt.Severity), msg, meta)
	})
}

func alertSeverity(s string) alert.Severity {
	switch s {
	case SeverityCritical:
		return alert.SeverityCritical
	case SeverityWarning:
		return alert.SeverityWarning
	default:
		return alert.SeverityInfo
	}
}
