package audit

import (
	"context"
	"log/slog"
	"time"

	cosmos "github.com/nebulalabs/cosmos"
)

// ArchiveSubscriber streams bus traffic into an Archive. Attach its
// Handle method with SubscribeAll; finalized generation records riding
// on audit.record events are persisted alongside the raw event rows.
type ArchiveSubscriber struct {
	archive *Archive
	logger  *slog.Logger
}

// NewArchiveSubscriber creates a subscriber writing to archive.
func NewArchiveSubscriber(archive *Archive, logger *slog.Logger) *ArchiveSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveSubscriber{
		archive: archive,
		logger:  logger,
	}
}

// Handle persists a single event, and for audit.record events also
// upserts the carried generation record. Failures are logged rather
// than propagated so one bad write never stalls the bus.
func (s *ArchiveSubscriber) Handle(ev cosmos.Event) {
	ctx := context.Background()
	if err := s.archive.AppendEvent(ctx, ev, time.Now()); err != nil {
		s.logger.Error("failed to archive event",
			"kind", ev.Kind,
			"seq", ev.Seq,
			"error", err,
		)
	}
	if p, ok := ev.Payload.(cosmos.AuditRecorded); ok {
		if err := s.archive.SaveRecord(ctx, p.Record); err != nil {
			s.logger.Error("failed to archive generation record",
				"edition", p.Edition,
				"error", err,
			)
		}
	}
}
