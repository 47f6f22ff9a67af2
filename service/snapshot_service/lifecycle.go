package snapshot_service

import (
	"context"
	"errors"
	"fmt"

	"snapshot-service/common"
	"snapshot-service/database"
	model "snapshot-service/models"
)

// SweepReport outcome of one lifecycle pass
type SweepReport struct {
	Expired   int
	Abandoned int
	Failed    int
}

// Sweep expire active snapshots past their expiry and remove sessions abandoned
// while still creating. Expired records are kept so their URLs answer "gone".
func (s *SnapshotService) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	expired, err := s.snapshotDAO.ListExpired(now)
	if err != nil {
		return report, fmt.Errorf("failed to list expired snapshots: %w", err)
	}
	for _, session := range expired {
		if err := s.expire(ctx, session.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to expire snapshot", "session_id", session.ID, "error", err)
			report.Failed++
			continue
		}
		report.Expired++
	}

	abandoned, err := s.snapshotDAO.ListAbandoned(now, s.opts.MaxCreatingAge)
	if err != nil {
		return report, fmt.Errorf("failed to list abandoned sessions: %w", err)
	}
	for _, session := range abandoned {
		if err := s.removeAbandoned(ctx, session.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to remove abandoned session", "session_id", session.ID, "error", err)
			report.Failed++
			continue
		}
		report.Abandoned++
	}

	if report.Expired+report.Abandoned+report.Failed > 0 {
		s.logger.InfoContext(ctx, "lifecycle sweep finished", "expired", report.Expired, "abandoned", report.Abandoned, "failed", report.Failed)
	}
	return report, nil
}

func (s *SnapshotService) expire(ctx context.Context, sessionID string) error {
	release := s.uploadGates.Lock(sessionID)
	defer release()

	_, err := s.snapshotDAO.Update(sessionID, func(session *model.SnapshotSession) error {
		if session.Status != model.SessionStatusActive || session.ExpiresAt.After(s.now()) {
			return database.ErrSkipWrite
		}
		if err := model.ValidateTransition(session.Status, model.SessionStatusExpired); err != nil {
			return err
		}
		if err := s.store.DeletePrefix(ctx, common.SessionPrefix(sessionID)); err != nil {
			return fmt.Errorf("failed to reclaim content: %w", err)
		}
		session.Status = model.SessionStatusExpired
		session.ContentReclaimed = true
		session.UpdatedAt = s.now().UTC()
		return nil
	})
	return err
}

func (s *SnapshotService) removeAbandoned(ctx context.Context, sessionID string) error {
	release := s.uploadGates.Lock(sessionID)
	defer release()

	session, err := s.snapshotDAO.GetByID(sessionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
	if session.Status != model.SessionStatusCreating || s.now().Sub(session.CreatedAt) <= s.opts.MaxCreatingAge {
		return nil
	}
	if err := s.store.DeletePrefix(ctx, common.SessionPrefix(sessionID)); err != nil {
		return fmt.Errorf("failed to reclaim content: %w", err)
	}
	return s.snapshotDAO.Delete(sessionID)
}
