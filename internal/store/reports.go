package store

import (
	"github.com/go-faster/errors"
)

// AddReport creates pending report record and returns its id.
func (s *Store) AddReport(userID int64, kind, target string) (int64, error) {
	now := s.now()
	var id int64
	if err := s.operations.update(func(o *operationsDoc) error {
		o.ReportSeq++
		id = o.ReportSeq
		o.Reports = append(o.Reports, Report{
			ID:        id,
			UserID:    userID,
			Kind:      kind,
			Target:    target,
			Status:    ReportPending,
			CreatedAt: now,
		})
		return nil
	}); err != nil {
		return 0, errors.Wrap(err, "add report")
	}
	return id, nil
}

// FinishReport sets final status of report.
func (s *Store) FinishReport(id int64, status ReportStatus) error {
	now := s.now()
	return s.operations.update(func(o *operationsDoc) error {
		for i := range o.Reports {
			r := &o.Reports[i]
			if r.ID != id {
				continue
			}
			r.Status = status
			r.CompletedAt = &now
			return nil
		}
		return errors.Wrapf(ErrNotFound, "report %d", id)
	})
}

// Reports returns all report records, optionally filtered by user.
func (s *Store) Reports(userID int64) []Report {
	var out []Report
	s.operations.view(func(o *operationsDoc) {
		for _, r := range o.Reports {
			if userID != 0 && r.UserID != userID {
				continue
			}
			out = append(out, r)
		}
	})
	return out
}
