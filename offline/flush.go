package offline

import (
	"context"
	"errors"
	"sort"

	"github.com/sirupsen/logrus"
)

// Flush replays every journal entry once, outside of a full cycle.
func (s *Syncer) Flush(ctx context.Context) FlushReport {
	s.cycleMu.Lock()
	defer s.unlockCycle()
	defer s.setState(StateIdle)
	if !s.Online() {
		return FlushReport{Err: ErrOffline}
	}
	return s.flushAll(ctx)
}

// flushAll replays deletes, then creates, then updates. Entries are
// independent: a transient failure leaves that entry pending and the pass
// moves on. ErrUnauthorized ends the pass with the journal intact.
func (s *Syncer) flushAll(ctx context.Context) (rep FlushReport) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	s.setState(StateFlushing)
	defer func() {
		s.refresh()
		if s.events != nil && s.events.OnFlush != nil {
			s.events.OnFlush(rep)
		}
	}()

	var errs []error
	fail := func(err error) bool {
		rep.Failed++
		errs = append(errs, err)
		if Classify(err) == FailureUnauthorized {
			rep.Err = errors.Join(errs...)
			return true
		}
		return false
	}

	v := s.journal.View()
	for _, id := range v.Deletes {
		if err := s.flushDelete(ctx, id, &rep); err != nil && fail(err) {
			return rep
		}
	}
	for _, rec := range v.Creates {
		if _, err := s.flushCreate(ctx, rec, &rep); err != nil && fail(err) {
			return rep
		}
	}

	// Creates may have re-keyed updates to server ids.
	v = s.journal.View()
	ids := make([]ID, 0, len(v.Updates))
	for id := range v.Updates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := s.flushUpdate(ctx, id, v.Updates[id], &rep); err != nil && fail(err) {
			return rep
		}
	}

	rep.Err = errors.Join(errs...)
	if rep.Err != nil {
		s.log.WithFields(logrus.Fields{"failed": rep.Failed}).WithError(rep.Err).Warn("flush left entries pending")
	}
	return rep
}

// flushRecord sends whatever is pending for one record, in delete, create,
// update order, and returns the record's id afterwards (its server id once
// a create is confirmed). Offline it does nothing.
func (s *Syncer) flushRecord(ctx context.Context, id ID) (ID, error) {
	if !s.Online() {
		return id, nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.enterFlushing() {
		defer s.leaveFlushing()
	}
	defer s.refresh()

	var rep FlushReport
	v := s.journal.View()
	if containsID(v.Deletes, id) {
		return id, s.flushDelete(ctx, id, &rep)
	}
	if i := indexOf(v.Creates, id); i >= 0 {
		next, err := s.flushCreate(ctx, v.Creates[i], &rep)
		if err != nil {
			return id, err
		}
		id = next
		v = s.journal.View()
	}
	if p, ok := v.Updates[id]; ok {
		return id, s.flushUpdate(ctx, id, p, &rep)
	}
	return id, nil
}

func (s *Syncer) flushDelete(ctx context.Context, id ID, rep *FlushReport) error {
	err := s.gateway.DeleteRemote(ctx, id)
	log := s.log.WithFields(logrus.Fields{"id": id, "op": "delete"})
	switch Classify(err) {
	case FailureNone, FailureNotFound:
		if cerr := s.journal.ConfirmDelete(ctx, id); cerr != nil {
			return cerr
		}
		rep.Deleted++
		log.Debug("delete confirmed")
		return nil
	default:
		log.WithError(err).Info("delete left pending")
		return err
	}
}

func (s *Syncer) flushCreate(ctx context.Context, rec Record, rep *FlushReport) (ID, error) {
	log := s.log.WithFields(logrus.Fields{"id": rec.ID, "op": "create"})
	confirmed, err := s.gateway.CreateRemote(ctx, rec)
	if err != nil {
		log.WithError(err).Info("create left pending")
		return rec.ID, err
	}

	found, err := s.journal.ConfirmCreate(ctx, rec.ID, confirmed)
	if err != nil {
		// The server holds the record; the idempotency key dedupes the resend.
		log.WithError(err).Error("could not record confirmed create")
		return rec.ID, err
	}
	rep.Created++
	log.WithField("server_id", confirmed.ID).Debug("create confirmed")

	if !found {
		// Deleted locally while the request was in flight.
		if err := s.journal.RecordDelete(ctx, confirmed.ID); err != nil {
			return confirmed.ID, err
		}
		return confirmed.ID, s.flushDelete(ctx, confirmed.ID, rep)
	}
	return confirmed.ID, nil
}

func (s *Syncer) flushUpdate(ctx context.Context, id ID, p Patch, rep *FlushReport) error {
	if id.IsLocal() {
		// Waits for its create to be confirmed.
		return nil
	}
	log := s.log.WithFields(logrus.Fields{"id": id, "op": "update"})
	confirmed, err := s.gateway.UpdateRemote(ctx, id, p)
	switch Classify(err) {
	case FailureNone:
		if err := s.journal.ConfirmUpdate(ctx, id, p, &confirmed); err != nil {
			return err
		}
		rep.Updated++
		log.Debug("update confirmed")
		return nil
	case FailureNotFound:
		// Retrying can never succeed; the next fetch is trusted for id.
		if err := s.journal.Clear(ctx, KindUpdate, id); err != nil {
			return err
		}
		rep.Dropped++
		log.Info("update dropped: record gone remotely")
		return nil
	default:
		log.WithError(err).Info("update left pending")
		return err
	}
}
