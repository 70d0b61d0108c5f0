package gallery

import (
	"github.com/sirupsen/logrus"
)

// deleteOne applies a single delete locally and returns the request to
// issue. Ids that are not on the page or already pending are refused.
func (e *engine) deleteOne(id string) *deleteOp {
	if e.indexOf(id) < 0 || e.pending.IsPending(id) {
		return nil
	}
	return e.applyDelete(deleteSingle, []string{id})
}

// deleteMany applies a bulk delete locally. The batch is everything in ids
// that is on the page and not already pending.
func (e *engine) deleteMany(ids []string) *deleteOp {
	seen := map[string]struct{}{}
	batch := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if e.indexOf(id) < 0 || e.pending.IsPending(id) {
			continue
		}
		batch = append(batch, id)
	}
	if len(batch) == 0 {
		return nil
	}
	return e.applyDelete(deleteBulk, batch)
}

func (e *engine) deleteSelected() *deleteOp {
	return e.deleteMany(e.selectedIDs())
}

func (e *engine) applyDelete(mode deleteMode, ids []string) *deleteOp {
	op := &deleteOp{
		mode:          mode,
		ids:           ids,
		epoch:         e.epoch,
		prevItems:     cloneItems(e.items),
		prevQuota:     e.quota.Clone(),
		prevTotal:     e.pagination.Total,
		prevSelecting: e.selecting,
		prevSelected:  e.selectedIDs(),
		prevModal:     e.modalID,
		generation:    e.generation,
	}
	for _, id := range ids {
		e.pending.Begin(id)
	}
	for _, id := range ids {
		if removed, ok := e.removeItem(id); ok {
			op.removed = append(op.removed, removed)
		}
	}
	before := e.quota.Used
	e.quota = e.quota.Release(len(op.removed))
	op.released = before - e.quota.Used
	e.revision++
	op.revisionAfter = e.revision
	e.metrics.SetPendingMutations(e.pending.Len())
	e.logger.WithFields(logrus.Fields{
		"mode":  string(mode),
		"count": len(ids),
	}).Debug("optimistic delete applied")
	return op
}

// completeDelete settles a delete request. It reports whether the view must
// be refetched because the snapshot no longer describes it.
func (e *engine) completeDelete(op *deleteOp, err error) bool {
	if op == nil || op.epoch != e.epoch {
		return false
	}
	if err == nil {
		e.metrics.RecordDelete(string(op.mode), "succeeded")
		if op.mode == deleteBulk {
			e.exitSelectionMode()
		}
		for _, id := range op.ids {
			switch {
			case !e.pending.IsPending(id):
			case e.health == Connected:
				e.confirmed[id] = e.fetchSeq
			default:
				// No echo will come to end this lease.
				e.settleLease(id)
			}
		}
		e.metrics.SetPendingMutations(e.pending.Len())
		return false
	}
	e.metrics.RecordDelete(string(op.mode), "failed")
	e.logger.WithError(err).WithFields(logrus.Fields{
		"mode": string(op.mode),
		"ids":  op.ids,
	}).Warn("optimistic delete rolled back")

	// An echo that already arrived means the server did remove that id even
	// though the request reported failure; those stay removed.
	unconfirmed := map[string]struct{}{}
	for _, id := range op.ids {
		if e.pending.IsPending(id) {
			unconfirmed[id] = struct{}{}
		}
		e.dropLease(id)
	}
	e.metrics.SetPendingMutations(e.pending.Len())

	kind := DeleteFailed
	if op.mode == deleteBulk {
		kind = BulkDeleteFailed
	}
	e.err = &Error{Kind: kind, Message: err.Error(), IDs: append([]string(nil), op.ids...), Err: err}

	refetch := false
	switch {
	case op.generation != e.generation:
		refetch = true
	case e.revision == op.revisionAfter && len(unconfirmed) == len(op.ids):
		e.items = cloneItems(op.prevItems)
		e.quota = op.prevQuota.Clone()
		e.setTotal(op.prevTotal)
		e.revision++
	default:
		e.undoRemovals(op, unconfirmed)
	}

	if op.mode == deleteBulk {
		e.selecting = op.prevSelecting
		e.selected = map[string]struct{}{}
		for _, id := range op.prevSelected {
			if e.indexOf(id) >= 0 {
				e.selected[id] = struct{}{}
			}
		}
	} else {
		for _, id := range op.prevSelected {
			if _, ok := unconfirmed[id]; ok && e.indexOf(id) >= 0 {
				e.selected[id] = struct{}{}
			}
		}
	}
	if e.modalID == "" && op.prevModal != "" && e.indexOf(op.prevModal) >= 0 {
		e.modalID = op.prevModal
	}
	return refetch
}

// undoRemovals puts unconfirmed removed items back after their nearest
// surviving predecessor and consumes the quota their removal released.
func (e *engine) undoRemovals(op *deleteOp, unconfirmed map[string]struct{}) {
	removed := map[string]struct{}{}
	for _, item := range op.removed {
		removed[item.ID] = struct{}{}
	}
	restored := 0
	for pos, item := range op.prevItems {
		if _, ok := removed[item.ID]; !ok {
			continue
		}
		if _, ok := unconfirmed[item.ID]; !ok || e.indexOf(item.ID) >= 0 {
			continue
		}
		idx := 0
		for k := pos - 1; k >= 0; k-- {
			if j := e.indexOf(op.prevItems[k].ID); j >= 0 {
				idx = j + 1
				break
			}
		}
		e.items = append(e.items[:idx], append([]Item{item}, e.items[idx:]...)...)
		restored++
	}
	if restored == 0 {
		return
	}
	consume := restored
	if consume > op.released {
		consume = op.released
	}
	e.quota = e.quota.Consume(consume)
	e.setTotal(e.pagination.Total + restored)
	e.revision++
}
