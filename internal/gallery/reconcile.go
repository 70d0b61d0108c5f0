package gallery

import (
	"github.com/sirupsen/logrus"

	"github.com/quotebot/quotegallery/internal/quotes"
)

// Notification outcomes, also used as metric labels.
const (
	outcomeApplied      = "applied"
	outcomeSuppressed   = "suppressed"
	outcomeDuplicate    = "duplicate"
	outcomeForeignOwner = "foreign_owner"
	outcomeInvalid      = "invalid"
)

// reconcile is the single arbitration point for feed notifications. It
// returns the outcome and, for an insert spliced into the page, the id whose
// New flag must be cleared later.
func (e *engine) reconcile(change quotes.Change) (outcome string, spliced string) {
	switch {
	case change.OwnerID != e.owner:
		outcome = outcomeForeignOwner
	case change.Kind == quotes.ChangeDeleted:
		outcome = e.reconcileDeleted(change.ArtifactID)
	case change.Kind == quotes.ChangeInserted && change.Artifact != nil:
		outcome, spliced = e.reconcileInserted(*change.Artifact)
	case change.Kind == quotes.ChangeUpdated && change.Artifact != nil:
		outcome = e.reconcileUpdated(*change.Artifact)
	default:
		outcome = outcomeInvalid
	}
	e.metrics.RecordNotification(string(change.Kind), outcome)
	e.logger.WithFields(logrus.Fields{
		"event":    change.EventID,
		"kind":     string(change.Kind),
		"artifact": change.ArtifactID,
		"outcome":  outcome,
	}).Debug("feed notification reconciled")
	return outcome, spliced
}

// reconcileDeleted accounts for a delete exactly once. The echo of a local
// optimistic delete only ends its lease; anything else is a foreign delete.
func (e *engine) reconcileDeleted(id string) string {
	if id == "" {
		return outcomeInvalid
	}
	if e.tombstones.Contains(id) {
		return outcomeDuplicate
	}
	e.tombstones.Add(id, struct{}{})
	e.inserted.Remove(id)
	if e.pending.IsPending(id) {
		e.settleLease(id)
		e.metrics.SetPendingMutations(e.pending.Len())
		if e.modalID == id {
			e.modalID = ""
		}
		return outcomeSuppressed
	}
	e.removeItem(id)
	e.quota = e.quota.Release(1)
	e.revision++
	return outcomeApplied
}

// reconcileInserted always consumes one unit of quota. The artifact is only
// rendered when the page is the unfiltered first page in default order.
func (e *engine) reconcileInserted(a quotes.Artifact) (string, string) {
	if a.ID == "" {
		return outcomeInvalid, ""
	}
	if e.inserted.Contains(a.ID) || e.tombstones.Contains(a.ID) || e.indexOf(a.ID) >= 0 {
		return outcomeDuplicate, ""
	}
	e.inserted.Add(a.ID, struct{}{})
	e.quota = e.quota.Consume(1)
	e.revision++
	if !splicesFeedInserts(e.params) {
		return outcomeApplied, ""
	}
	items := make([]Item, 0, len(e.items)+1)
	items = append(items, Item{Artifact: a, New: true})
	items = append(items, e.items...)
	if size := e.params.PageSize; len(items) > size {
		items = items[:size]
	}
	e.items = items
	e.setTotal(e.pagination.Total + 1)
	e.pruneSelection()
	if e.modalID != "" && e.indexOf(e.modalID) < 0 {
		e.modalID = ""
	}
	return outcomeApplied, a.ID
}

// reconcileUpdated refreshes a rendered artifact in place.
func (e *engine) reconcileUpdated(a quotes.Artifact) string {
	i := e.indexOf(a.ID)
	if i < 0 {
		return outcomeApplied
	}
	e.items[i] = Item{Artifact: a, New: e.items[i].New}
	return outcomeApplied
}
