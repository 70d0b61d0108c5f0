package quotes

import (
	"context"
	"time"
)

type ChangeKind string

const (
	ChangeInserted ChangeKind = "INSERT"
	ChangeDeleted  ChangeKind = "DELETE"
	ChangeUpdated  ChangeKind = "UPDATE"
)

func (k ChangeKind) Valid() bool {
	switch k {
	case ChangeInserted, ChangeDeleted, ChangeUpdated:
		return true
	}
	return false
}

// Change is one push-feed notification. Artifact is set for inserts and
// updates; ArtifactID is always set.
type Change struct {
	EventID    string
	Kind       ChangeKind
	OwnerID    string
	ArtifactID string
	Artifact   *Artifact
	At         time.Time
}

func InsertedChange(eventID string, a Artifact) Change {
	return Change{EventID: eventID, Kind: ChangeInserted, OwnerID: a.OwnerID, ArtifactID: a.ID, Artifact: &a}
}

func UpdatedChange(eventID string, a Artifact) Change {
	return Change{EventID: eventID, Kind: ChangeUpdated, OwnerID: a.OwnerID, ArtifactID: a.ID, Artifact: &a}
}

func DeletedChange(eventID, ownerID, artifactID string) Change {
	return Change{EventID: eventID, Kind: ChangeDeleted, OwnerID: ownerID, ArtifactID: artifactID}
}

// ChangeStream is one open push subscription. Next blocks until a change
// arrives, the stream fails, or ctx ends.
type ChangeStream interface {
	Next(ctx context.Context) (Change, error)
	Close() error
}
