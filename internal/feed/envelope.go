// Package feed is the push channel wire protocol: JSON change frames
// validated against an embedded schema, carried over websockets.
package feed

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/quotebot/quotegallery/internal/quotes"
)

const TableQuotes = "quotes"

var ErrInvalidFrame = errors.New("invalid feed frame")

//go:embed frame.schema.json
var frameSchemaJSON []byte

const frameSchemaURL = "https://quotegallery.local/schemas/frame.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Envelope is one change frame as it travels on the wire.
type Envelope struct {
	EventID         string            `json:"eventId"`
	Type            quotes.ChangeKind `json:"type"`
	Table           string            `json:"table"`
	OwnerID         string            `json:"ownerId"`
	Record          *quotes.Artifact  `json:"record,omitempty"`
	OldRecord       *OldRecord        `json:"oldRecord,omitempty"`
	CommitTimestamp time.Time         `json:"commitTimestamp"`
}

type OldRecord struct {
	ID string `json:"id"`
}

func frameSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(frameSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse frame schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(frameSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add frame schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(frameSchemaURL)
	})
	return schema, schemaErr
}

// EnvelopeFor converts a change into its wire form.
func EnvelopeFor(change quotes.Change) Envelope {
	env := Envelope{
		EventID:         change.EventID,
		Type:            change.Kind,
		Table:           TableQuotes,
		OwnerID:         change.OwnerID,
		CommitTimestamp: change.At.UTC(),
	}
	if env.CommitTimestamp.IsZero() {
		env.CommitTimestamp = time.Now().UTC()
	}
	switch change.Kind {
	case quotes.ChangeDeleted:
		env.OldRecord = &OldRecord{ID: change.ArtifactID}
	default:
		if change.Artifact != nil {
			record := *change.Artifact
			env.Record = &record
		}
	}
	return env
}

// Change converts a decoded envelope back into a change.
func (e Envelope) Change() quotes.Change {
	change := quotes.Change{
		EventID: e.EventID,
		Kind:    e.Type,
		OwnerID: e.OwnerID,
		At:      e.CommitTimestamp,
	}
	if e.Record != nil {
		record := *e.Record
		change.Artifact = &record
		change.ArtifactID = record.ID
	}
	if e.OldRecord != nil && change.ArtifactID == "" {
		change.ArtifactID = e.OldRecord.ID
	}
	return change
}

func Encode(change quotes.Change) ([]byte, error) {
	return json.Marshal(EnvelopeFor(change))
}

// Decode validates a frame against the schema and converts it. Any frame the
// schema rejects yields an error wrapping ErrInvalidFrame.
func Decode(data []byte) (quotes.Change, error) {
	sch, err := frameSchema()
	if err != nil {
		return quotes.Change{}, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return quotes.Change{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if err := sch.Validate(inst); err != nil {
		return quotes.Change{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return quotes.Change{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return env.Change(), nil
}
