// Package models defines the persisted document types of the dialogue engine.
//
// Every document shares a versioned envelope (object-type plus model-version)
// and an upgrade chain that brings older documents up to the current model
// version before validation. Validation raises field-level errors, never
// silently drops data.
package models

import (
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Raw is an untyped document as read from the store.
type Raw map[string]interface{}

// Meta is the envelope embedded in every persisted document.
type Meta struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	ObjectType   string             `bson:"object-type" json:"object-type"`
	ModelVersion string             `bson:"model-version" json:"model-version"`
}

// Document is the behavior shared by all persisted model types.
type Document interface {
	// DocObjectType returns the object-type discriminator.
	DocObjectType() string
	// DocModelVersion returns the model version the struct represents.
	DocModelVersion() string
	// Validate checks required and optional fields after upgrade.
	Validate() error
}

// Upgrader transforms a raw document from one version to the next.
type Upgrader func(Raw) Raw

// Version reads the model-version field of a raw document; empty when absent.
func (r Raw) Version() string {
	v, _ := r["model-version"].(string)
	return v
}

// Type reads the object-type field of a raw document; empty when absent.
func (r Raw) Type() string {
	t, _ := r["object-type"].(string)
	return t
}

// Upgrade applies the per-version steps repeatedly until the raw document
// reaches target. It returns ErrFailingModelUpgrade when the chain stalls:
// an unknown version, a too-new version, or a step that does not advance.
func Upgrade(raw Raw, target string, steps map[string]Upgrader) (Raw, error) {
	for raw.Version() != target {
		from := raw.Version()
		step, ok := steps[from]
		if !ok {
			slog.Debug("models.Upgrade: no upgrade step", "object_type", raw.Type(), "from", from, "target", target)
			return nil, &UpgradeError{ObjectType: raw.Type(), FromVersion: from, Target: target}
		}
		raw = step(raw)
		if raw.Version() == from {
			return nil, &UpgradeError{ObjectType: raw.Type(), FromVersion: from, Target: target}
		}
	}
	return raw, nil
}

// Decode converts an upgraded raw document into a typed document through a
// bson round trip, then validates it.
func Decode(raw Raw, out Document) error {
	data, err := bson.Marshal(bson.M(raw))
	if err != nil {
		return err
	}
	if err := bson.Unmarshal(data, out); err != nil {
		return err
	}
	return out.Validate()
}

// ToRaw converts a typed document back into its raw map form. The result
// carries every persisted field plus the object-type and model-version tags.
func ToRaw(doc Document) (Raw, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return Raw(m), nil
}
