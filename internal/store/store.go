// Package store provides the document-collection storage contract of the
// dialogue engine, a MongoDB implementation, and an in-memory implementation
// used by tests.
//
// Each tenant worker owns one TenantStore bound to that tenant's database;
// nothing is shared between tenants.
package store

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

// ErrNotFound is returned by FindOne when no document matches.
var ErrNotFound = errors.New("document not found")

// Collection is the document-collection contract the engine is written
// against: save, find, find-one, count, remove and drop.
type Collection interface {
	// Save inserts the document, or replaces it when it carries an _id.
	// It returns the document id.
	Save(ctx context.Context, doc models.Raw) (string, error)
	// Find returns every document matching the query.
	Find(ctx context.Context, query bson.M) ([]models.Raw, error)
	// FindOne returns one matching document or ErrNotFound.
	FindOne(ctx context.Context, query bson.M) (models.Raw, error)
	// Count returns the number of matching documents.
	Count(ctx context.Context, query bson.M) (int64, error)
	// Remove deletes every matching document and returns how many.
	Remove(ctx context.Context, query bson.M) (int64, error)
	// Drop removes the whole collection.
	Drop(ctx context.Context) error
}

// Collection names within a tenant database.
const (
	CollectionParticipants     = "participants"
	CollectionDialogues        = "dialogues"
	CollectionRequests         = "requests"
	CollectionSchedules        = "schedules"
	CollectionHistory          = "history"
	CollectionProgramSettings  = "program_settings"
	CollectionUnattachedMsgs   = "unattached_messages"
	CollectionTemplates        = "templates"
	CollectionContentVariables = "content_variables"
	CollectionCreditLogs       = "credit_logs"
	CollectionWorkerConfigs    = "worker_configs"
)

// TenantStore aggregates the collections of one tenant database.
type TenantStore struct {
	Participants     Collection
	Dialogues        Collection
	Requests         Collection
	Schedules        Collection
	History          Collection
	ProgramSettings  Collection
	UnattachedMsgs   Collection
	Templates        Collection
	ContentVariables Collection
	CreditLogs       Collection
}
