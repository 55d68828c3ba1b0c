package store

import (
	"context"
	"reflect"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/texttochange/vusion-backend-sub000/internal/models"
)

// MemoryCollection is an in-memory Collection used by tests and local runs.
// It interprets the query operators the engine actually uses: equality,
// $lt/$lte/$gt/$gte, $ne, $in and $exists.
type MemoryCollection struct {
	mu   sync.RWMutex
	docs map[string]models.Raw
}

// NewMemoryCollection creates an empty in-memory collection.
func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{docs: make(map[string]models.Raw)}
}

// NewMemoryTenantStore creates a TenantStore backed by in-memory collections.
func NewMemoryTenantStore() *TenantStore {
	return &TenantStore{
		Participants:     NewMemoryCollection(),
		Dialogues:        NewMemoryCollection(),
		Requests:         NewMemoryCollection(),
		Schedules:        NewMemoryCollection(),
		History:          NewMemoryCollection(),
		ProgramSettings:  NewMemoryCollection(),
		UnattachedMsgs:   NewMemoryCollection(),
		Templates:        NewMemoryCollection(),
		ContentVariables: NewMemoryCollection(),
		CreditLogs:       NewMemoryCollection(),
	}
}

// Save inserts the document, or replaces it when it carries an _id.
func (c *MemoryCollection) Save(_ context.Context, doc models.Raw) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := doc["_id"].(primitive.ObjectID)
	if !ok || id.IsZero() {
		id = primitive.NewObjectID()
	}
	copied := make(models.Raw, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	copied["_id"] = id
	c.docs[id.Hex()] = copied
	return id.Hex(), nil
}

// Find returns every document matching the query.
func (c *MemoryCollection) Find(_ context.Context, query bson.M) ([]models.Raw, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []models.Raw
	for _, doc := range c.docs {
		if matchesQuery(doc, query) {
			out = append(out, doc)
		}
	}
	return out, nil
}

// FindOne returns one matching document or ErrNotFound.
func (c *MemoryCollection) FindOne(ctx context.Context, query bson.M) (models.Raw, error) {
	docs, err := c.Find(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// Count returns the number of matching documents.
func (c *MemoryCollection) Count(ctx context.Context, query bson.M) (int64, error) {
	docs, err := c.Find(ctx, query)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// Remove deletes every matching document.
func (c *MemoryCollection) Remove(_ context.Context, query bson.M) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed int64
	for id, doc := range c.docs {
		if matchesQuery(doc, query) {
			delete(c.docs, id)
			removed++
		}
	}
	return removed, nil
}

// Drop removes the whole collection.
func (c *MemoryCollection) Drop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs = make(map[string]models.Raw)
	return nil
}

func matchesQuery(doc models.Raw, query bson.M) bool {
	for field, cond := range query {
		value, present := doc[field]
		if ops, ok := cond.(bson.M); ok {
			if elem, hasElem := ops["$elemMatch"]; hasElem {
				if !matchesElem(value, elem) {
					return false
				}
				continue
			}
			if !matchesOperators(value, present, ops) {
				return false
			}
			continue
		}
		if !present {
			return false
		}
		// Equality against an array field: a scalar matches any element as
		// Mongo does, a slice must match the whole array.
		if rv := reflect.ValueOf(value); rv.Kind() == reflect.Slice {
			if reflect.ValueOf(cond).Kind() == reflect.Slice {
				if !slicesEqual(value, cond) {
					return false
				}
				continue
			}
			if !valueIn(cond, value) {
				return false
			}
			continue
		}
		if !valuesEqual(value, cond) {
			return false
		}
	}
	return true
}

// matchesElem applies an $elemMatch sub-query to an array of sub-documents.
func matchesElem(value, elem interface{}) bool {
	sub, ok := toBsonM(elem)
	if !ok {
		return false
	}
	rv := reflect.ValueOf(value)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if item, ok := toBsonM(rv.Index(i).Interface()); ok && matchesQuery(models.Raw(item), sub) {
			return true
		}
	}
	return false
}

func toBsonM(v interface{}) (bson.M, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case models.Raw:
		return bson.M(m), true
	case map[string]interface{}:
		return bson.M(m), true
	}
	return nil, false
}

func matchesOperators(value interface{}, present bool, ops bson.M) bool {
	for op, operand := range ops {
		switch op {
		case "$exists":
			want, _ := operand.(bool)
			if present != want {
				return false
			}
		case "$ne":
			if present && valuesEqual(value, operand) {
				return false
			}
		case "$in":
			if !present || !valueIn(value, operand) {
				return false
			}
		case "$lt", "$lte", "$gt", "$gte":
			if !present || !compareValues(value, operand, op) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func valuesEqual(a, b interface{}) bool {
	if ta, ok := asTime(a); ok {
		tb, ok := asTime(b)
		return ok && ta.Equal(tb)
	}
	if na, ok := asFloat(a); ok {
		nb, ok := asFloat(b)
		return ok && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func slicesEqual(a, b interface{}) bool {
	ra, rb := reflect.ValueOf(a), reflect.ValueOf(b)
	if ra.Len() != rb.Len() {
		return false
	}
	for i := 0; i < ra.Len(); i++ {
		if !valuesEqual(ra.Index(i).Interface(), rb.Index(i).Interface()) {
			return false
		}
	}
	return true
}

func valueIn(value, operand interface{}) bool {
	rv := reflect.ValueOf(operand)
	if rv.Kind() != reflect.Slice {
		return false
	}
	for i := 0; i < rv.Len(); i++ {
		if valuesEqual(value, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func compareValues(value, operand interface{}, op string) bool {
	if tv, ok := asTime(value); ok {
		to, ok := asTime(operand)
		if !ok {
			return false
		}
		switch op {
		case "$lt":
			return tv.Before(to)
		case "$lte":
			return !tv.After(to)
		case "$gt":
			return tv.After(to)
		case "$gte":
			return !tv.Before(to)
		}
		return false
	}
	if sv, ok := value.(string); ok {
		so, ok := operand.(string)
		if !ok {
			return false
		}
		switch op {
		case "$lt":
			return sv < so
		case "$lte":
			return sv <= so
		case "$gt":
			return sv > so
		case "$gte":
			return sv >= so
		}
		return false
	}
	nv, okV := asFloat(value)
	no, okO := asFloat(operand)
	if !okV || !okO {
		return false
	}
	switch op {
	case "$lt":
		return nv < no
	case "$lte":
		return nv <= no
	case "$gt":
		return nv > no
	case "$gte":
		return nv >= no
	}
	return false
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case primitive.DateTime:
		return t.Time(), true
	}
	return time.Time{}, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
