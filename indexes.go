package mongomock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
	"github.com/ti/mongomock/mongoerr"
)

// indexSpec is the bookkeeping this package keeps per index. Indexes do not
// speed anything up here; they exist for unique enforcement and TTL expiry.
type indexSpec struct {
	name        string
	keys        bson.D
	unique      bool
	expireAfter *time.Duration
}

// IndexView manages the indexes of a collection, shaped like the driver's.
type IndexView struct {
	coll *Collection
}

// Indexes returns the collection's index view.
func (c *Collection) Indexes() IndexView {
	return IndexView{coll: c}
}

// CreateOne registers an index. Unique indexes are checked against the
// existing documents first; TTL indexes start expiring on the next access.
func (v IndexView) CreateOne(_ context.Context, model mongo.IndexModel) (string, error) {
	keys := compare.AsDocument(model.Keys)
	if len(keys) == 0 {
		return "", mongoerr.NewBadValue("createIndexes", "keys must be a non-empty document")
	}
	spec := indexSpec{keys: keys, name: defaultIndexName(keys)}
	if model.Options != nil {
		if model.Options.Unique != nil {
			spec.unique = *model.Options.Unique
		}
		if model.Options.ExpireAfterSeconds != nil {
			d := time.Duration(*model.Options.ExpireAfterSeconds) * time.Second
			spec.expireAfter = &d
		}
		if model.Options.Name != nil {
			spec.name = *model.Options.Name
		}
	}
	c := v.coll
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.indexes {
		if existing.name == spec.name {
			return "", mongoerr.NewBadValue("createIndexes", "an index named "+spec.name+" already exists")
		}
	}
	if spec.unique {
		for i, doc := range c.docs {
			key := keyTuple(doc, spec.keys)
			for _, other := range c.docs[i+1:] {
				if tuplesEqual(key, keyTuple(other, spec.keys)) {
					return "", mongoerr.NewDuplicateKey(c.name, spec.name, keyDocument(spec.keys, key))
				}
			}
		}
	}
	c.indexes = append(c.indexes, spec)
	return spec.name, nil
}

// CreateMany registers several indexes, stopping at the first failure.
func (v IndexView) CreateMany(ctx context.Context, models []mongo.IndexModel) ([]string, error) {
	names := make([]string, 0, len(models))
	for _, m := range models {
		name, err := v.CreateOne(ctx, m)
		if err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// DropOne removes the named index.
func (v IndexView) DropOne(_ context.Context, name string) error {
	c := v.coll
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, spec := range c.indexes {
		if spec.name == name {
			c.indexes = append(c.indexes[:i], c.indexes[i+1:]...)
			return nil
		}
	}
	return mongoerr.NewBadValue("dropIndexes", "index "+name+" not found")
}

// List returns the index specifications, including the implicit _id index.
func (v IndexView) List(context.Context) ([]mongo.IndexSpecification, error) {
	c := v.coll
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns := c.db.name + "." + c.name
	out := []mongo.IndexSpecification{idIndexSpecification(ns)}
	for _, spec := range c.indexes {
		raw, err := bson.Marshal(spec.keys)
		if err != nil {
			return nil, err
		}
		s := mongo.IndexSpecification{
			Name:         spec.name,
			Namespace:    ns,
			KeysDocument: bson.Raw(raw),
		}
		if spec.unique {
			unique := true
			s.Unique = &unique
		}
		if spec.expireAfter != nil {
			secs := int32(*spec.expireAfter / time.Second)
			s.ExpireAfterSeconds = &secs
		}
		out = append(out, s)
	}
	return out, nil
}

func idIndexSpecification(namespace string) mongo.IndexSpecification {
	raw, _ := bson.Marshal(bson.D{{Key: "_id", Value: int32(1)}})
	return mongo.IndexSpecification{Name: "_id_", Namespace: namespace, KeysDocument: bson.Raw(raw)}
}

func defaultIndexName(keys bson.D) string {
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		dir := int64(1)
		if d, ok := compare.AsInt64(k.Value); ok {
			dir = d
		}
		parts = append(parts, fmt.Sprintf("%s_%d", k.Key, dir))
	}
	return strings.Join(parts, "_")
}

// keyTuple extracts the index key values of a document; a missing field
// indexes as null, as on the server.
func keyTuple(doc bson.D, keys bson.D) []any {
	out := make([]any, len(keys))
	for i, k := range keys {
		v, ok := fieldpath.Lookup(doc, k.Key)
		if !ok {
			v = nil
		}
		out[i] = v
	}
	return out
}

func tuplesEqual(a, b []any) bool {
	for i := range a {
		if !compare.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func keyDocument(keys bson.D, tuple []any) bson.D {
	out := make(bson.D, len(keys))
	for i, k := range keys {
		out[i] = bson.E{Key: k.Key, Value: tuple[i]}
	}
	return out
}
