package mongomock

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ti/mongomock/aggregate"
	"github.com/ti/mongomock/compare"
	"github.com/ti/mongomock/fieldpath"
	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/log"
	"github.com/ti/mongomock/mongoerr"
	"github.com/ti/mongomock/update"
)

// Now is the collection clock, split out so tests can pin TTL expiry.
var Now = time.Now

// Collection is an ordered, in-memory set of documents with the driver's
// collection API. Every operation works on copies; documents handed in or
// out are never shared with the store.
type Collection struct {
	name string
	db   *Database

	mu      sync.RWMutex
	docs    []bson.D
	indexes []indexSpec
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Database returns the collection's database.
func (c *Collection) Database() *Database {
	return c.db
}

func (c *Collection) compile(f any) (*filter.Predicate, error) {
	if f == nil {
		f = bson.D{}
	}
	return c.db.server.preds.Compile(f)
}

// expireLocked drops documents whose TTL-indexed date field has passed its
// lifetime. Runs on every access, like the original store's lazy expiry.
func (c *Collection) expireLocked(ctx context.Context, now time.Time) {
	for _, idx := range c.indexes {
		if idx.expireAfter == nil {
			continue
		}
		path := idx.keys[0].Key
		kept := make([]bson.D, 0, len(c.docs))
		for _, doc := range c.docs {
			if !expiredAt(doc, path, *idx.expireAfter, now) {
				kept = append(kept, doc)
			}
		}
		if len(kept) != len(c.docs) {
			log.Extract(ctx).Action("mongomock.expire").Debug("collection %s: expired %d documents", c.name, len(c.docs)-len(kept))
			c.docs = kept
		}
	}
}

// expiredAt reports whether the date value (or any date in an array value)
// at path is older than its lifetime. Non-date values never expire.
func expiredAt(doc bson.D, path string, lifetime time.Duration, now time.Time) bool {
	v, ok := fieldpath.Lookup(doc, path)
	if !ok {
		return false
	}
	candidates := bson.A{v}
	if arr := compare.AsArray(v); arr != nil {
		candidates = arr
	}
	for _, cand := range candidates {
		if t, ok := compare.AsTime(cand); ok && !t.Add(lifetime).After(now) {
			return true
		}
	}
	return false
}

// toDocument converts caller input (bson.D, bson.M, map or a struct) into
// an owned bson.D via a BSON round trip.
func toDocument(v any) (bson.D, error) {
	if v == nil {
		return nil, mongoerr.NewBadValue("document", "must not be nil")
	}
	if compare.IsDocument(v) {
		return fieldpath.CloneDocument(compare.AsDocument(v)), nil
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, mongoerr.NewBadValue("document", err.Error())
	}
	var d bson.D
	if err := bson.Unmarshal(raw, &d); err != nil {
		return nil, mongoerr.NewBadValue("document", err.Error())
	}
	return d, nil
}

// ensureID returns the document with an _id, generating an ObjectID and
// placing it first when absent.
func ensureID(doc bson.D) (bson.D, any) {
	if id, ok := fieldpath.Lookup(doc, "_id"); ok {
		return doc, id
	}
	id := primitive.NewObjectID()
	return append(bson.D{{Key: "_id", Value: id}}, doc...), id
}

// checkUniqueLocked rejects doc if its _id or any unique index key tuple
// collides with another document. exclude skips the document's own slot.
func (c *Collection) checkUniqueLocked(doc bson.D, exclude int) error {
	id, _ := fieldpath.Lookup(doc, "_id")
	for i, other := range c.docs {
		if i == exclude {
			continue
		}
		otherID, _ := fieldpath.Lookup(other, "_id")
		if compare.Equal(id, otherID) {
			return mongoerr.NewDuplicateKey(c.name, "_id_", bson.D{{Key: "_id", Value: id}})
		}
	}
	for _, idx := range c.indexes {
		if !idx.unique {
			continue
		}
		key := keyTuple(doc, idx.keys)
		for i, other := range c.docs {
			if i == exclude {
				continue
			}
			if tuplesEqual(key, keyTuple(other, idx.keys)) {
				return mongoerr.NewDuplicateKey(c.name, idx.name, keyDocument(idx.keys, key))
			}
		}
	}
	return nil
}

// InsertOne inserts a single document, generating an _id when absent.
func (c *Collection) InsertOne(ctx context.Context, document any) (*mongo.InsertOneResult, error) {
	doc, err := toDocument(document)
	if err != nil {
		return nil, err
	}
	doc, id := ensureID(doc)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	if err := c.checkUniqueLocked(doc, -1); err != nil {
		return nil, err
	}
	c.docs = append(c.docs, doc)
	log.Extract(ctx).Action("mongomock.insert").Debug("collection %s: inserted one document", c.name)
	return &mongo.InsertOneResult{InsertedID: id}, nil
}

// InsertMany inserts documents in order, stopping at the first failure.
func (c *Collection) InsertMany(ctx context.Context, documents []any) (*mongo.InsertManyResult, error) {
	res := &mongo.InsertManyResult{}
	for _, d := range documents {
		one, err := c.InsertOne(ctx, d)
		if err != nil {
			return res, err
		}
		res.InsertedIDs = append(res.InsertedIDs, one.InsertedID)
	}
	return res, nil
}

// matchedLocked returns clones of the documents matching pred, in insertion
// order.
func (c *Collection) matchedLocked(pred *filter.Predicate) []bson.D {
	var out []bson.D
	for _, doc := range c.docs {
		if pred.Match(doc) {
			out = append(out, fieldpath.CloneDocument(doc))
		}
	}
	return out
}

// Find returns a cursor over the matching documents, honoring the driver's
// sort, skip, limit and projection options.
func (c *Collection) Find(ctx context.Context, f any, opts ...*options.FindOptions) (*Cursor, error) {
	pred, err := c.compile(f)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.expireLocked(ctx, Now())
	results := c.matchedLocked(pred)
	c.mu.Unlock()

	var sortSpec, projection any
	var skip, limit *int64
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Sort != nil {
			sortSpec = o.Sort
		}
		if o.Projection != nil {
			projection = o.Projection
		}
		if o.Skip != nil {
			skip = o.Skip
		}
		if o.Limit != nil {
			limit = o.Limit
		}
	}
	results, err = shapeResults(results, sortSpec, skip, limit, projection)
	if err != nil {
		return nil, err
	}
	return newCursor(results), nil
}

func shapeResults(docs []bson.D, sortSpec any, skip, limit *int64, projection any) ([]bson.D, error) {
	if sortSpec != nil {
		keys, err := aggregate.ParseSortSpec(sortSpec)
		if err != nil {
			return nil, err
		}
		aggregate.SortDocs(docs, keys)
	}
	if skip != nil && *skip > 0 {
		n := *skip
		if n > int64(len(docs)) {
			n = int64(len(docs))
		}
		docs = docs[n:]
	}
	if limit != nil && *limit != 0 {
		n := *limit
		if n < 0 {
			n = -n
		}
		if n < int64(len(docs)) {
			docs = docs[:n]
		}
	}
	if proj := compare.AsDocument(projection); len(proj) > 0 {
		return aggregate.Run(docs, bson.A{bson.D{{Key: "$project", Value: proj}}}, aggregate.Options{})
	}
	return docs, nil
}

// FindOne returns the first matching document.
func (c *Collection) FindOne(ctx context.Context, f any, opts ...*options.FindOneOptions) *SingleResult {
	findOpts := options.Find()
	one := int64(1)
	findOpts.Limit = &one
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Sort != nil {
			findOpts.Sort = o.Sort
		}
		if o.Projection != nil {
			findOpts.Projection = o.Projection
		}
		if o.Skip != nil {
			findOpts.Skip = o.Skip
		}
	}
	cur, err := c.Find(ctx, f, findOpts)
	if err != nil {
		return &SingleResult{err: err}
	}
	if !cur.Next(ctx) {
		return &SingleResult{err: ErrNoDocuments}
	}
	return &SingleResult{doc: cur.Current()}
}

// UpdateOne applies an update to the first matching document.
func (c *Collection) UpdateOne(ctx context.Context, f, u any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.applyUpdate(ctx, f, u, false, updateUpsert(opts))
}

// UpdateMany applies an update to every matching document.
func (c *Collection) UpdateMany(ctx context.Context, f, u any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.applyUpdate(ctx, f, u, true, updateUpsert(opts))
}

// UpdateByID applies an update to the document with the given _id.
func (c *Collection) UpdateByID(ctx context.Context, id, u any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, u, opts...)
}

func updateUpsert(opts []*options.UpdateOptions) bool {
	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}
	return upsert
}

func (c *Collection) applyUpdate(ctx context.Context, f, u any, multi, upsert bool) (*mongo.UpdateResult, error) {
	pred, err := c.compile(f)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	res := &mongo.UpdateResult{}
	for i, doc := range c.docs {
		if !pred.Match(doc) {
			continue
		}
		updated, err := update.ApplyWithOptions(doc, u, update.Options{Filter: f})
		if err != nil {
			return nil, err
		}
		if err := c.checkUniqueLocked(updated, i); err != nil {
			return nil, err
		}
		res.MatchedCount++
		if !compare.Equal(doc, updated) {
			c.docs[i] = updated
			res.ModifiedCount++
		}
		if !multi {
			break
		}
	}
	if res.MatchedCount == 0 && upsert {
		id, err := c.upsertLocked(f, u)
		if err != nil {
			return nil, err
		}
		res.UpsertedCount = 1
		res.UpsertedID = id
	}
	if res.ModifiedCount > 0 || res.UpsertedCount > 0 {
		log.Extract(ctx).Action("mongomock.update").Debug("collection %s: modified %d, upserted %d", c.name, res.ModifiedCount, res.UpsertedCount)
	}
	return res, nil
}

// upsertLocked builds the insert document from the filter's equality fields
// and applies the update with $setOnInsert enabled.
func (c *Collection) upsertLocked(f, u any) (any, error) {
	base, err := baseFromFilter(f)
	if err != nil {
		return nil, err
	}
	doc, err := update.ApplyWithOptions(base, u, update.Options{Filter: f, ForInsert: true})
	if err != nil {
		return nil, err
	}
	doc, id := ensureID(doc)
	if err := c.checkUniqueLocked(doc, -1); err != nil {
		return nil, err
	}
	c.docs = append(c.docs, doc)
	return id, nil
}

// baseFromFilter seeds an upsert document with the filter's plain equality
// conditions and single-operator $eq conditions. Everything else is not
// representable as a concrete value and is skipped.
func baseFromFilter(f any) (bson.D, error) {
	base := bson.D{}
	if !compare.IsDocument(f) {
		return base, nil
	}
	for _, e := range compare.AsDocument(f) {
		if strings.HasPrefix(e.Key, "$") || strings.Contains(e.Key, ".$") {
			continue
		}
		value := e.Value
		if compare.IsDocument(value) {
			cond := compare.AsDocument(value)
			if len(cond) > 0 && strings.HasPrefix(cond[0].Key, "$") {
				if len(cond) != 1 || cond[0].Key != "$eq" {
					continue
				}
				value = cond[0].Value
			}
		}
		var err error
		base, err = fieldpath.Set(base, e.Key, fieldpath.CloneValue(value))
		if err != nil {
			return nil, err
		}
	}
	return base, nil
}

// ReplaceOne replaces the first matching document, keeping its _id.
func (c *Collection) ReplaceOne(ctx context.Context, f, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	doc, err := toDocument(replacement)
	if err != nil {
		return nil, err
	}
	for _, e := range doc {
		if strings.HasPrefix(e.Key, "$") {
			return nil, mongoerr.NewFailedToParse("replacement document must not contain update operators")
		}
	}
	upsert := false
	for _, o := range opts {
		if o != nil && o.Upsert != nil {
			upsert = *o.Upsert
		}
	}
	pred, err := c.compile(f)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	res := &mongo.UpdateResult{}
	for i, current := range c.docs {
		if !pred.Match(current) {
			continue
		}
		replaced, err := withExistingID(current, doc)
		if err != nil {
			return nil, err
		}
		if err := c.checkUniqueLocked(replaced, i); err != nil {
			return nil, err
		}
		res.MatchedCount = 1
		if !compare.Equal(current, replaced) {
			c.docs[i] = replaced
			res.ModifiedCount = 1
		}
		return res, nil
	}
	if upsert {
		inserted, id := ensureID(doc)
		if err := c.checkUniqueLocked(inserted, -1); err != nil {
			return nil, err
		}
		c.docs = append(c.docs, inserted)
		res.UpsertedCount = 1
		res.UpsertedID = id
	}
	return res, nil
}

// withExistingID carries the current document's _id into the replacement.
// A replacement that names a different _id is rejected.
func withExistingID(current, replacement bson.D) (bson.D, error) {
	id, _ := fieldpath.Lookup(current, "_id")
	if newID, ok := fieldpath.Lookup(replacement, "_id"); ok {
		if !compare.Equal(id, newID) {
			return nil, mongoerr.NewImmutableField("_id")
		}
		return replacement, nil
	}
	return append(bson.D{{Key: "_id", Value: id}}, replacement...), nil
}

// DeleteOne removes the first matching document.
func (c *Collection) DeleteOne(ctx context.Context, f any, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.applyDelete(ctx, f, false)
}

// DeleteMany removes every matching document.
func (c *Collection) DeleteMany(ctx context.Context, f any, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return c.applyDelete(ctx, f, true)
}

func (c *Collection) applyDelete(ctx context.Context, f any, multi bool) (*mongo.DeleteResult, error) {
	pred, err := c.compile(f)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	res := &mongo.DeleteResult{}
	kept := make([]bson.D, 0, len(c.docs))
	for _, doc := range c.docs {
		if (multi || res.DeletedCount == 0) && pred.Match(doc) {
			res.DeletedCount++
			continue
		}
		kept = append(kept, doc)
	}
	c.docs = kept
	if res.DeletedCount > 0 {
		log.Extract(ctx).Action("mongomock.delete").Debug("collection %s: deleted %d documents", c.name, res.DeletedCount)
	}
	return res, nil
}

// CountDocuments counts the documents matching the filter.
func (c *Collection) CountDocuments(ctx context.Context, f any, _ ...*options.CountOptions) (int64, error) {
	pred, err := c.compile(f)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	n := int64(0)
	for _, doc := range c.docs {
		if pred.Match(doc) {
			n++
		}
	}
	return n, nil
}

// EstimatedDocumentCount returns the collection size.
func (c *Collection) EstimatedDocumentCount(ctx context.Context, _ ...*options.EstimatedDocumentCountOptions) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	return int64(len(c.docs)), nil
}

// Distinct returns the distinct values at fieldName across the matching
// documents. Array values contribute their elements. The result is sorted
// in the canonical value order.
func (c *Collection) Distinct(ctx context.Context, fieldName string, f any, _ ...*options.DistinctOptions) ([]any, error) {
	pred, err := c.compile(f)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.expireLocked(ctx, Now())
	matched := c.matchedLocked(pred)
	c.mu.Unlock()

	out := []any{}
	add := func(v any) {
		for _, existing := range out {
			if compare.Equal(existing, v) {
				return
			}
		}
		out = append(out, v)
	}
	for _, doc := range matched {
		values, err := fieldpath.Values(doc, fieldName)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			if arr := compare.AsArray(v); arr != nil {
				for _, elem := range arr {
					add(elem)
				}
				continue
			}
			add(v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return compare.Order(out[i], out[j]) < 0 })
	return out, nil
}

// snapshot returns clones of all documents after TTL expiry.
func (c *Collection) snapshot(ctx context.Context) []bson.D {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	out := make([]bson.D, len(c.docs))
	for i, doc := range c.docs {
		out[i] = fieldpath.CloneDocument(doc)
	}
	return out
}

// Aggregate runs an aggregation pipeline over the collection. $lookup and
// $graphLookup resolve sibling collections in the same database.
func (c *Collection) Aggregate(ctx context.Context, pipeline any, _ ...*options.AggregateOptions) (*Cursor, error) {
	docs := c.snapshot(ctx)
	lookup := func(name string) ([]bson.D, error) {
		if name == c.name {
			return docs, nil
		}
		return c.db.Collection(name).snapshot(ctx), nil
	}
	out, err := aggregate.Run(docs, pipeline, aggregate.Options{Lookup: lookup})
	if err != nil {
		return nil, err
	}
	return newCursor(out), nil
}

// findTargetLocked picks the index of the matching document, honoring an
// optional sort specification the way findAndModify does.
func (c *Collection) findTargetLocked(pred *filter.Predicate, sortSpec any) (int, error) {
	var keys []aggregate.SortKey
	if sortSpec != nil {
		var err error
		keys, err = aggregate.ParseSortSpec(sortSpec)
		if err != nil {
			return -1, err
		}
	}
	best := -1
	for i, doc := range c.docs {
		if !pred.Match(doc) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		if keys == nil {
			break
		}
		if sortLess(doc, c.docs[best], keys) {
			best = i
		}
	}
	return best, nil
}

func sortLess(a, b bson.D, keys []aggregate.SortKey) bool {
	for _, k := range keys {
		va, _ := fieldpath.Lookup(a, k.Path)
		vb, _ := fieldpath.Lookup(b, k.Path)
		if c := compare.Order(va, vb) * k.Dir; c != 0 {
			return c < 0
		}
	}
	return false
}

// FindOneAndUpdate updates the first matching document and returns its
// pre-image, or the post-image with options.After.
func (c *Collection) FindOneAndUpdate(ctx context.Context, f, u any, opts ...*options.FindOneAndUpdateOptions) *SingleResult {
	var sortSpec any
	upsert := false
	after := false
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Sort != nil {
			sortSpec = o.Sort
		}
		if o.Upsert != nil {
			upsert = *o.Upsert
		}
		if o.ReturnDocument != nil {
			after = *o.ReturnDocument == options.After
		}
	}
	pred, err := c.compile(f)
	if err != nil {
		return &SingleResult{err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	idx, err := c.findTargetLocked(pred, sortSpec)
	if err != nil {
		return &SingleResult{err: err}
	}
	if idx == -1 {
		if !upsert {
			return &SingleResult{err: ErrNoDocuments}
		}
		if _, err := c.upsertLocked(f, u); err != nil {
			return &SingleResult{err: err}
		}
		if !after {
			return &SingleResult{err: ErrNoDocuments}
		}
		inserted := c.docs[len(c.docs)-1]
		return &SingleResult{doc: fieldpath.CloneDocument(inserted)}
	}
	current := c.docs[idx]
	updated, err := update.ApplyWithOptions(current, u, update.Options{Filter: f})
	if err != nil {
		return &SingleResult{err: err}
	}
	if err := c.checkUniqueLocked(updated, idx); err != nil {
		return &SingleResult{err: err}
	}
	c.docs[idx] = updated
	if after {
		return &SingleResult{doc: fieldpath.CloneDocument(updated)}
	}
	return &SingleResult{doc: fieldpath.CloneDocument(current)}
}

// FindOneAndReplace replaces the first matching document and returns its
// pre-image, or the post-image with options.After.
func (c *Collection) FindOneAndReplace(ctx context.Context, f, replacement any, opts ...*options.FindOneAndReplaceOptions) *SingleResult {
	doc, err := toDocument(replacement)
	if err != nil {
		return &SingleResult{err: err}
	}
	var sortSpec any
	upsert := false
	after := false
	for _, o := range opts {
		if o == nil {
			continue
		}
		if o.Sort != nil {
			sortSpec = o.Sort
		}
		if o.Upsert != nil {
			upsert = *o.Upsert
		}
		if o.ReturnDocument != nil {
			after = *o.ReturnDocument == options.After
		}
	}
	pred, err := c.compile(f)
	if err != nil {
		return &SingleResult{err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	idx, err := c.findTargetLocked(pred, sortSpec)
	if err != nil {
		return &SingleResult{err: err}
	}
	if idx == -1 {
		if !upsert {
			return &SingleResult{err: ErrNoDocuments}
		}
		inserted, _ := ensureID(doc)
		if err := c.checkUniqueLocked(inserted, -1); err != nil {
			return &SingleResult{err: err}
		}
		c.docs = append(c.docs, inserted)
		if !after {
			return &SingleResult{err: ErrNoDocuments}
		}
		return &SingleResult{doc: fieldpath.CloneDocument(inserted)}
	}
	current := c.docs[idx]
	replaced, err := withExistingID(current, doc)
	if err != nil {
		return &SingleResult{err: err}
	}
	if err := c.checkUniqueLocked(replaced, idx); err != nil {
		return &SingleResult{err: err}
	}
	c.docs[idx] = replaced
	if after {
		return &SingleResult{doc: fieldpath.CloneDocument(replaced)}
	}
	return &SingleResult{doc: fieldpath.CloneDocument(current)}
}

// FindOneAndDelete removes the first matching document and returns it.
func (c *Collection) FindOneAndDelete(ctx context.Context, f any, opts ...*options.FindOneAndDeleteOptions) *SingleResult {
	var sortSpec any
	for _, o := range opts {
		if o != nil && o.Sort != nil {
			sortSpec = o.Sort
		}
	}
	pred, err := c.compile(f)
	if err != nil {
		return &SingleResult{err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expireLocked(ctx, Now())
	idx, err := c.findTargetLocked(pred, sortSpec)
	if err != nil {
		return &SingleResult{err: err}
	}
	if idx == -1 {
		return &SingleResult{err: ErrNoDocuments}
	}
	deleted := c.docs[idx]
	c.docs = append(c.docs[:idx], c.docs[idx+1:]...)
	return &SingleResult{doc: deleted}
}

// Drop removes the collection and its indexes from the database.
func (c *Collection) Drop(ctx context.Context) error {
	c.mu.Lock()
	name := c.name
	c.docs = nil
	c.indexes = nil
	c.mu.Unlock()
	c.db.dropCollection(name)
	log.Extract(ctx).Action("mongomock.drop").Debug("collection %s: dropped", name)
	return nil
}
