package mongomock

import (
	"context"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/ti/mongomock/mongoerr"
	"github.com/ti/mongomock/tools/snowflake"
)

// Cursor iterates over the result documents of Find and Aggregate. Results
// are fully materialized, so iteration never blocks; the driver-shaped API
// lets test code consume it unchanged.
type Cursor struct {
	id     int64
	docs   []bson.D
	pos    int
	closed bool
}

func newCursor(docs []bson.D) *Cursor {
	return &Cursor{id: snowflake.ID(), docs: docs, pos: -1}
}

// ID returns the cursor's ID.
func (c *Cursor) ID() int64 {
	return c.id
}

// Next advances the cursor. It returns false once exhausted or closed.
func (c *Cursor) Next(context.Context) bool {
	if c.closed || c.pos+1 >= len(c.docs) {
		return false
	}
	c.pos++
	return true
}

// Current returns the document the cursor is positioned on.
func (c *Cursor) Current() bson.D {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return nil
	}
	return c.docs[c.pos]
}

// Decode unmarshals the current document into v.
func (c *Cursor) Decode(v any) error {
	doc := c.Current()
	if doc == nil {
		return mongoerr.NewBadValue("cursor", "no current document")
	}
	return decodeInto(doc, v)
}

// RemainingBatchLength returns the number of documents not yet consumed.
func (c *Cursor) RemainingBatchLength() int {
	if c.closed {
		return 0
	}
	return len(c.docs) - (c.pos + 1)
}

// All decodes every remaining document into results, which must be a
// pointer to a slice, and closes the cursor.
func (c *Cursor) All(ctx context.Context, results any) error {
	defer c.Close(ctx)
	rv := reflect.ValueOf(results)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Slice {
		return mongoerr.NewBadValue("cursor", "results must be a pointer to a slice")
	}
	// Existing contents are overwritten, like the driver's All.
	slice := rv.Elem().Slice(0, 0)
	elemType := slice.Type().Elem()
	for c.Next(ctx) {
		elem := reflect.New(elemType)
		if err := decodeInto(c.Current(), elem.Interface()); err != nil {
			return err
		}
		slice = reflect.Append(slice, elem.Elem())
	}
	rv.Elem().Set(slice)
	return nil
}

// Err returns the error that stopped iteration, which for a materialized
// cursor is always nil.
func (c *Cursor) Err() error {
	return nil
}

// Close releases the cursor.
func (c *Cursor) Close(context.Context) error {
	c.closed = true
	return nil
}

// SingleResult holds the outcome of a FindOne-style operation.
type SingleResult struct {
	doc bson.D
	err error
}

// Err returns the operation error, ErrNoDocuments when nothing matched.
func (r *SingleResult) Err() error {
	return r.err
}

// Decode unmarshals the result document into v.
func (r *SingleResult) Decode(v any) error {
	if r.err != nil {
		return r.err
	}
	return decodeInto(r.doc, v)
}

// Raw returns the result document itself.
func (r *SingleResult) Raw() (bson.D, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.doc, nil
}

// decodeInto round-trips a document through BSON so results decode into
// whatever shape the caller uses with the real driver.
func decodeInto(doc bson.D, v any) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, v)
}
