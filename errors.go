package mongomock

import (
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ti/mongomock/mongoerr"
)

// ErrNoDocuments is the driver's sentinel, re-exported so callers can swap
// a real client for this package without changing error handling.
var ErrNoDocuments = mongo.ErrNoDocuments

// IsDuplicateKeyError reports whether err is a unique-index violation.
func IsDuplicateKeyError(err error) bool {
	return mongoerr.IsDuplicateKey(err)
}
