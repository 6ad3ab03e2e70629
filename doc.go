// Package mongomock is an in-memory, network-free stand-in for MongoDB,
// meant to be swapped in for the driver in tests. It implements the query
// matcher, the update operators and the aggregation pipeline over plain
// bson values, with the server's comparison and null-versus-missing
// semantics.
//
//	client, err := mongomock.NewClient("mongomock://localhost/testdb")
//	if err != nil {
//		...
//	}
//	coll := client.DefaultDatabase().Collection("users")
//	_, err = coll.InsertOne(ctx, bson.D{{Key: "name", Value: "ada"}})
//
// The matching, update and aggregation engines are usable on their own via
// the filter, update and aggregate packages.
package mongomock
