package mongomock

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ti/mongomock/filter"
	"github.com/ti/mongomock/mongoerr"
)

// Compiled filters are cached briefly; test suites tend to reuse the same
// handful of queries across many documents.
const predicateTTL = 5 * time.Minute

// Server is an in-process stand-in for a MongoDB deployment. It owns the
// databases and a shared compiled-filter cache.
type Server struct {
	id    string
	preds *filter.Cache

	mu  sync.RWMutex
	dbs map[string]*Database
}

// NewServer creates an empty server with a fresh instance ID.
func NewServer() *Server {
	return &Server{
		id:    uuid.NewString(),
		preds: filter.NewCache(predicateTTL),
		dbs:   map[string]*Database{},
	}
}

// ID returns the server's instance ID.
func (s *Server) ID() string {
	return s.id
}

// Database returns the named database, creating it on first access.
func (s *Server) Database(name string) *Database {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.dbs[name]
	if !ok {
		db = &Database{name: name, server: s, colls: map[string]*Collection{}}
		s.dbs[name] = db
	}
	return db
}

// DatabaseNames lists the databases in sorted order.
func (s *Server) DatabaseNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dbs))
	for name := range s.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases the server's background resources.
func (s *Server) Close() {
	s.preds.Stop()
}

// Database is a named set of collections on a Server.
type Database struct {
	name   string
	server *Server

	mu    sync.RWMutex
	colls map[string]*Collection
}

// Name returns the database name.
func (d *Database) Name() string {
	return d.name
}

// Collection returns the named collection, creating it on first access.
func (d *Database) Collection(name string) *Collection {
	d.mu.Lock()
	defer d.mu.Unlock()
	coll, ok := d.colls[name]
	if !ok {
		coll = &Collection{name: name, db: d}
		d.colls[name] = coll
	}
	return coll
}

// CollectionNames lists the collections in sorted order.
func (d *Database) CollectionNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.colls))
	for name := range d.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenameCollection renames a collection within the database. The target
// name must be free unless dropTarget is set.
func (d *Database) RenameCollection(oldName, newName string, dropTarget bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	coll, ok := d.colls[oldName]
	if !ok {
		return mongoerr.NewBadValue("renameCollection", "source collection "+oldName+" does not exist")
	}
	if _, exists := d.colls[newName]; exists {
		if !dropTarget {
			return mongoerr.NewBadValue("renameCollection", "target collection "+newName+" already exists")
		}
		delete(d.colls, newName)
	}
	delete(d.colls, oldName)
	coll.mu.Lock()
	coll.name = newName
	coll.mu.Unlock()
	d.colls[newName] = coll
	return nil
}

// Drop removes all collections from the database.
func (d *Database) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.colls = map[string]*Collection{}
}

func (d *Database) dropCollection(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.colls, name)
}
