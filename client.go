package mongomock

import (
	"context"
	"net/url"
	"strings"

	"github.com/ti/mongomock/mongoerr"
)

// Scheme is the URI scheme accepted by NewClient.
const Scheme = "mongomock"

// Client is the entry point test code swaps in for a driver client. Each
// client owns its own server unless created with NewClientWithServer.
type Client struct {
	server   *Server
	database string
}

// NewClient creates a client from a mongomock://host/database URI. The host
// is ignored; the path names the default database, falling back to "test".
func NewClient(uri string) (*Client, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, mongoerr.NewBadValue("uri", err.Error())
	}
	if u.Scheme != Scheme {
		return nil, mongoerr.NewBadValue("uri", "scheme must be "+Scheme)
	}
	database := strings.Trim(u.Path, "/")
	if database == "" {
		database = "test"
	}
	return &Client{server: NewServer(), database: database}, nil
}

// NewClientWithServer creates a client that shares an existing server, for
// tests that exercise several clients against the same data.
func NewClientWithServer(server *Server, database string) *Client {
	return &Client{server: server, database: database}
}

// Server returns the underlying server.
func (c *Client) Server() *Server {
	return c.server
}

// Database returns the named database.
func (c *Client) Database(name string) *Database {
	return c.server.Database(name)
}

// DefaultDatabase returns the database named in the client URI.
func (c *Client) DefaultDatabase() *Database {
	return c.server.Database(c.database)
}

// Disconnect releases the client's server resources. It mirrors the driver's
// method so teardown code works unchanged.
func (c *Client) Disconnect(context.Context) error {
	c.server.Close()
	return nil
}
