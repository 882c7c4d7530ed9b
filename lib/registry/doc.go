// Package registry persists the server's bookkeeping state in SQLite:
// registered clients with bcrypt password hashes, login sessions and a log
// of executed queries. The wire protocol never touches this package, it is
// consulted by the server's message handlers.
package registry
