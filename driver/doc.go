// Package driver implements database/sql/driver on top of the client
// package, so that any native.Client can be used through *sql.DB.
//
// Usage:
//
//  1. Import the driver package. This registers the driver under the name
//     "nativedb".
//
//     import _ "github.com/tomyedwab/nativedb/driver"
//
//  2. Before opening a database, install the client that attachments are
//     opened with:
//
//     driver.SetNativeClient(client.New(host.New(logger)))
//
//  3. Open a database with a DSN of the form
//
//     user:password@host:port/path?role=R
//
//     Everything but the path is optional. A DSN without '@' is a bare path.
//     An absolute path after a host starts with a second slash, as in
//     "sysdba:masterkey@localhost//var/db/app.fdb".
//
//     db, err := sql.Open("nativedb", "sysdba:masterkey@localhost//var/db/app.fdb")
//
// Alternatively, sql.OpenDB accepts NewConnector (an explicit client) or
// NewPoolConnector (connections borrowed from a pool.Pool).
//
// Outside an explicit transaction every Exec and Query runs in its own
// transaction: Exec commits before returning, Query commits when its Rows
// are closed. Named arguments (sql.Named) bind to ":name" placeholders;
// positional arguments bind to '?' markers. Blob columns are read in full
// while scanning: text blobs scan as string, others as []byte.
package driver
