package driver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/dberrors"
	"github.com/tomyedwab/nativedb/native"
	"github.com/tomyedwab/nativedb/pool"
)

const driverName = "nativedb"

var (
	clientMu     sync.RWMutex
	nativeClient *client.Client
)

// SetNativeClient sets the client that Driver.Open connects with. It must
// be called before any database is opened by name.
func SetNativeClient(c *client.Client) {
	clientMu.Lock()
	defer clientMu.Unlock()
	nativeClient = c
}

func currentClient() (*client.Client, error) {
	clientMu.RLock()
	defer clientMu.RUnlock()
	if nativeClient == nil {
		return nil, dberrors.New(dberrors.ErrorTypeNeedConnection, "nativedb: SetNativeClient has not been called")
	}
	return nativeClient, nil
}

func init() {
	sql.Register(driverName, &Driver{})
}

// Driver is the nativedb database/sql driver.
type Driver struct{}

var (
	_ driver.Driver        = (*Driver)(nil)
	_ driver.DriverContext = (*Driver)(nil)
)

// Open parses dsn and attaches to the database it names.
func (d *Driver) Open(dsn string) (driver.Conn, error) {
	c, err := d.OpenConnector(dsn)
	if err != nil {
		return nil, err
	}
	return c.Connect(context.Background())
}

// OpenConnector parses dsn once for every connection sql.DB opens.
func (d *Driver) OpenConnector(dsn string) (driver.Connector, error) {
	opts, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return &connector{
		connect: func(ctx context.Context) (client.Connection, error) {
			c, err := currentClient()
			if err != nil {
				return nil, err
			}
			return c.Connect(ctx, opts)
		},
	}, nil
}

type connector struct {
	connect func(ctx context.Context) (client.Connection, error)
}

func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	cn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{cn: cn}, nil
}

func (c *connector) Driver() driver.Driver {
	return &Driver{}
}

// NewConnector returns a connector that attaches to db through c, for use
// with sql.OpenDB.
func NewConnector(c *client.Client, db native.ConnectOptions) driver.Connector {
	return &connector{
		connect: func(ctx context.Context) (client.Connection, error) {
			return c.Connect(ctx, db)
		},
	}
}

// NewPoolConnector returns a connector that borrows its connections from p.
// Closing a connection returns it to p.
func NewPoolConnector(p *pool.Pool) driver.Connector {
	return &connector{
		connect: func(ctx context.Context) (client.Connection, error) {
			return p.Borrow(ctx)
		},
	}
}

// ParseDSN parses user:password@host:port/path?role=R into connect options.
func ParseDSN(dsn string) (native.ConnectOptions, error) {
	var opts native.ConnectOptions

	main, query, _ := strings.Cut(dsn, "?")
	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return opts, dberrors.Wrap(dberrors.ErrorTypeInvalidValue, "nativedb: invalid DSN parameters", err)
		}
		for key := range values {
			if key != "role" {
				return opts, dberrors.Newf(dberrors.ErrorTypeInvalidValue, "nativedb: unknown DSN parameter %q", key)
			}
		}
		opts.Role = values.Get("role")
	}

	at := strings.LastIndex(main, "@")
	if at < 0 {
		opts.Path = main
	} else {
		user, password, _ := strings.Cut(main[:at], ":")
		opts.Username, opts.Password = user, password

		addr, path, ok := strings.Cut(main[at+1:], "/")
		if !ok {
			return opts, dberrors.Newf(dberrors.ErrorTypeInvalidValue, "nativedb: DSN %q has no database path", redact(dsn))
		}
		opts.Path = path
		host, port, hasPort := strings.Cut(addr, ":")
		opts.Host = host
		if hasPort {
			n, err := strconv.Atoi(port)
			if err != nil || n <= 0 || n > 65535 {
				return opts, dberrors.Newf(dberrors.ErrorTypeInvalidValue, "nativedb: invalid port %q", port)
			}
			opts.Port = n
		}
	}

	if opts.Path == "" {
		return opts, dberrors.Newf(dberrors.ErrorTypeInvalidValue, "nativedb: DSN %q has no database path", redact(dsn))
	}
	return opts, nil
}

// FormatDSN is the inverse of ParseDSN.
func FormatDSN(opts native.ConnectOptions) string {
	var b strings.Builder
	if opts.Username != "" || opts.Password != "" || opts.Host != "" || opts.Port != 0 {
		b.WriteString(opts.Username)
		if opts.Password != "" {
			b.WriteString(":" + opts.Password)
		}
		b.WriteString("@" + opts.Host)
		if opts.Port != 0 {
			b.WriteString(":" + strconv.Itoa(opts.Port))
		}
		b.WriteString("/")
	}
	b.WriteString(opts.Path)
	if opts.Role != "" {
		b.WriteString("?" + url.Values{"role": {opts.Role}}.Encode())
	}
	return b.String()
}

// redact hides the password of a DSN in error messages.
func redact(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	user, _, hasPassword := strings.Cut(dsn[:at], ":")
	if !hasPassword {
		return dsn
	}
	return user + ":***" + dsn[at:]
}
