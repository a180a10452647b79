package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/tomyedwab/nativedb/client"
	"github.com/tomyedwab/nativedb/codec"
	"github.com/tomyedwab/nativedb/driver"
	"github.com/tomyedwab/nativedb/host"
)

type statements []string

func (s *statements) String() string {
	return strings.Join(*s, "; ")
}

func (s *statements) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	dbFlag := flag.String("db", "", "Database path or DSN (user:password@host:port/path?role=R)")
	create := flag.Bool("create", false, "Create the database before running statements")
	user := flag.String("user", "", "User name, overrides the DSN")
	password := flag.String("password", "", "Password, overrides the DSN")
	debug := flag.Bool("debug", false, "Enable debug logging")
	var exec statements
	flag.Var(&exec, "e", "Statement to execute (may be repeated); reads statements from stdin when omitted")
	flag.Parse()

	if *dbFlag == "" {
		log.Fatal("Database must be provided via -db flag")
	}
	opts, err := driver.ParseDSN(*dbFlag)
	if err != nil {
		log.Fatalf("Invalid -db: %v", err)
	}
	if *user != "" {
		opts.Username = *user
	}
	if *password != "" {
		opts.Password = *password
	}

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(exec) == 0 {
		exec, err = readStatements(os.Stdin)
		if err != nil {
			log.Fatalf("Failed to read statements: %v", err)
		}
	}

	c := client.New(host.New(logger), client.WithLogger(logger))
	var att *client.Attachment
	if *create {
		att, err = c.CreateDatabase(ctx, opts)
	} else {
		att, err = c.Connect(ctx, opts)
	}
	if err != nil {
		log.Fatalf("Failed to connect to %s: %v", opts.URI(), err)
	}

	failed := false
	for _, sql := range exec {
		if err := run(ctx, att, sql, os.Stdout); err != nil {
			logger.Error("Statement failed", "sql", sql, "error", err)
			failed = true
			break
		}
	}

	if err := c.Dispose(ctx); err != nil {
		logger.Error("Failed to disconnect", "error", err)
		failed = true
	}
	if failed {
		os.Exit(1)
	}
}

// readStatements splits r into statements terminated by a ';' at the end of
// a line.
func readStatements(r io.Reader) ([]string, error) {
	var stmts []string
	var cur strings.Builder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, ";") {
			cur.WriteString(strings.TrimSuffix(trimmed, ";"))
			if s := strings.TrimSpace(cur.String()); s != "" {
				stmts = append(stmts, s)
			}
			cur.Reset()
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts, scanner.Err()
}

// run executes sql in its own transaction and prints any rows it produces.
func run(ctx context.Context, att *client.Attachment, sql string, w io.Writer) error {
	return att.ExecuteTransaction(ctx, client.TransactionOptions{}, func(ctx context.Context, tr *client.Transaction) error {
		stmt, err := att.Prepare(ctx, tr, sql)
		if err != nil {
			return err
		}
		defer stmt.Dispose(ctx)

		if !stmt.HasResultSet() && len(stmt.OutputDescriptors()) == 0 {
			n, err := stmt.Execute(ctx, tr, nil)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%d row(s) affected\n", n)
			return nil
		}

		var rows [][]any
		if stmt.HasResultSet() {
			rs, err := stmt.ExecuteQuery(ctx, tr, nil)
			if err != nil {
				return err
			}
			rows, err = rs.Fetch(ctx, client.FetchOptions{})
			if err != nil {
				return err
			}
			if err := rs.Close(ctx); err != nil {
				return err
			}
		} else {
			row, err := stmt.ExecuteReturning(ctx, tr, nil)
			if err != nil {
				return err
			}
			if row != nil {
				rows = append(rows, row)
			}
		}
		return printRows(ctx, att, tr, stmt.ColumnLabels(), rows, w)
	})
}

func printRows(ctx context.Context, att *client.Attachment, tr *client.Transaction, labels []string, rows [][]any, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(labels, "\t"))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			s, err := format(ctx, att, tr, v)
			if err != nil {
				return err
			}
			cells[i] = s
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%d row(s)\n", len(rows))
	return nil
}

func format(ctx context.Context, att *client.Attachment, tr *client.Transaction, v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "<null>", nil
	case codec.BlobLink:
		data, err := att.ReadBlob(ctx, tr, v)
		if err != nil {
			return "", err
		}
		if v.IsText() {
			return string(data), nil
		}
		return fmt.Sprintf("<%d bytes>", len(data)), nil
	}
	return fmt.Sprint(v), nil
}
