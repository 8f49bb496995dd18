// Command strata-shell is a small interactive shell for Strata databases.
//
// Usage:
//
//	strata-shell db.strata                    # interactive prompt
//	strata-shell db.strata "SELECT * FROM t"  # one-shot execution
//	echo "SELECT 1" | strata-shell db.strata  # piped script
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	strata "strata.dev/database/stratago"
)

func main() {
	cmd := &cli.Command{
		Name:      "strata-shell",
		Usage:     "Execute SQL against a Strata database",
		ArgsUsage: "<database> [sql...]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "cache",
				Usage: "Statement cache capacity (0 disables caching)",
				Value: strata.DefaultStatementCacheSize,
			},
			&cli.IntFlag{
				Name:  "busy-timeout",
				Usage: "Busy timeout in milliseconds",
				Value: strata.DefaultBusyTimeout,
			},
			&cli.BoolFlag{
				Name:    "header",
				Aliases: []string{"H"},
				Usage:   "Print column names before result rows",
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Print each executed statement on stderr",
			},
		},
		Action: shellAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func shellAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() < 1 {
		return fmt.Errorf("usage: strata-shell <database> [sql...]")
	}

	conn, err := strata.Open(cmd.Args().First(),
		strata.WithStatementCacheSize(int(cmd.Int("cache"))),
		strata.WithBusyTimeout(int(cmd.Int("busy-timeout"))))
	if err != nil {
		return err
	}
	defer conn.Close(true)

	cur, err := conn.Cursor()
	if err != nil {
		return err
	}
	defer cur.Close(true)

	if cmd.Bool("trace") {
		cur.SetExecTrace(func(query string, bindings any) bool {
			fmt.Fprintf(os.Stderr, "-- %s\n", strings.TrimSpace(query))
			return true
		})
	}

	header := cmd.Bool("header")

	// SQL given on the command line: run it and exit.
	if cmd.NArg() > 1 {
		script := strings.Join(cmd.Args().Tail(), " ")
		return runScript(cur, script, header)
	}

	// Piped stdin: run line by line, stop on first error.
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		if script := strings.TrimSpace(string(data)); script != "" {
			return runScript(cur, script, header)
		}
		return nil
	}

	return repl(cur, header)
}

// repl reads statements from an interactive terminal until EOF or ".quit".
// Errors are printed, not fatal.
func repl(cur *strata.Cursor, header bool) error {
	if v, err := strata.Version(); err == nil {
		fmt.Printf("Strata %s\nEnter \".quit\" to exit\n", v)
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Print("strata> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ".quit" || line == ".exit":
			return nil
		case strings.HasPrefix(line, "."):
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", line)
			continue
		}
		if err := runScript(cur, line, header); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

// runScript executes one SQL script and prints its rows tab separated.
func runScript(cur *strata.Cursor, script string, header bool) error {
	if _, err := cur.Execute(script, nil); err != nil {
		return err
	}
	printedHeader := false
	for {
		row, err := cur.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if header && !printedHeader {
			if desc, derr := cur.Description(); derr == nil {
				names := make([]string, len(desc))
				for i, d := range desc {
					names[i] = d.Name
				}
				fmt.Println(strings.Join(names, "\t"))
			}
			printedHeader = true
		}
		fmt.Println(formatRow(row))
	}
}

func formatRow(row []any) string {
	parts := make([]string, len(row))
	for i, v := range row {
		switch x := v.(type) {
		case nil:
			parts[i] = "NULL"
		case []byte:
			parts[i] = fmt.Sprintf("x'%x'", x)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, "\t")
}
