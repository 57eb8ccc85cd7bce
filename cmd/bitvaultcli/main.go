// Command bitvaultcli is a thin command-line front end over a bitvault
// database: each invocation opens the database, performs one operation,
// and exits.
package main

import (
	"fmt"
	"os"

	"github.com/ashwch/bitvault"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "bitvaultcli",
		Usage: "inspect and edit a bitvault database from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dir",
				Aliases:  []string{"d"},
				Required: true,
				Usage:    "database root directory",
			},
			&cli.StringFlag{
				Name:  "bucket",
				Value: "",
				Usage: "bucket to operate in (default: the database's current bucket)",
			},
		},
		Commands: []*cli.Command{
			getCommand,
			setCommand,
			removeCommand,
			bucketsCommand,
			keysCommand,
			useBucketCommand,
			gcCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bitvaultcli:", err)
		os.Exit(1)
	}
}

// openFromContext opens the database named by the --dir flag and, if
// --bucket was given, switches to it before returning.
func openFromContext(c *cli.Context) (*bitvault.DB, error) {
	db, err := bitvault.Open(bitvault.DefaultConfig(c.String("dir")))
	if err != nil {
		return nil, err
	}
	if bucket := c.String("bucket"); bucket != "" {
		if !db.ChangeBucket(bucket) {
			return nil, fmt.Errorf("failed to switch to bucket %q", bucket)
		}
	}
	return db, nil
}

var getCommand = &cli.Command{
	Name:      "get",
	Usage:     "print the value stored for a key",
	ArgsUsage: "<key>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("get requires exactly one key argument")
		}
		db, err := openFromContext(c)
		if err != nil {
			return err
		}
		value, ok := db.Get(c.Args().First())
		if !ok {
			return fmt.Errorf("key not found")
		}
		fmt.Println(string(value))
		return nil
	},
}

var setCommand = &cli.Command{
	Name:      "set",
	Usage:     "set a key to a value",
	ArgsUsage: "<key> <value>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return fmt.Errorf("set requires a key and a value argument")
		}
		db, err := openFromContext(c)
		if err != nil {
			return err
		}
		if !db.Set(c.Args().Get(0), []byte(c.Args().Get(1))) {
			return fmt.Errorf("set failed")
		}
		return nil
	},
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Usage:     "delete a key",
	ArgsUsage: "<key>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("remove requires exactly one key argument")
		}
		db, err := openFromContext(c)
		if err != nil {
			return err
		}
		if !db.Remove(c.Args().First()) {
			return fmt.Errorf("key not found")
		}
		return nil
	},
}

var bucketsCommand = &cli.Command{
	Name:  "buckets",
	Usage: "list all buckets",
	Action: func(c *cli.Context) error {
		db, err := openFromContext(c)
		if err != nil {
			return err
		}
		for _, name := range db.AllBuckets() {
			fmt.Println(name)
		}
		return nil
	},
}

var keysCommand = &cli.Command{
	Name:  "keys",
	Usage: "list all live keys across every bucket",
	Action: func(c *cli.Context) error {
		db, err := openFromContext(c)
		if err != nil {
			return err
		}
		for _, key := range db.AllKeys() {
			fmt.Println(key)
		}
		return nil
	},
}

var useBucketCommand = &cli.Command{
	Name:      "use-bucket",
	Usage:     "create a bucket if needed and report success",
	ArgsUsage: "<bucket>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("use-bucket requires exactly one bucket argument")
		}
		db, err := bitvault.Open(bitvault.DefaultConfig(c.String("dir")))
		if err != nil {
			return err
		}
		if !db.ChangeBucket(c.Args().First()) {
			return fmt.Errorf("failed to create or switch to bucket")
		}
		return nil
	},
}

var gcCommand = &cli.Command{
	Name:      "gc",
	Usage:     "compact a bucket, reclaiming space held by dead records",
	ArgsUsage: "<bucket>",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return fmt.Errorf("gc requires exactly one bucket argument")
		}
		db, err := bitvault.Open(bitvault.DefaultConfig(c.String("dir")))
		if err != nil {
			return err
		}
		if !db.GC(c.Args().First()) {
			return fmt.Errorf("gc failed")
		}
		return nil
	},
}
