package main

import (
	"flag"
	"fmt"
)

// flagSet wraps flag.FlagSet with the shared "flags, then exactly one
// table file" argument convention.
type flagSet struct {
	*flag.FlagSet
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet("tabfile "+name, flag.ContinueOnError)
	return &flagSet{fs}
}

// parse parses args and returns the trailing table file path.
func (fs *flagSet) parse(args []string) (string, error) {
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s needs exactly one table file argument", fs.Name())
	}
	return fs.Arg(0), nil
}
