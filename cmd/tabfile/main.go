// Package main is a developer tool for inspecting and manipulating table
// files. It is tooling around the engine, not part of the storage core:
//
//	tabfile create -schema schema.yaml data/people.tbf
//	tabfile info data/people.tbf
//	tabfile insert -values '{"name":"Ada","age":30}' data/people.tbf
//	tabfile get -row 0 data/people.tbf
//
// Schemas are declared in YAML, one entry per column:
//
//	fields:
//	  - name: name
//	    type: text
//	  - name: age
//	    type: int
//	    unsigned: true
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/tabfile/tabfile"
)

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "tabfile: %v\n", err)
		os.Exit(1)
	}
}

func mainImpl() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: tabfile <create|info|insert|get> [flags] <file>")
	}
	switch os.Args[1] {
	case "create":
		return cmdCreate(os.Args[2:])
	case "info":
		return cmdInfo(os.Args[2:])
	case "insert":
		return cmdInsert(os.Args[2:])
	case "get":
		return cmdGet(os.Args[2:])
	default:
		return fmt.Errorf("unknown command %q", os.Args[1])
	}
}

// newLogger builds the tint-backed slog logger shared by every command.
func newLogger(level string) (*slog.Logger, error) {
	var ll slog.Level
	if err := ll.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})), nil
}

// schemaDoc is the YAML shape of a schema definition file.
type schemaDoc struct {
	Fields []fieldDoc `yaml:"fields"`
	Options struct {
		NoTimestamps bool `yaml:"noTimestamps"`
	} `yaml:"options"`
}

type fieldDoc struct {
	Name      string    `yaml:"name"`
	Type      string    `yaml:"type"`
	Nullable  bool      `yaml:"nullable"`
	MinLength int       `yaml:"minLength"`
	MaxLength int       `yaml:"maxLength"`
	Unsigned  bool      `yaml:"unsigned"`
	Min       *float64  `yaml:"min"`
	Max       *float64  `yaml:"max"`
	Precision int       `yaml:"precision"`
	Members   []string  `yaml:"members"`
	Items     *fieldDoc `yaml:"items"`
	Length    int       `yaml:"length"`
}

func (d *fieldDoc) descriptor() tabfile.FieldDescriptor {
	fd := tabfile.FieldDescriptor{
		Name:      d.Name,
		Type:      tabfile.FieldType(d.Type),
		Nullable:  d.Nullable,
		MinLength: d.MinLength,
		MaxLength: d.MaxLength,
		Unsigned:  d.Unsigned,
		Min:       d.Min,
		Max:       d.Max,
		Precision: d.Precision,
		Members:   d.Members,
		Length:    d.Length,
	}
	if d.Items != nil {
		items := d.Items.descriptor()
		fd.Items = &items
	}
	return fd
}

func loadSchema(path string) (*tabfile.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc schemaDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	fields := make([]tabfile.FieldDescriptor, len(doc.Fields))
	for i, f := range doc.Fields {
		fields[i] = f.descriptor()
	}
	return tabfile.NewSchema(fields, tabfile.SchemaOptions{NoTimestamps: doc.Options.NoTimestamps})
}

// commonFlags holds the flags shared by every subcommand.
type commonFlags struct {
	key      string
	level    string
	compress bool
}

func (c *commonFlags) register(fs *flagSet) {
	fs.StringVar(&c.key, "key", "", "Encryption passphrase")
	fs.StringVar(&c.level, "log-level", "warn", "Log level (debug, info, warn, error)")
	fs.BoolVar(&c.compress, "compress", false, "Compress row payloads")
}

func (c *commonFlags) open(path string, schema *tabfile.Schema) (*tabfile.Table, error) {
	logger, err := newLogger(c.level)
	if err != nil {
		return nil, err
	}
	return tabfile.Open(tabfile.Options{
		Filepath:      path,
		EncryptionKey: c.key,
		Schema:        schema,
		Compression:   c.compress,
		Logger:        logger,
	})
}

func cmdCreate(args []string) error {
	fs := newFlagSet("create")
	var common commonFlags
	common.register(fs)
	schemaPath := fs.String("schema", "", "Schema definition YAML (required)")
	path, err := fs.parse(args)
	if err != nil {
		return err
	}
	if *schemaPath == "" {
		return fmt.Errorf("create needs -schema")
	}

	schema, err := loadSchema(*schemaPath)
	if err != nil {
		return err
	}
	tbl, err := common.open(path, schema)
	if err != nil {
		return err
	}
	defer tbl.Close()

	fmt.Printf("created %s with %d columns\n", path, tbl.Schema().Arity())
	return nil
}

func cmdInfo(args []string) error {
	fs := newFlagSet("info")
	var common commonFlags
	common.register(fs)
	path, err := fs.parse(args)
	if err != nil {
		return err
	}

	tbl, err := common.open(path, nil)
	if err != nil {
		return err
	}
	defer tbl.Close()

	rows, err := tbl.CountRows()
	if err != nil {
		return err
	}
	size, err := tbl.ByteLength()
	if err != nil {
		return err
	}
	fmt.Printf("rows:  %d\nbytes: %d\n", rows, size)
	fmt.Println("schema:")
	for _, fd := range tbl.Schema().Fields() {
		nullable := ""
		if fd.Nullable {
			nullable = " (nullable)"
		}
		fmt.Printf("  %-16s %s%s\n", fd.Name, fd.Type, nullable)
	}
	return nil
}

func cmdInsert(args []string) error {
	fs := newFlagSet("insert")
	var common commonFlags
	common.register(fs)
	values := fs.String("values", "", "Row values as a JSON object (required)")
	path, err := fs.parse(args)
	if err != nil {
		return err
	}
	if *values == "" {
		return fmt.Errorf("insert needs -values")
	}

	var row map[string]any
	if err := json.Unmarshal([]byte(*values), &row); err != nil {
		return fmt.Errorf("parse -values: %w", err)
	}

	tbl, err := common.open(path, nil)
	if err != nil {
		return err
	}
	defer tbl.Close()

	if err := tbl.Insert(row); err != nil {
		return err
	}
	if err := tbl.Flush(); err != nil {
		return err
	}
	n, err := tbl.CountRows()
	if err != nil {
		return err
	}
	fmt.Printf("inserted row %d\n", n-1)
	return nil
}

func cmdGet(args []string) error {
	fs := newFlagSet("get")
	var common commonFlags
	common.register(fs)
	index := fs.Int("row", 0, "Row index to read")
	path, err := fs.parse(args)
	if err != nil {
		return err
	}

	tbl, err := common.open(path, nil)
	if err != nil {
		return err
	}
	defer tbl.Close()

	row, err := tbl.ReadRow(*index)
	if err != nil {
		return err
	}
	for f := range row.Fields() {
		v := f.Value
		if ts, ok := v.(time.Time); ok {
			v = ts.Format(time.RFC3339)
		}
		fmt.Printf("%-16s %v\n", f.Name, v)
	}
	return nil
}
