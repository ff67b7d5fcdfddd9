// Command assocctl checks the associations of a YAML schema and reports the
// ones that would be dropped.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/mickamy/ormassoc/schema"
	"github.com/mickamy/ormassoc/store"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("assocctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	schemaPath := fs.String("schema", "", "schema YAML file (required)")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintln(stdout, "assocctl", version)
		return 0
	}
	if *schemaPath == "" {
		_, _ = fmt.Fprintln(stderr, "-schema flag is required")
		return 2
	}

	s, err := schema.LoadFile(*schemaPath)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load: %v\n", err)
		return 1
	}
	types, err := s.Build(schema.Registry{})
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build: %v\n", err)
		return 1
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	slices.Sort(names)

	dropped := 0
	for _, name := range names {
		valid, errs := types[name].Check()
		labels := make([]string, len(valid))
		for i, d := range valid {
			labels[i] = fmt.Sprintf("%s (%s)", d.ForeignName, d.Type)
		}
		_, _ = fmt.Fprintf(stdout, "%s [%s]: %s\n", name, store.TableFor(name).Name, strings.Join(labels, ", "))
		for _, err := range errs {
			_, _ = fmt.Fprintf(stdout, "  dropped: %v\n", err)
		}
		dropped += len(errs)
	}

	if dropped > 0 {
		_, _ = fmt.Fprintf(stderr, "assocctl: %d association(s) dropped\n", dropped)
		return 1
	}
	return 0
}
