package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/walker"
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

// walkFlags are the walk options shared by every command that walks a tree.
type walkFlags struct {
	respectDistignore   bool
	respectNestedIgnore bool
	includeDependencies bool
	concurrency         int
	selectPatterns      []string
}

func (f *walkFlags) register(flags *pflag.FlagSet) {
	defaults := walker.DefaultOptions()
	flags.BoolVar(&f.respectDistignore, "respect-distignore", defaults.RespectDistignore, "consult .distignore before .npmignore and .gitignore")
	flags.BoolVar(&f.respectNestedIgnore, "respect-nested-ignore", defaults.RespectNestedIgnore, "consult .gitignore in subdirectories")
	flags.BoolVar(&f.includeDependencies, "include-dependencies", defaults.IncludeDependencies, "keep node_modules rules out of the ignore set")
	flags.IntVar(&f.concurrency, "concurrency", defaults.Concurrency, "maximum in-flight filesystem operations")
	flags.StringArrayVar(&f.selectPatterns, "select", nil, "only keep entries matching this glob (repeatable)")
}

func (f *walkFlags) options() walker.Options {
	opts := walker.Options{Concurrency: f.concurrency}
	opts.RespectDistignore = f.respectDistignore
	opts.RespectNestedIgnore = f.respectNestedIgnore
	opts.IncludeDependencies = f.includeDependencies
	return opts
}

func newWalkCmd() *cobra.Command {
	f := &walkFlags{}
	var (
		format    string
		statsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "walk [dir]",
		Short: "print the manifest of a package directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			if format != formatJSON && format != formatYAML {
				return fmt.Errorf("unsupported format %q (must be %s or %s)", format, formatJSON, formatYAML)
			}

			log.Println("walking", root)
			doc, err := manifest.Build(cmd.Context(), root, f.options(), f.selectPatterns, time.Now())
			if err != nil {
				return errors.Join(fmt.Errorf("failed to walk %s", root), err)
			}
			log.Printf("%d entries, %d of %d files ignored", len(doc.Entries), doc.Stats.IgnoredFiles, doc.Stats.TotalFiles)

			out, err := encode(doc, format, statsOnly)
			if err != nil {
				return errors.Join(errors.New("failed to encode manifest"), err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", formatJSON, "output format: json or yaml")
	cmd.Flags().BoolVar(&statsOnly, "stats", false, "print only the walk statistics")

	return cmd
}

func encode(doc *manifest.Document, format string, statsOnly bool) ([]byte, error) {
	switch {
	case statsOnly && format == formatYAML:
		return yaml.Marshal(doc.Stats)
	case statsOnly:
		return indentJSON(doc.Stats)
	case format == formatYAML:
		return manifest.MarshalYAML(doc)
	default:
		return indentJSON(doc)
	}
}

func indentJSON(v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
