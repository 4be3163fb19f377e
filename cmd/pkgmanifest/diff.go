package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/manifest"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/planformat"
)

func newDiffCmd() *cobra.Command {
	f := &walkFlags{}
	var summary bool

	cmd := &cobra.Command{
		Use:   "diff <old> <new>",
		Short: "compare two manifests",
		Long: "Compare two manifests. Each argument is either a manifest file " +
			"(.json, .yaml or .yml) or a package directory, which is walked first.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			oldDoc, err := loadDocument(cmd.Context(), args[0], f)
			if err != nil {
				return errors.Join(fmt.Errorf("failed to load %s", args[0]), err)
			}
			newDoc, err := loadDocument(cmd.Context(), args[1], f)
			if err != nil {
				return errors.Join(fmt.Errorf("failed to load %s", args[1]), err)
			}

			p := &planformat.Plan{
				Name:           args[1],
				RootPath:       newDoc.RootPath,
				OldFingerprint: oldDoc.Fingerprint,
				NewFingerprint: newDoc.Fingerprint,
				Changes:        planformat.Diff(oldDoc.Entries, newDoc.Entries),
			}
			if summary {
				fmt.Fprintln(cmd.OutOrStdout(), planformat.FormatSummary(p))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), planformat.Format(p))
			return nil
		},
	}

	f.register(cmd.Flags())
	cmd.Flags().BoolVar(&summary, "summary", false, "print a single summary line")

	return cmd
}

// loadDocument reads a manifest file, or walks path when it is a directory.
func loadDocument(ctx context.Context, path string, f *walkFlags) (*manifest.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		log.Println("walking", path)
		return manifest.Build(ctx, path, f.options(), f.selectPatterns, time.Time{})
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc *manifest.Document
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		doc, err = manifest.UnmarshalYAML(data)
	default:
		doc, err = manifest.Unmarshal(data)
	}
	if err != nil {
		return nil, err
	}
	// Stored fingerprints cover the stored entries, so selecting a subset
	// needs a fresh one.
	if len(f.selectPatterns) > 0 {
		entries, err := manifest.Select(doc.Entries, f.selectPatterns)
		if err != nil {
			return nil, err
		}
		doc = manifest.New(doc.RootPath, entries, doc.Stats, time.Time{})
	}
	return doc, nil
}
