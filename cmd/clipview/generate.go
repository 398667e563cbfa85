package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacktea/clipview/pkg/index"
	"github.com/jacktea/clipview/pkg/thumbstore"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Pre-generate thumbnails for recorded clips",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if err := application.extractor.Check(ctx); err != nil {
				return fmt.Errorf("ffmpeg unavailable: %w", err)
			}
			return runGenerate(ctx, generateOptions{
				Date:      viper.GetString("generate.date"),
				ByContent: viper.GetBool("generate.by_content"),
				Verbose:   viper.GetBool("generate.verbose"),
			})
		},
	}
	cmd.Flags().String("date", "", "restrict to one recording date (default all)")
	cmd.Flags().Bool("by-content", false, "address thumbnails by frame content instead of clip name")
	cmd.Flags().BoolP("verbose", "v", false, "print one line per clip")
	bindConfig("generate.date", cmd.Flags().Lookup("date"))
	bindConfig("generate.by_content", cmd.Flags().Lookup("by-content"))
	bindConfig("generate.verbose", cmd.Flags().Lookup("verbose"))
	return cmd
}

type generateOptions struct {
	Date      string
	ByContent bool
	Verbose   bool
}

func runGenerate(ctx context.Context, opts generateOptions) error {
	dataDir := viper.GetString("data_dir")
	var idx *index.Store
	if opts.ByContent {
		store, err := index.Open(index.Config{
			Path: resolveIndexPath(viper.GetString("thumb_dir"), viper.GetString("index")),
		})
		if err != nil {
			return err
		}
		defer store.Close()
		idx = store
	}

	dates := []string{opts.Date}
	if opts.Date == "" {
		var err error
		dates, err = application.catalog.Dates()
		if err != nil {
			return err
		}
	}

	var processed, skipped, failed int
	for _, date := range dates {
		videos, err := application.catalog.Videos(date)
		if err != nil {
			return err
		}
		for _, name := range videos {
			if err := ctx.Err(); err != nil {
				return err
			}
			source := filepath.Join(dataDir, filepath.FromSlash(name))
			rel, err := generateOne(ctx, idx, name, source, opts.ByContent)
			switch {
			case err == errAlreadyExists:
				skipped++
			case err != nil:
				failed++
				if opts.Verbose {
					fmt.Printf("  failed %s: %v\n", name, err)
				}
			default:
				processed++
				if opts.Verbose {
					fmt.Printf("  %s -> %s\n", name, rel)
				}
			}
		}
	}

	fmt.Printf("processed: %d\nskipped:   %d\nfailed:    %d\n", processed, skipped, failed)
	return nil
}

var errAlreadyExists = errors.New("already exists")

func generateOne(ctx context.Context, idx *index.Store, name, source string, byContent bool) (string, error) {
	if !byContent {
		if _, ok := application.store.Lookup(name); ok {
			return "", errAlreadyExists
		}
		return application.store.GetOrCreate(ctx, name, source)
	}

	info, err := os.Stat(source)
	if err != nil {
		return "", err
	}
	if digest, ok := idx.Current(ctx, name, info); ok {
		if _, found := application.store.LookupDigest(digest); found {
			return "", errAlreadyExists
		}
	}

	// Render first, then address by the frame's own bytes: identical
	// clips under different names share one entry. Staging inside the
	// store root keeps the final rename on one filesystem.
	tmp, err := os.CreateTemp(application.store.Root(), ".render-*.jpg")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	tmp.Close()
	os.Remove(tmpName)
	if err := application.extractor.Extract(ctx, source, tmpName); err != nil {
		return "", err
	}
	defer os.Remove(tmpName)

	digest, err := thumbstore.DigestFile(tmpName)
	if err != nil {
		return "", err
	}
	rel, err := application.store.Insert(ctx, digest, tmpName)
	if err != nil {
		return "", err
	}
	if err := idx.Put(ctx, name, index.Record{
		Digest: digest,
		MTime:  info.ModTime().UnixNano(),
		Size:   info.Size(),
	}); err != nil {
		return "", err
	}
	return rel, nil
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Drop lookup index records for deleted clips",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			store, err := index.Open(index.Config{
				Path: resolveIndexPath(viper.GetString("thumb_dir"), viper.GetString("index")),
			})
			if err != nil {
				return err
			}
			defer store.Close()
			removed, err := store.Prune(ctx, viper.GetString("data_dir"))
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d records\n", removed)
			return nil
		},
	}
}
