package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jacktea/clipview/pkg/catalog"
	"github.com/jacktea/clipview/pkg/extract"
	"github.com/jacktea/clipview/pkg/server/httpapi"
	"github.com/jacktea/clipview/pkg/server/middleware"
	"github.com/jacktea/clipview/pkg/thumbstore"
	"github.com/jacktea/clipview/pkg/xerrors"
)

type app struct {
	catalog   *catalog.Catalog
	store     *thumbstore.Store
	extractor *extract.FFmpeg
}

func (a *app) ensure() error {
	if a.store != nil {
		return nil
	}
	a.extractor = extract.New(extract.Options{
		Binary:  viper.GetString("ffmpeg"),
		Seek:    viper.GetDuration("seek"),
		Timeout: viper.GetDuration("extract_timeout"),
	})
	store, err := buildStore(viper.GetString("thumb_dir"), viper.GetInt("capacity"), a.extractor)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	cat, err := catalog.New(viper.GetString("data_dir"), catalog.Options{})
	if err != nil {
		return fmt.Errorf("init catalog: %w", err)
	}
	a.store = store
	a.catalog = cat
	return nil
}

func buildStore(root string, capacity int, ext thumbstore.Extractor) (*thumbstore.Store, error) {
	if root == "" {
		return nil, errors.New("thumbnail directory is required")
	}
	return thumbstore.New(thumbstore.Config{
		Root:      root,
		Capacity:  capacity,
		Extractor: ext,
	})
}

// resolveIndexPath places the lookup index inside the thumbnail tree
// unless overridden. The dotfile name keeps it out of bucket accounting.
func resolveIndexPath(thumbDir, override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(thumbDir, ".index.db")
}

var (
	cfgFile     string
	application = &app{}
	rootCmd     = &cobra.Command{
		Use:           "clipview",
		Short:         "Browse recorded video clips and serve on-demand thumbnails",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.ensure()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	initRootFlags()
	rootCmd.AddCommand(
		newServeCmd(),
		newGenerateCmd(),
		newLookupCmd(),
		newPruneCmd(),
		newStatsCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("clipview")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "clipview"))
		}
	}
	viper.SetEnvPrefix("CLIPVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			fmt.Fprintf(os.Stderr, "read config: %v\n", err)
		}
	}
}

func bindConfig(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

func initRootFlags() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (TOML or YAML)")

	rootCmd.PersistentFlags().String("data-dir", "data", "recording data directory")
	rootCmd.PersistentFlags().String("thumb-dir", "thumbnail", "thumbnail store root")
	rootCmd.PersistentFlags().String("static-dir", "static", "static assets directory")
	rootCmd.PersistentFlags().Int("capacity", thumbstore.DefaultCapacity, "files per bucket before partitioning")
	rootCmd.PersistentFlags().Duration("seek", 5*time.Second, "seek offset for frame extraction")
	rootCmd.PersistentFlags().String("ffmpeg", "ffmpeg", "path to the ffmpeg binary")
	rootCmd.PersistentFlags().Duration("extract-timeout", 30*time.Second, "per-clip extraction timeout")
	rootCmd.PersistentFlags().String("index", "", "lookup index path (default <thumb-dir>/.index.db)")

	bindConfig("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	bindConfig("thumb_dir", rootCmd.PersistentFlags().Lookup("thumb-dir"))
	bindConfig("static_dir", rootCmd.PersistentFlags().Lookup("static-dir"))
	bindConfig("capacity", rootCmd.PersistentFlags().Lookup("capacity"))
	bindConfig("seek", rootCmd.PersistentFlags().Lookup("seek"))
	bindConfig("ffmpeg", rootCmd.PersistentFlags().Lookup("ffmpeg"))
	bindConfig("extract_timeout", rootCmd.PersistentFlags().Lookup("extract-timeout"))
	bindConfig("index", rootCmd.PersistentFlags().Lookup("index"))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the clip browser over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			if err := application.extractor.Check(ctx); err != nil {
				return fmt.Errorf("ffmpeg unavailable: %w", err)
			}
			opts := httpapi.Options{
				APIKey:     viper.GetString("serve.api_key"),
				LogRequest: viper.GetBool("serve.log_requests"),
			}
			if n := viper.GetInt("serve.rate_limit"); n > 0 {
				opts.RateLimit = middleware.RateLimitOptions{
					Requests: n,
					Window:   viper.GetDuration("serve.rate_window"),
				}
			}
			server := &httpapi.Server{
				DataDir:   viper.GetString("data_dir"),
				StaticDir: viper.GetString("static_dir"),
				Catalog:   application.catalog,
				Store:     application.store,
				Opts:      opts,
			}
			addr := viper.GetString("serve.listen")
			fmt.Fprintf(os.Stderr, "Serving clip browser on %s\n", addr)
			if err := server.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("listen", ":8080", "listen address")
	cmd.Flags().String("api-key", "", "require API key (X-API-Key or Bearer token)")
	cmd.Flags().Int("rate-limit", 0, "requests allowed per rate window (0 disables)")
	cmd.Flags().Duration("rate-window", time.Second, "rate limit window")
	cmd.Flags().Bool("log-requests", true, "log every request")
	bindConfig("serve.listen", cmd.Flags().Lookup("listen"))
	bindConfig("serve.api_key", cmd.Flags().Lookup("api-key"))
	bindConfig("serve.rate_limit", cmd.Flags().Lookup("rate-limit"))
	bindConfig("serve.rate_window", cmd.Flags().Lookup("rate-window"))
	bindConfig("serve.log_requests", cmd.Flags().Lookup("log-requests"))
	return cmd
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <clip>",
		Short: "Print the stored thumbnail path for a clip",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rel, ok := application.store.Lookup(args[0])
			if !ok {
				return xerrors.E(xerrors.KindNotFound, "lookup", args[0])
			}
			fmt.Println(rel)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print thumbnail store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := application.store.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("entries:   %d\n", stats.Entries)
			fmt.Printf("buckets:   %d\n", stats.Buckets)
			fmt.Printf("max depth: %d\n", stats.MaxDepth)
			return nil
		},
	}
}
