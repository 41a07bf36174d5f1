// Command cachectl drives a configured tiered cache from the shell.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	cache "github.com/krisalay/tiered-cache"
	"github.com/krisalay/tiered-cache/backend"
	"github.com/krisalay/tiered-cache/codec"
	"github.com/krisalay/tiered-cache/config"
	"github.com/krisalay/tiered-cache/types"
)

var (
	configFile string
	backendArg string
	namespace  string

	logger *logrus.Logger
	store  types.DurableStore
	c      *cache.TieredCache[json.RawMessage]

	rootCmd = &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and modify a tiered cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,

		PersistentPreRunE:  openCache,
		PersistentPostRunE: closeCache,
	}
)

func openCache(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if backendArg != "" {
		cfg.Backend = backendArg
	}
	if namespace != "" {
		cfg.Namespace = namespace
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger = cfg.NewLogger()
	logger.SetOutput(os.Stderr)

	store, err = backend.New(cfg, logger)
	if err != nil {
		return err
	}
	cacheCfg, err := cfg.CacheConfig(logger, nil)
	if err != nil {
		return err
	}
	valueCodec, err := newCodec(cfg)
	if err != nil {
		return err
	}
	c, err = cache.New[json.RawMessage](cacheCfg, store, valueCodec)
	if err != nil {
		return err
	}
	// Open failures degrade to memory-only; the cache logs them.
	_ = c.Initialize(cmd.Context())
	return nil
}

func newCodec(cfg *config.Config) (codec.Codec[json.RawMessage], error) {
	var plain codec.Codec[json.RawMessage] = codec.JSON[json.RawMessage]{}
	if cfg.Codec.Compression == 0 {
		return plain, nil
	}
	z, err := codec.NewZstd(plain, cfg.Codec.Compression)
	if err != nil {
		return nil, err
	}
	return z, nil
}

func closeCache(_ *cobra.Command, _ []string) error {
	if c == nil {
		return nil
	}
	return c.Close()
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "cachectl:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: tiercache.yaml in the user config dir)")
	rootCmd.PersistentFlags().StringVarP(&backendArg, "backend", "b", "", "durable backend: none, memory, disk, redis or postgres")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "cache namespace")

	rootCmd.AddCommand(getCmd, setCmd, deleteCmd, clearCmd, preloadCmd, queryCmd, statsCmd, pruneCmd)
}
