package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	cache "github.com/krisalay/tiered-cache"
	"github.com/krisalay/tiered-cache/durable/disk"
	"github.com/krisalay/tiered-cache/durable/redisstore"
	"github.com/krisalay/tiered-cache/durable/sqlstore"
	"github.com/krisalay/tiered-cache/types"
)

var (
	setTTL    time.Duration
	setTags   []string
	setDomain string

	queryTag    string
	queryDomain string

	pruneOldest int
)

var getCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print the JSON value stored under KEY",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, ok := c.Get(cmd.Context(), args[0])
		if !ok {
			return fmt.Errorf("%s: not found", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(v))
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Store VALUE under KEY",
	Long: `Store VALUE under KEY.

VALUE is kept as-is when it is valid JSON and stored as a JSON string otherwise.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []cache.SetOption
		if setTTL > 0 {
			opts = append(opts, cache.WithTTL(setTTL))
		}
		if len(setTags) > 0 {
			opts = append(opts, cache.WithTags(setTags...))
		}
		if setDomain != "" {
			opts = append(opts, cache.WithDomain(setDomain))
		}
		if err := c.Set(cmd.Context(), args[0], rawValue(args[1]), opts...); err != nil {
			return err
		}
		return c.Flush(cmd.Context())
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete KEY",
	Aliases: []string{"del", "rm"},
	Short:   "Remove KEY from both tiers",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := c.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		return c.Flush(cmd.Context())
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every entry in the namespace",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := c.Clear(cmd.Context()); err != nil {
			return err
		}
		return c.Flush(cmd.Context())
	},
}

// fileItem is the preload file shape. TTL is a Go duration string.
type fileItem struct {
	Key      string          `json:"key"`
	Value    json.RawMessage `json:"value"`
	TTL      string          `json:"ttl,omitempty"`
	Tags     []string        `json:"tags,omitempty"`
	Domain   string          `json:"domain,omitempty"`
	Metadata types.Metadata  `json:"metadata,omitempty"`
}

var preloadCmd = &cobra.Command{
	Use:   "preload FILE",
	Short: "Load a JSON array of items into the cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		items, err := readItems(args[0])
		if err != nil {
			return err
		}
		if err := c.Preload(cmd.Context(), items); err != nil {
			return err
		}
		if err := c.Flush(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "preloaded %d entries\n", len(items))
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query [KEY...]",
	Short: "List memory-resident entries, optionally filtered by tag or domain",
	Long: `List memory-resident entries.

Only the memory tier is searched. Each KEY given is read first, which pulls it
up from the durable tier, so a fresh process can inspect stored entries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if queryTag != "" && queryDomain != "" {
			return errors.New("--tag and --domain are mutually exclusive")
		}
		for _, key := range args {
			c.Get(cmd.Context(), key)
		}
		var entries []types.CacheEntry[json.RawMessage]
		switch {
		case queryTag != "":
			entries = c.GetByTag(queryTag)
		case queryDomain != "":
			entries = c.GetByDomain(queryDomain)
		default:
			entries = c.Query(nil)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tWRITTEN\tTTL\tSIZE\tTAGS\tDOMAIN")
		for _, e := range entries {
			ttl := "never"
			if e.TTL > 0 {
				ttl = e.TTL.String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.Key,
				humanize.Time(e.Timestamp),
				ttl,
				humanize.IBytes(uint64(e.Size)),
				strings.Join(e.Metadata.Tags(), ","),
				e.Metadata.Domain(),
			)
		}
		return w.Flush()
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print memory tier statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s := c.Stats()
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "entries\t%s\n", humanize.Comma(int64(s.TotalEntries)))
		fmt.Fprintf(w, "size\t%s\n", humanize.IBytes(uint64(s.TotalSizeBytes)))
		fmt.Fprintf(w, "oldest\t%s\n", s.OldestEntryAge.Round(time.Millisecond))
		fmt.Fprintf(w, "newest\t%s\n", s.NewestEntryAge.Round(time.Millisecond))
		fmt.Fprintf(w, "hits\t%d\n", s.Hits)
		fmt.Fprintf(w, "misses\t%d\n", s.Misses)
		fmt.Fprintf(w, "evictions\t%d\n", s.Evictions)
		fmt.Fprintf(w, "hit rate\t%.1f%%\n", c.HitRate())
		fmt.Fprintf(w, "memory only\t%t\n", s.MemoryOnly)
		return w.Flush()
	},
}

func rawValue(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func readItems(path string) ([]cache.Item[json.RawMessage], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []fileItem
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	items := make([]cache.Item[json.RawMessage], 0, len(raw))
	for i, r := range raw {
		if r.Key == "" {
			return nil, fmt.Errorf("%s: item %d has no key", path, i)
		}
		item := cache.Item[json.RawMessage]{
			Key:      r.Key,
			Value:    r.Value,
			Metadata: r.Metadata.Clone(),
		}
		if r.TTL != "" {
			ttl, err := time.ParseDuration(r.TTL)
			if err != nil {
				return nil, fmt.Errorf("%s: item %q: %w", path, r.Key, err)
			}
			item.TTL = ttl
		}
		if len(r.Tags) > 0 {
			item.Metadata = item.Metadata.Merge(types.WithTags(r.Tags...))
		}
		if r.Domain != "" {
			item.Metadata = item.Metadata.Merge(types.WithDomain(r.Domain))
		}
		items = append(items, item)
	}
	return items, nil
}

func init() {
	setCmd.Flags().DurationVar(&setTTL, "ttl", 0, "time to live (0 = never expires)")
	setCmd.Flags().StringSliceVar(&setTags, "tag", nil, "tag to attach (repeatable)")
	setCmd.Flags().StringVar(&setDomain, "domain", "", "domain to attach")

	queryCmd.Flags().StringVar(&queryTag, "tag", "", "only entries carrying this tag")
	queryCmd.Flags().StringVar(&queryDomain, "domain", "", "only entries in this domain")

	pruneCmd.Flags().IntVar(&pruneOldest, "oldest", 0, "also delete the N oldest records")
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete expired records from the durable tier",
	Long: `Delete expired records from the durable tier.

Reads already skip expired records, so this only reclaims space. Supported by
the disk and postgres backends.

With --oldest N the N records with the oldest write time are deleted from both
tiers as well. That works with the disk, redis and postgres backends.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if c.MemoryOnly() {
			return errors.New("durable tier unavailable")
		}
		if pruneOldest > 0 {
			return pruneOldestRecords(cmd, pruneOldest)
		}
		var n int64
		switch s := store.(type) {
		case *disk.Store:
			n = int64(s.PurgeExpired(time.Now()))
		case *sqlstore.Store:
			var err error
			if n, err = s.PurgeExpired(cmd.Context(), time.Now()); err != nil {
				return err
			}
		default:
			return fmt.Errorf("backend %T does not support prune", store)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %s expired records\n", humanize.Comma(n))
		return nil
	},
}

func pruneOldestRecords(cmd *cobra.Command, n int) error {
	ctx := cmd.Context()

	var (
		keys []string
		err  error
	)
	switch s := store.(type) {
	case *disk.Store:
		keys = s.Oldest(n)
	case *redisstore.Store:
		keys, err = s.Oldest(ctx, int64(n))
	case *sqlstore.Store:
		keys, err = s.Oldest(ctx, n)
	default:
		return fmt.Errorf("backend %T does not support prune --oldest", store)
	}
	if err != nil {
		return err
	}

	// Through the cache so the memory tier drops them too.
	for _, key := range keys {
		if err := c.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := c.Flush(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "pruned %s oldest records\n", humanize.Comma(int64(len(keys))))
	return nil
}
