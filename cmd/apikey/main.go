// Command apikey issues a bearer key for a job owner. The raw key is printed
// once; only its bcrypt hash is stored.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	mw "github.com/kiranshivaraju/clipforge/internal/api/middleware"
	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/store"
)

type options struct {
	owner      string
	name       string
	scopes     string
	migrations string
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	var opts options
	flag.StringVar(&opts.owner, "owner", "", "owner id the key acts as (required)")
	flag.StringVar(&opts.name, "name", "", "human readable label")
	flag.StringVar(&opts.scopes, "scopes", "", "comma separated scopes, e.g. admin")
	flag.StringVar(&opts.migrations, "migrations", "migrations", "postgres migrations directory")
	flag.Parse()

	if err := run(opts, os.Stdout); err != nil {
		slog.Error("issue api key", "error", err)
		os.Exit(1)
	}
}

func run(opts options, out io.Writer) error {
	if opts.owner == "" {
		return fmt.Errorf("-owner is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, closeStore, err := store.Open(ctx, cfg.Database, opts.migrations)
	if err != nil {
		return err
	}
	defer closeStore()

	raw, key, err := mw.IssueKey(opts.owner, opts.name, parseScopes(opts.scopes))
	if err != nil {
		return err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}

	slog.Info("api key issued", "owner_id", key.OwnerID, "key_prefix", key.KeyPrefix, "scopes", key.Scopes)
	_, err = fmt.Fprintln(out, raw)
	return err
}

func parseScopes(s string) []string {
	scopes := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			scopes = append(scopes, p)
		}
	}
	return scopes
}
