package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerosumquant/claude-extractor-core/pkg/config"
	"github.com/zerosumquant/claude-extractor-core/pkg/store"
)

func main() {
	var configPath, dbPath string

	root := &cobra.Command{
		Use:   "extractor-core-status",
		Short: "Reports indexed conversations with their message counts, character totals, and last update",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(configPath, dbPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to JSON config file (default: <home>/.claude/extractor-config.json)")
	root.Flags().StringVar(&dbPath, "db", "", "override database path")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runStatus(configPath, dbPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}

	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		fmt.Printf("Database: %s (not found)\n", cfg.DatabasePath)
		return nil
	}

	st, err := store.OpenReadOnly(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store read-only: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	hasIndex, err := st.HasAnyIndex(ctx)
	if err != nil {
		return fmt.Errorf("checking index: %w", err)
	}

	fmt.Printf("Database: %s\n", cfg.DatabasePath)
	if !hasIndex {
		fmt.Println("Index: not built yet")
		return nil
	}

	conversations, err := st.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}

	fmt.Printf("Conversations: %d\n", len(conversations))
	fmt.Println()
	fmt.Println("  Conversation                         Messages  Chars   Updated")
	fmt.Println("  ------------------------------------ --------- ------- -------------------")
	for _, c := range conversations {
		updated := time.Unix(c.UpdatedAt, 0).Format("2006-01-02 15:04:05")
		fmt.Printf("  %-38s %9d %7d %s\n", c.ID, c.MessageCount, c.TotalChars, updated)
	}

	return nil
}
