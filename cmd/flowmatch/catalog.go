package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/model"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the candidate work item catalog",
	}
	cmd.AddCommand(catalogImportCmd())
	cmd.AddCommand(catalogListCmd())
	cmd.AddCommand(catalogShowCmd())
	return cmd
}

// catalogFile is the JSON wire form of one candidate in an import file.
type catalogFile struct {
	Candidates []struct {
		ID          string  `json:"id"`
		Title       string  `json:"title"`
		Description string  `json:"description"`
		OwnerID     string  `json:"ownerId"`
		WindowStart string  `json:"windowStart"`
		WindowEnd   string  `json:"windowEnd"`
		Budget      float64 `json:"budget"`
	} `json:"candidates"`
}

func catalogImportCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "import <file.json>",
		Short: "Import candidate work items from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read catalog file: %w", err)
			}

			var file catalogFile
			if err := json.Unmarshal(data, &file); err != nil {
				return fmt.Errorf("failed to parse catalog file: %w", err)
			}
			if len(file.Candidates) == 0 {
				return fmt.Errorf("%w: catalog file contains no candidates", common.ErrEmptyCatalog)
			}

			candidates := make([]model.CandidateItem, 0, len(file.Candidates))
			for i, c := range file.Candidates {
				start, err := time.Parse("2006-01-02", c.WindowStart)
				if err != nil {
					return fmt.Errorf("candidate %d: invalid windowStart %q", i, c.WindowStart)
				}
				end, err := time.Parse("2006-01-02", c.WindowEnd)
				if err != nil {
					return fmt.Errorf("candidate %d: invalid windowEnd %q", i, c.WindowEnd)
				}
				item := model.CandidateItem{
					ID:          c.ID,
					Title:       c.Title,
					Description: c.Description,
					OwnerID:     c.OwnerID,
					WindowStart: start,
					WindowEnd:   end,
					Budget:      c.Budget,
				}
				if err := item.Validate(); err != nil {
					return fmt.Errorf("candidate %d: %w", i, err)
				}
				candidates = append(candidates, item)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			bar := progressbar.NewOptions(len(candidates),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Importing candidates..."),
			)

			for start := 0; start < len(candidates); start += batchSize {
				end := start + batchSize
				if end > len(candidates) {
					end = len(candidates)
				}
				if err := store.SaveCandidates(ctx, candidates[start:end]); err != nil {
					return fmt.Errorf("failed to save candidates: %w", err)
				}
				_ = bar.Add(end - start)
			}
			_ = bar.Finish()
			fmt.Fprintln(cmd.ErrOrStderr())

			cmd.Printf("Imported %d candidates\n", len(candidates))
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "candidates saved per transaction")
	return cmd
}

func catalogListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the candidate work items in the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			candidates, err := store.ListCandidates(ctx)
			if err != nil {
				return fmt.Errorf("failed to list candidates: %w", err)
			}
			if len(candidates) == 0 {
				cmd.Println("Catalog is empty")
				return nil
			}

			for _, c := range candidates {
				cmd.Printf("%-20s %-40s %s to %s  $%.2f\n",
					c.ID, c.Title,
					c.WindowStart.Format("2006-01-02"),
					c.WindowEnd.Format("2006-01-02"),
					c.Budget)
			}
			return nil
		},
	}
}

func catalogShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one candidate work item as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			item, err := store.GetCandidate(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to load candidate %q: %w", args[0], err)
			}

			out, err := json.MarshalIndent(item, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode candidate: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cmd.Println("Database is up to date")
			return nil
		},
	}
}
