package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/flowmatch/internal/agent"
	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/llm"
	"github.com/Veraticus/flowmatch/internal/match"
	"github.com/Veraticus/flowmatch/internal/model"
)

func matchCmd() *cobra.Command {
	var (
		merchant string
		date     string
		total    float64
		category string
		notes    string
		agentic  bool
	)

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match one receipt against the catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := slog.Default()

			parsedDate, err := time.Parse("2006-01-02", date)
			if err != nil {
				return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
			}
			receipt := model.ReceiptRecord{
				Merchant: merchant,
				Date:     parsedDate,
				Total:    total,
				Category: model.Category(category),
				Notes:    notes,
			}
			if err := receipt.Validate(); err != nil {
				return fmt.Errorf("invalid receipt: %w", err)
			}

			client, cfg, err := createLLMClient()
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			idx, err := buildIndex(ctx, client, store)
			if err != nil {
				return err
			}
			if idx.Len() == 0 {
				return common.NewUserError(
					"catalog is empty; run 'flowmatch catalog import' first",
					common.ErrEmptyCatalog)
			}

			adjudicator := llm.NewAdjudicatorWithClient(client, cfg, logger)
			defer func() { _ = adjudicator.Close() }()

			var result model.MatchResult
			if agentic {
				orchestrator := agent.New(adjudicator, idx, logger)
				events := make(chan model.PipelineEvent)
				done := make(chan error, 1)
				go func() {
					var runErr error
					result, runErr = orchestrator.Run(ctx, receipt, events)
					done <- runErr
				}()
				for event := range events {
					line, _ := json.Marshal(event)
					fmt.Fprintln(cmd.ErrOrStderr(), string(line))
				}
				// A run truncated by the tool-call cap still carries a
				// null result worth printing.
				if err := <-done; err != nil && !errors.Is(err, common.ErrStepBudgetExceeded) {
					return fmt.Errorf("agentic match failed: %w", err)
				}
			} else {
				pipeline := match.New(idx, adjudicator, logger)
				result, err = pipeline.Match(ctx, receipt)
				if err != nil {
					return fmt.Errorf("match failed: %w", err)
				}
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode result: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&merchant, "merchant", "", "merchant name (required)")
	cmd.Flags().StringVar(&date, "date", "", "transaction date, YYYY-MM-DD (required)")
	cmd.Flags().Float64Var(&total, "total", 0, "total amount (required)")
	cmd.Flags().StringVar(&category, "category", "other", "category (food, retail, office, travel, entertainment, other)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-text notes")
	cmd.Flags().BoolVar(&agentic, "agent", false, "let the model sequence the tools itself")
	_ = cmd.MarkFlagRequired("merchant")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("total")

	return cmd
}
