package main

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/decision"
	"github.com/WatchDogStudios/CassandraNet/contentmod/internal/moderation"
)

type classifyOutput struct {
	Category   moderation.Category `json:"category"`
	Confidence float64             `json:"confidence"`
	Reasons    []string            `json:"reasons"`
	Source     string              `json:"source"`
	Flagged    bool                `json:"flagged"`
	Status     moderation.Status   `json:"status"`
	Rule       moderation.Rule     `json:"rule"`
}

func newClassifyCommand(ctx *commandContext) *cobra.Command {
	var title, text, kind string
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify a single piece of text and print the decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger("classify")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			item := moderation.ContentItem{
				ContentID: uuid.NewString(),
				Type:      kind,
				Title:     title,
				Text:      text,
				Timestamp: time.Now().UTC(),
			}
			classification := newClassifier(cfg, logger.Named("classifier")).Classify(cmd.Context(), item)
			verdict := decision.NewEngine(decision.NewRuleSet(cfg.Rules)).Decide(classification)
			logger.Debug("classified", zap.String("source", classification.Source))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(classifyOutput{
				Category:   classification.Category,
				Confidence: classification.Confidence,
				Reasons:    classification.Reasons,
				Source:     classification.Source,
				Flagged:    verdict.Flagged,
				Status:     verdict.Status,
				Rule:       verdict.Rule,
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Content title")
	cmd.Flags().StringVar(&text, "text", "", "Content text")
	cmd.Flags().StringVar(&kind, "type", "post", "Content type")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}
