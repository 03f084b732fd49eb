package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/medpanel/provider-geocoder/internal/enrich"
	"github.com/medpanel/provider-geocoder/internal/panel"
	"github.com/medpanel/provider-geocoder/internal/store"
)

var summaryOutput string

var summaryCmd = &cobra.Command{
	Use:   "summary <panel.xlsx>",
	Short: "Write the county distribution report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("summary"); err != nil {
			return err
		}
		return runSummary(cmd.Context(), args[0])
	},
}

func init() {
	summaryCmd.Flags().StringVar(&summaryOutput, "output", "", "markdown path (stdout when empty)")
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(ctx context.Context, input string) error {
	p, err := panel.Load(input)
	if err != nil {
		return err
	}

	st, err := initStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	recs, err := loadAllRecords(ctx, st, store.Filter{})
	if err != nil {
		return err
	}

	if summaryOutput != "" {
		if err := writeSummaryFile(summaryOutput, p.Records, recordsByID(recs)); err != nil {
			return err
		}
		zap.L().Info("summary written", zap.String("path", summaryOutput))
		return nil
	}
	return enrich.WriteSummaryMarkdown(os.Stdout, enrich.CountySummary(p.Records, recordsByID(recs), nil))
}
