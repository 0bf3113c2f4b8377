package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrWong99/voxtutor/internal/config"
	"github.com/MrWong99/voxtutor/internal/evaluation"
	"github.com/MrWong99/voxtutor/internal/match"
	"github.com/MrWong99/voxtutor/pkg/types"
)

func newMatchCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <expected> <transcript>...",
		Short: "Classify transcripts against an expected answer",
		Long: `match scores every transcript against the expected answer with the
configured thresholds and prints the decision the server would take. The last
line shows the best candidate when all transcripts are treated as the
alternatives of one utterance.

Thresholds come from the matching section of --config when the flag is given,
otherwise from the built-in defaults.`,
		Example: `  voxtutor match banana banana "a banana" bananna cucumber`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := config.Default().Matching
			if cmd.Flags().Changed("config") {
				cfg, err := config.Load(*cfgPath)
				if err != nil {
					return err
				}
				m = cfg.Matching
			}
			return printMatches(cmd.OutOrStdout(), m, args[0], args[1:])
		},
	}
	return cmd
}

func printMatches(out io.Writer, m config.MatchingConfig, expected string, transcripts []string) error {
	classifier := match.New(
		match.WithCloseThreshold(m.CloseThreshold),
		match.WithPartialConfidence(m.PartialConfidence),
	)
	tiers := evaluation.Tiers{AutoAccept: m.AutoAccept, Confirm: m.Confirm}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRANSCRIPT\tMATCH\tCONFIDENCE\tDECISION")
	alts := make([]types.Alternative, 0, len(transcripts))
	for _, t := range transcripts {
		r := classifier.MatchWord(t, expected)
		fmt.Fprintf(tw, "%q\t%s\t%.2f\t%s\n", t, r.MatchType, r.Confidence, tiers.Decide(r))
		alts = append(alts, types.Alternative{Transcript: t})
	}

	best := classifier.Best(alts, expected)
	fmt.Fprintf(tw, "best: %q\t%s\t%.2f\t%s\n", best.Transcript, best.MatchType, best.Confidence, tiers.Decide(best))
	return tw.Flush()
}
