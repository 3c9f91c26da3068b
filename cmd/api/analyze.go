package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ewilliams-labs/cadence/internal/core/domain"
	"github.com/ewilliams-labs/cadence/internal/core/ports"
	"github.com/ewilliams-labs/cadence/internal/core/services"
)

type analyzeFlags struct {
	sampleRate  int
	language    string
	constraints string
}

func newAnalyzeCmd(flags *rootFlags) *cobra.Command {
	af := &analyzeFlags{}
	cmd := &cobra.Command{
		Use:   "analyze <file|reference>",
		Short: "Analyze one recording and print the result as JSON",
		Long: "Analyze a local audio file, or any reference the server accepts (store key,\n" +
			"http(s) URL, s3:// object) when the argument is not an existing file.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := flags.load()
			if err != nil {
				return err
			}

			var constraints domain.Constraints
			if af.constraints != "" {
				if err := json.Unmarshal([]byte(af.constraints), &constraints); err != nil {
					return fmt.Errorf("--constraints: %w", err)
				}
			}

			var retriever ports.AudioRetriever
			if st, err := os.Stat(args[0]); err == nil && !st.IsDir() {
				path := args[0]
				retriever = ports.RetrieverFunc(func(context.Context, domain.RecordingReference) ([]byte, error) {
					data, err := os.ReadFile(path)
					if err != nil {
						return nil, fmt.Errorf("read %s: %w: %w", path, domain.ErrRetrievalFailed, err)
					}
					return data, nil
				})
			}

			a, err := wire(cfg, log, retriever)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.orch.Analyze(cmd.Context(), services.Request{
				Reference:   domain.RecordingReference(args[0]),
				Hints:       domain.AudioHints{SampleRate: af.sampleRate, Language: af.language},
				Constraints: constraints,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err != nil {
				var ae *domain.AnalysisError
				if errors.As(err, &ae) {
					_ = enc.Encode(ae)
				}
				return err
			}
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&af.sampleRate, "sample-rate", 0, "sample rate hint in Hz")
	cmd.Flags().StringVar(&af.language, "language", "", "language hint passed to the transcriber")
	cmd.Flags().StringVar(&af.constraints, "constraints", "", `exercise constraints as JSON, e.g. '{"max_fillers":3}'`)
	return cmd
}
