package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	auditpkg "github.com/sells-group/compliance-cli/internal/audit"
	"github.com/sells-group/compliance-cli/internal/collector"
	"github.com/sells-group/compliance-cli/internal/extractor"
	"github.com/sells-group/compliance-cli/internal/model"
	"github.com/sells-group/compliance-cli/internal/pipeline"
	anthropicpkg "github.com/sells-group/compliance-cli/pkg/anthropic"
)

var runCmd = &cobra.Command{
	Use:   "run [url]",
	Short: "Run the extraction pipeline for a single website",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}

		url, err := resolveURL(args, cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		al, err := auditpkg.Open(cfg.Dirs.Logs)
		if err != nil {
			return err
		}
		defer al.Close()

		anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)
		ext := extractor.New(anthropicClient, cfg.Anthropic)

		p := pipeline.New(buildCollector(), ext, st, al, cfg.Dirs, cfg.Pipeline.MaxRetries)

		runID := uuid.New().String()
		state, runErr := p.Run(ctx, runID, url)

		printSummary(cmd.OutOrStdout(), state)

		if runErr != nil {
			zap.L().Error("run failed", zap.String("run_id", runID), zap.Error(runErr))
			return runErr
		}
		return nil
	},
}

// buildCollector assembles the evidence collector chain: headless browser
// first for JS-rendered pages, plain HTTP as fallback.
func buildCollector() collector.Collector {
	httpCollector := collector.NewHTTPCollector(cfg.Collector)
	if cfg.Collector.DisableBrowser {
		return httpCollector
	}
	return collector.NewChain(
		collector.NewBrowserCollector(cfg.Collector),
		httpCollector,
	)
}

// resolveURL takes the URL from the positional argument or prompts for it,
// and defaults the scheme to https when none is given.
func resolveURL(args []string, in io.Reader, out io.Writer) (string, error) {
	var raw string
	if len(args) > 0 {
		raw = args[0]
	} else {
		fmt.Fprint(out, "Website URL: ")
		scanner := bufio.NewScanner(in)
		if !scanner.Scan() {
			return "", eris.New("no URL provided")
		}
		raw = scanner.Text()
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", eris.New("no URL provided")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return raw, nil
}

func printSummary(out io.Writer, s *model.RunState) {
	fmt.Fprintf(out, "\nRun %s: %s\n", s.RunID, s.FinalStatus)
	fmt.Fprintf(out, "Fields extracted: %d/%d\n", s.FieldsFound(), len(model.FieldOrder))
	if s.RetryCount > 0 {
		fmt.Fprintf(out, "Retry attempts: %d\n", s.RetryCount)
	}
	if len(s.MissingFields) > 0 {
		fmt.Fprintf(out, "Missing fields: %s\n", strings.Join(s.MissingFields, ", "))
	}
	if s.Err != nil {
		fmt.Fprintf(out, "Failed step: %s (%s)\n", s.Err.Kind, s.Err.Message)
	}
	if s.EvidencePath != "" {
		fmt.Fprintf(out, "Evidence: %s\n", s.EvidencePath)
	}
	if s.ReportPath != "" {
		fmt.Fprintf(out, "Report: %s\n", s.ReportPath)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
}
