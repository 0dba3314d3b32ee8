package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ammar0144/entity4go/internal/scenarios"
)

var (
	verifyURL     string
	verifyNoColor bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Run the save scenarios against a running data service",
	Long: `Run the Northwind save scenarios against a running data service. The
service must have reset enabled; it is reset after every scenario.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		url := cfg.Client.URL
		if verifyURL != "" {
			url = verifyURL
		}
		if verifyNoColor {
			color.NoColor = true
		}

		env := scenarios.NewHTTPEnv(url, cfg.Server.ServiceName, logger)
		results := scenarios.Run(cmd.Context(), env, scenarios.Northwind())

		if failed := report(cmd.OutOrStdout(), results); failed > 0 {
			return fmt.Errorf("%d of %d scenarios failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyURL, "url", "", "service base URL (overrides client.url)")
	verifyCmd.Flags().BoolVar(&verifyNoColor, "no-color", false, "disable colored output")
}

var (
	passColor = color.New(color.FgGreen)
	failColor = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// report prints one line per scenario and returns the number of failures
func report(w io.Writer, results []scenarios.Result) int {
	failed := 0
	for _, r := range results {
		if r.Passed() {
			passColor.Fprint(w, "PASS ")
		} else {
			failed++
			failColor.Fprint(w, "FAIL ")
		}
		fmt.Fprintf(w, "%s ", r.Name)
		dimColor.Fprintf(w, "(%d/%d, %s)\n", r.Assertions, r.Expected, r.Duration.Round(time.Millisecond))
		for _, f := range r.Failures {
			fmt.Fprintf(w, "    %s\n", f)
		}
	}

	summary := fmt.Sprintf("%d passed, %d failed", len(results)-failed, failed)
	if failed > 0 {
		failColor.Fprintln(w, summary)
	} else {
		passColor.Fprintln(w, summary)
	}
	return failed
}
