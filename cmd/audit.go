package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	auditpkg "github.com/sells-group/compliance-cli/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a day's audit trail for integrity",
	Long:  "Re-reads an audit log file and checks that every run's records form a valid pipeline path with monotonic timestamps.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		day := time.Now()
		if dateStr, _ := cmd.Flags().GetString("date"); dateStr != "" {
			parsed, err := time.Parse("2006-01-02", dateStr)
			if err != nil {
				return eris.Wrapf(err, "parse date %q", dateStr)
			}
			day = parsed
		}

		n, violations, err := auditpkg.VerifyDay(cfg.Dirs.Logs, day)
		if err != nil {
			return eris.Wrap(err, "audit verify")
		}

		if n == 0 {
			fmt.Fprintf(os.Stderr, "No audit records for %s.\n", day.Format("2006-01-02"))
			return nil
		}

		fmt.Printf("Checked %d records in %s\n", n, auditpkg.DayFileName(day))
		if len(violations) == 0 {
			fmt.Println("OK: audit trail is consistent")
			return nil
		}

		for _, v := range violations {
			fmt.Printf("VIOLATION: %s\n", v)
		}
		return eris.Errorf("audit trail has %d violations", len(violations))
	},
}

func init() {
	auditVerifyCmd.Flags().String("date", "", "day to verify (YYYY-MM-DD, default today)")

	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}
