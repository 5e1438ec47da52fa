package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/justKMM/supply-chainer/pkg/archive"
)

// runVerifyCmd implements `supplychainer verify`.
//
// Checks an archived ledger bundle: format version, bundle seal, and every
// attestation chain. The bundle comes from a JSON file (--bundle) or from
// an SQL archive (--driver, --dsn, --id).
//
// Exit codes:
//
//	0 = verification passed
//	1 = verification failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bundlePath string
		driver     string
		dsn        string
		bundleID   string
		jsonOutput bool
	)

	cmd.StringVar(&bundlePath, "bundle", "", "Path to a bundle JSON file")
	cmd.StringVar(&driver, "driver", "", "Archive driver (sqlite|postgres)")
	cmd.StringVar(&dsn, "dsn", "", "Archive data source name")
	cmd.StringVar(&bundleID, "id", "", "Bundle ID to load from the archive")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON to stdout")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	b, source, err := loadBundle(bundlePath, driver, dsn, bundleID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report, err := archive.VerifyBundle(b)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: verification failed: %v\n", err)
		return 2
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		_, _ = fmt.Fprintln(stdout, string(data))
	} else {
		printReport(stdout, source, report)
	}

	if !report.Valid {
		return 1
	}
	return 0
}

func loadBundle(path, driver, dsn, id string) (*archive.Bundle, string, error) {
	switch {
	case path != "" && driver != "":
		return nil, "", fmt.Errorf("use either --bundle or --driver, not both")
	case path != "":
		b, err := archive.ReadFile(path)
		return b, path, err
	case driver != "":
		if dsn == "" || id == "" {
			return nil, "", fmt.Errorf("--driver needs --dsn and --id")
		}
		ctx := context.Background()
		store, err := archive.Open(ctx, driver, dsn)
		if err != nil {
			return nil, "", err
		}
		defer store.Close()
		b, err := store.Load(ctx, id)
		return b, driver + ":" + id, err
	default:
		return nil, "", fmt.Errorf("--bundle or --driver is required")
	}
}

func printReport(w io.Writer, source string, r archive.Report) {
	if r.Valid {
		_, _ = fmt.Fprintf(w, "%s✅ Bundle verification PASSED%s\n", ColorGreen, ColorReset)
	} else {
		_, _ = fmt.Fprintf(w, "%s❌ Bundle verification FAILED%s\n", ColorRed, ColorReset)
	}
	_, _ = fmt.Fprintf(w, "Bundle:       %s (%s)\n", r.BundleID, source)
	_, _ = fmt.Fprintf(w, "Version:      %s\n", r.Version)
	_, _ = fmt.Fprintf(w, "Chains:       %d\n", len(r.Chains))
	_, _ = fmt.Fprintf(w, "Attestations: %d\n", r.Attestations)
	if !r.BundleHashOK {
		_, _ = fmt.Fprintf(w, "  - bundle hash: expected %s, computed %s\n", r.ExpectedHash, r.ComputedHash)
	}
	for _, c := range r.Chains {
		for _, b := range c.Verification.Breaks {
			_, _ = fmt.Fprintf(w, "  - %s[%d] %s: %s\n", c.AgentID, b.Index, b.AttestationID, b.Reason)
		}
		for _, b := range c.LinkBreaks {
			_, _ = fmt.Fprintf(w, "  - %s[%d] %s: %s\n", c.AgentID, b.Index, b.AttestationID, b.Reason)
		}
	}
}
