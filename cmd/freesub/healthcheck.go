package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipico/freesub/internal/drift"
	"github.com/sipico/freesub/internal/reconcile"
)

const probeTimeout = 5 * time.Second

type healthCheckOptions struct {
	repair bool
	probe  bool
	json   bool
}

func newHealthCheckCmd(a *app) *cobra.Command {
	var opts healthCheckOptions
	cmd := &cobra.Command{
		Use:   "health-check [domain] [subdomain]",
		Short: "Compare the record store with the provider and report drift",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter drift.Filter
			if len(args) > 0 {
				filter.Domain = strings.ToLower(args[0])
			}
			if len(args) > 1 {
				filter.Label = strings.ToLower(args[1])
			}
			return a.runHealthCheck(cmd, filter, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.repair, "repair", false, "re-create missing records and overwrite mismatched ones")
	flags.BoolVar(&opts.probe, "probe", false, "also resolve each record through the configured DNS resolver and try to reach A/AAAA names over HTTP")
	flags.BoolVar(&opts.json, "json", false, "print the report as JSON")
	return cmd
}

func (a *app) runHealthCheck(cmd *cobra.Command, filter drift.Filter, opts healthCheckOptions) error {
	ctx := cmd.Context()
	client, err := a.verifiedClient(ctx)
	if err != nil {
		return err
	}

	var detectorOpts []drift.Option
	if opts.probe {
		resolver := drift.NewResolver(a.cfg.DNSResolver, probeTimeout,
			drift.WithHTTPCheck(&http.Client{Timeout: probeTimeout}))
		detectorOpts = append(detectorOpts, drift.WithProber(resolver))
	}
	detector := drift.NewDetector(client, a.store, a.policies, a.logger, detectorOpts...)

	report, err := detector.Check(ctx, filter)
	if err != nil {
		return err
	}

	if opts.repair && !report.InSync() {
		deployer := reconcile.NewDeployer(client, a.store, a.policies, a.logger)
		if rerr := detector.Repair(ctx, report, deployer); rerr != nil {
			a.logger.Error("repair incomplete", "error", rerr)
		}
		if !opts.json {
			a.printReport(report, false)
		}

		report, err = detector.Check(ctx, filter)
		if err != nil {
			return err
		}
		if !opts.json {
			a.printf("after repair:\n")
		}
	}
	a.printReport(report, opts.json)

	if !report.InSync() {
		return errFailed
	}
	return nil
}

func (a *app) printReport(report *drift.Report, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		//nolint:errcheck
		enc.Encode(report)
		return
	}

	for _, f := range report.Findings {
		a.printf("%-18s %s\n", f.Status, f.Name)
		for _, d := range f.Diffs {
			a.printf("  diff: %s\n", d)
		}
		if f.Error != "" {
			a.printf("  error: %s\n", f.Error)
		}
		for _, n := range f.Notes {
			a.printf("  note: %s\n", n)
		}
		if f.Repaired {
			a.printf("  repaired\n")
		}
		if f.RepairError != "" {
			a.printf("  repair failed: %s\n", f.RepairError)
		}
	}

	counts := report.Counts()
	a.printf("%d in sync, %d missing, %d mismatched, %d orphaned, %d failed\n",
		counts[drift.StatusInSync],
		counts[drift.StatusMissingRemotely],
		counts[drift.StatusValueMismatch],
		counts[drift.StatusOrphanedRemotely],
		counts[drift.StatusCheckFailed])
}
