package main

import (
	"encoding/json"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sipico/freesub/internal/validation"
)

// fileResult is one entry of the --json output.
type fileResult struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func newValidateCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <request-file>...",
		Short: "Check subdomain request files against the domain policies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runValidate(cmd, args, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func (a *app) runValidate(cmd *cobra.Command, files []string, asJSON bool) error {
	existing, err := a.registered(cmd.Context())
	if err != nil {
		return err
	}
	engine := validation.NewEngine(a.policies)

	results := make([]fileResult, 0, len(files))
	failed := false
	for _, path := range files {
		fr := fileResult{File: path, Errors: []string{}, Warnings: []string{}}
		req, res, err := engine.ValidateFile(path, existing)
		switch {
		case err != nil:
			fr.Errors = append(fr.Errors, err.Error())
		default:
			fr.Valid = res.Valid
			fr.Errors = res.Errors
			fr.Warnings = res.Warnings
			a.logger.Info("request validated",
				"file", path,
				"subdomain", req.Subdomain+"."+req.Domain,
				"valid", res.Valid,
				"errors", len(res.Errors))
		}
		if !fr.Valid {
			failed = true
		}
		results = append(results, fr)
	}

	if asJSON {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, fr := range results {
			a.printResult(fr)
		}
	}

	if failed {
		return errFailed
	}
	return nil
}

func (a *app) printResult(fr fileResult) {
	status := "PASS"
	if !fr.Valid {
		status = "FAIL"
	}
	a.printf("%s %s\n", status, fr.File)
	for _, e := range fr.Errors {
		a.printf("  error: %s\n", e)
	}
	for _, w := range fr.Warnings {
		a.printf("  warning: %s\n", w)
	}
}

// reasons joins validation errors for a single-line error message.
func reasons(errs []string) string {
	return strings.Join(errs, "; ")
}
