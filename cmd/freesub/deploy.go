package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sipico/freesub/internal/reconcile"
	"github.com/sipico/freesub/internal/record"
	"github.com/sipico/freesub/internal/storage"
	"github.com/sipico/freesub/internal/validation"
)

var errNotRegistered = errors.New("subdomain is not registered")

func newDeployCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "deploy <create|update|delete> <request-file>",
		Short:     "Apply a subdomain request to the DNS provider and the record store",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"create", "update", "delete"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runDeploy(cmd, args[0], args[1])
		},
	}
	return cmd
}

func (a *app) runDeploy(cmd *cobra.Command, action, path string) error {
	switch action {
	case "create", "update", "delete":
	default:
		return fmt.Errorf("unknown deploy action %q (want create, update or delete)", action)
	}
	ctx := cmd.Context()

	req, err := validation.LoadRequestFile(path)
	if err != nil {
		return err
	}
	key := req.Key()

	if action != "delete" {
		if err := a.checkDeployable(cmd, action, req); err != nil {
			return err
		}
	}

	client, err := a.verifiedClient(ctx)
	if err != nil {
		return err
	}
	deployer := reconcile.NewDeployer(client, a.store, a.policies, a.logger)

	var out *reconcile.Outcome
	if action == "delete" {
		out, err = deployer.DeleteRequest(ctx, req)
	} else {
		out, err = deployer.Deploy(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", action, key, err)
	}

	a.printf("%s %s", out.Action, key)
	if out.Record != nil && out.Record.ProviderRecordID != "" {
		a.printf(" (provider id %s)", out.Record.ProviderRecordID)
	}
	a.printf("\n")
	if out.Warning != "" {
		a.printf("warning: %s\n", out.Warning)
	}
	if out.StoreInconsistency {
		a.printf("warning: stored provider id was stale, record was created again\n")
	}
	return nil
}

// checkDeployable validates req against the current store.
func (a *app) checkDeployable(cmd *cobra.Command, action string, req *record.Request) error {
	ctx := cmd.Context()
	if action == "update" {
		stored, err := a.store.Get(ctx, req.Key())
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("update %s: %w", req.Key(), errNotRegistered)
		}
		if err != nil {
			return err
		}
		if !stored.OwnedBy(req.Owner.Username) {
			return fmt.Errorf("update %s: %w", req.Key(), reconcile.ErrOwnershipConflict)
		}
	}

	existing, err := a.registered(ctx)
	if err != nil {
		return err
	}
	res := validation.NewEngine(a.policies).Validate(req, existing)
	for _, w := range res.Warnings {
		a.printf("warning: %s\n", w)
	}
	if !res.Valid {
		return fmt.Errorf("request %s is invalid: %s", req.Key(), reasons(res.Errors))
	}
	return nil
}
