package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/provisioning"
	"github.com/imamik/hubspoke/internal/spoke"
	"github.com/imamik/hubspoke/internal/store"
)

// Output formats accepted by the read commands.
const (
	OutputTable = "table"
	OutputJSON  = "json"
)

// confirmDelete asks before a spoke is torn down. Replaced in tests.
var confirmDelete = func(ctx context.Context, rec *deployment.Record) (bool, error) {
	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Delete spoke %d (%s)?", rec.SpokeID, rec.ClientName)).
			Description("The instance, disk, interface, network and peerings are removed.").
			Affirmative("Delete").
			Negative("Cancel").
			Value(&ok),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return ok, nil
}

// Create handles the create command.
//
// When no spoke id is given the next free one is used. A failed deployment
// waits for the automatic rollback so the printed record is final.
func Create(ctx context.Context, opts Options, in spoke.Input, output string) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if in.SpokeID == 0 {
		if in.SpokeID, err = store.NextAvailableID(ctx, a.store); err != nil {
			return fmt.Errorf("failed to pick a spoke id: %w", err)
		}
	}

	existing, err := a.store.Get(ctx, in.SpokeID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status != deployment.StatusRolledBack {
		return fmt.Errorf("spoke %d already exists with status %s", in.SpokeID, existing.Status)
	}

	req, err := spoke.NewRequest(in, a.cfg)
	if err != nil {
		return err
	}

	a.log.Info("creating spoke", "spoke", req.SpokeID, "client", req.ClientName, "cidr", req.CIDR)
	rec, werr := a.orch.CreateSpoke(ctx, req)

	var failure *provisioning.WorkflowError
	if errors.As(werr, &failure) && failure.RollbackQueued {
		a.log.Info("deployment failed, waiting for rollback", "spoke", req.SpokeID, "step", failure.Step)
		if rerr := a.orch.Runner().Wait(req.SpokeID); rerr != nil {
			a.log.Error(rerr, "rollback incomplete", "spoke", req.SpokeID)
		}
		if final, gerr := a.store.Get(ctx, req.SpokeID); gerr == nil && final != nil {
			rec = final
		}
	}

	if rec != nil {
		if perr := printRecord(rec, nil, output); perr != nil {
			return perr
		}
	}
	return werr
}

// Status handles the status command. With live set the provider is queried
// for the current state of every resource.
func Status(ctx context.Context, opts Options, id int, live bool, output string) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("spoke %d not found", id)
	}

	var ls *provisioning.LiveStatus
	if live {
		req, err := spoke.FromRecord(rec, a.cfg)
		if err != nil {
			return err
		}
		if ls, err = a.orch.SpokeStatus(ctx, req); err != nil {
			return fmt.Errorf("failed to query live status: %w", err)
		}
	}
	return printRecord(rec, ls, output)
}

// List handles the list command.
func List(ctx context.Context, opts Options, status string, limit int, output string) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	filter := store.Filter{Limit: limit}
	if status != "" {
		if filter.Status, err = deployment.ParseStatus(status); err != nil {
			return err
		}
	}

	records, err := a.store.List(ctx, filter)
	if err != nil {
		return err
	}
	summaries := make([]deployment.Summary, len(records))
	for i, rec := range records {
		summaries[i] = rec.Summary()
	}

	if output == OutputJSON {
		return writeJSON(map[string]any{"spokes": summaries, "count": len(summaries)})
	}
	_, err = fmt.Fprint(stdout, renderList(summaries))
	return err
}

// Delete handles the delete command.
//
// Resources are removed in reverse dependency order. The record is dropped
// only when every resource is gone, otherwise it stays as rollback_failed.
// A record still marked in_progress was left by a run that never finished
// and is torn down like a failed one.
func Delete(ctx context.Context, opts Options, id int, yes bool) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	rec, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("spoke %d not found", id)
	}
	if rec.Status == deployment.StatusInProgress {
		a.log.Info("record left in progress by an earlier run, treating it as abandoned", "spoke", id)
	}

	if !yes {
		ok, err := confirmDelete(ctx, rec)
		if err != nil {
			return err
		}
		if !ok {
			_, err = fmt.Fprintln(stdout, dimStyle.Render("  Aborted."))
			return err
		}
	}

	req, err := spoke.FromRecord(rec, a.cfg)
	if err != nil {
		return err
	}

	a.log.Info("deleting spoke", "spoke", id, "status", rec.Status)
	err = a.orch.Runner().RunSync(context.WithoutCancel(ctx), req, rec)

	var rerr *provisioning.RollbackError
	switch {
	case err == nil:
		if err := a.store.Delete(ctx, id); err != nil {
			return err
		}
		a.orch.RecordDeleted(ctx, rec)
		_, err = fmt.Fprintln(stdout, statusStyle(deployment.StatusRolledBack).Render(fmt.Sprintf("  Spoke %d deleted.", id)))
		return err
	case errors.As(err, &rerr):
		fmt.Fprintln(stdout, statusStyle(deployment.StatusRollbackFailed).Render(fmt.Sprintf("  Spoke %d could not be fully removed:", id)))
		for _, m := range rerr.Messages() {
			fmt.Fprintln(stdout, "    "+m)
		}
		return err
	default:
		return err
	}
}

// Stats handles the stats command.
func Stats(ctx context.Context, opts Options, output string) (err error) {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()

	st, err := store.ComputeStatistics(ctx, a.store)
	if err != nil {
		return err
	}
	if output == OutputJSON {
		return writeJSON(st)
	}
	_, err = fmt.Fprint(stdout, renderStats(st))
	return err
}

func printRecord(rec *deployment.Record, live *provisioning.LiveStatus, output string) error {
	if output == OutputJSON {
		return writeJSON(struct {
			*deployment.Record
			Progress int                      `json:"progress_percentage"`
			Live     *provisioning.LiveStatus `json:"live,omitempty"`
		}{rec, rec.Progress(), live})
	}
	_, err := fmt.Fprint(stdout, renderRecord(rec, live))
	return err
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
