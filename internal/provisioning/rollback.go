package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/spoke"
	"github.com/imamik/hubspoke/internal/util/retry"
)

// Teardown resource kinds, used in failures, events and metrics.
const (
	ResourceBackendPool = "backend pool"
	ResourceInstance    = "instance"
	ResourceNIC         = "network interface"
	ResourceDisk        = "disk"
	ResourceNetwork     = "network"
)

var (
	errInstanceNotRemoved = errors.New("instance deletion failed")
	errNetworkInUse       = errors.New("still in use, network interface not confirmed deleted")
)

// phase describes how far the step that creates a resource got.
type phase int

const (
	// phaseNone means the step never started; nothing to tear down.
	phaseNone phase = iota
	// phaseOrphan means the step started but did not complete; the resource
	// may exist and is probed before deletion.
	phaseOrphan
	// phaseCreated means the step completed.
	phaseCreated
)

func stepPhase(rec *deployment.Record, step string) phase {
	switch {
	case rec.IsStepCompleted(step):
		return phaseCreated
	case rec.IsStepStarted(step):
		return phaseOrphan
	default:
		return phaseNone
	}
}

// RollbackEngine removes the resources a failed or unwanted deployment
// created, in reverse dependency order.
type RollbackEngine struct {
	network  NetworkProvisioner
	compute  ComputeProvisioner
	gateway  GatewayProvisioner
	store    RecordSaver
	timeouts *config.Timeouts
	log      logr.Logger
	observer Observer
}

// NewRollbackEngine creates a rollback engine.
func NewRollbackEngine(p Providers, store RecordSaver, timeouts *config.Timeouts, log logr.Logger, observer Observer) *RollbackEngine {
	if observer == nil {
		observer = NewLogObserver(log)
	}
	if timeouts == nil {
		timeouts = config.LoadTimeouts()
	}
	return &RollbackEngine{
		network:  p.Network,
		compute:  p.Compute,
		gateway:  p.Gateway,
		store:    store,
		timeouts: timeouts,
		log:      log,
		observer: observer,
	}
}

// Rollback tears down what rec says was created and records the outcome on
// rec. It returns nil when every teardown succeeded and a *RollbackError
// otherwise. Resources that are already gone count as removed, so calling
// Rollback again on the same record is safe.
func (e *RollbackEngine) Rollback(ctx context.Context, req spoke.Request, rec *deployment.Record) error {
	if rec.Status != deployment.StatusRollingBack {
		if err := rec.MarkRollingBack(); err != nil {
			return fmt.Errorf("cannot roll back spoke %d: %w", rec.SpokeID, err)
		}
		persistRecord(ctx, e.store, e.log, rec)
	}

	obs := e.observer.WithFields(map[string]string{"spoke": strconv.Itoa(rec.SpokeID), "client": rec.ClientName})
	obs.Event(Event{Type: EventRollbackStarted, Step: "rollback", Message: "rolling back spoke resources"})

	var failures []RollbackFailure
	fail := func(f RollbackFailure) {
		failures = append(failures, f)
		logResourceFailed(obs, f)
	}

	// Backend pool. Independent of everything below.
	if err := e.removeBackendPool(ctx, obs, req, stepPhase(rec, StepUpdateGateway)); err != nil {
		fail(RollbackFailure{Resource: ResourceBackendPool, Name: req.BackendPoolName, Err: err})
	}

	// Instance. Must be fully gone before its interface can be released.
	instance := stepPhase(rec, StepDeployInstance)
	instanceOK := true
	if err := e.removeInstance(ctx, obs, req, instance); err != nil {
		instanceOK = false
		fail(RollbackFailure{Resource: ResourceInstance, Name: req.InstanceName, Err: err})
	}

	// Network interface.
	nicGone := true
	switch nic := stepPhase(rec, StepCreateNIC); {
	case nic == phaseNone:
	case !instanceOK:
		nicGone = false
		fail(RollbackFailure{Resource: ResourceNIC, Name: req.NICName, Skipped: true, Err: errInstanceNotRemoved})
	default:
		if err := e.removeNIC(ctx, obs, req, nic); err != nil {
			nicGone = false
			fail(RollbackFailure{Resource: ResourceNIC, Name: req.NICName, Err: err})
		}
	}

	// Disk. Best-effort once the instance is gone.
	if instance != phaseNone && instanceOK {
		if err := e.removeDisk(ctx, obs, req); err != nil {
			fail(RollbackFailure{Resource: ResourceDisk, Name: req.DiskName, Err: err})
		}
	}

	// Network with its subnets and peerings.
	if network := stepPhase(rec, StepCreateNetwork); network != phaseNone {
		if !nicGone {
			fail(RollbackFailure{Resource: ResourceNetwork, Name: req.NetworkName, Skipped: true, Err: errNetworkInUse})
		} else if err := e.removeNetwork(ctx, obs, req, network); err != nil {
			fail(RollbackFailure{Resource: ResourceNetwork, Name: req.NetworkName, Err: err})
		}
	}

	return e.finish(ctx, obs, rec, failures)
}

func (e *RollbackEngine) finish(ctx context.Context, obs Observer, rec *deployment.Record, failures []RollbackFailure) error {
	merr := &multierror.Error{ErrorFormat: joinFailures}
	for _, f := range failures {
		merr = multierror.Append(merr, f)
	}

	if err := merr.ErrorOrNil(); err != nil {
		if serr := rec.MarkRollbackFailed(err.Error()); serr != nil {
			rec.ForceRollbackFailed(err.Error())
		}
		persistRecord(ctx, e.store, e.log, rec)
		rerr := &RollbackError{SpokeID: rec.SpokeID, Failures: failures, Err: err}
		recordRollbackMetric(rerr, failures)
		obs.Event(Event{Type: EventRollbackFailed, Step: "rollback", Message: rerr.Error()})
		return rerr
	}

	if err := rec.MarkRolledBack(); err != nil {
		return err
	}
	persistRecord(ctx, e.store, e.log, rec)
	recordRollbackMetric(nil, nil)
	obs.Event(Event{Type: EventRollbackCompleted, Step: "rollback", Message: "all spoke resources removed"})
	return nil
}

func joinFailures(errs []error) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// probe reports whether a resource from an incomplete step exists. A missing
// parent (ErrNotFound) means the resource cannot exist either.
func probe[T any](ctx context.Context, p phase, get func(context.Context) (*T, error)) (bool, error) {
	if p == phaseCreated {
		return true, nil
	}
	found, err := Exists(ctx, get)
	if IsNotFound(err) {
		return false, nil
	}
	return found, err
}

func (e *RollbackEngine) deleteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.timeouts.Delete)
}

func (e *RollbackEngine) removeBackendPool(ctx context.Context, obs Observer, req spoke.Request, p phase) error {
	if p == phaseNone {
		return nil
	}
	found, err := probe(ctx, p, func(ctx context.Context) (*BackendPool, error) {
		return e.gateway.GetBackendPool(ctx, req.GatewayName, req.BackendPoolName)
	})
	if err != nil || !found {
		return err
	}

	logResourceDeleting(obs, ResourceBackendPool, req.BackendPoolName)
	ctx, cancel := e.deleteCtx(ctx)
	defer cancel()
	if err := e.gateway.DeleteBackendPool(ctx, req.GatewayName, req.BackendPoolName); err != nil && !IsNotFound(err) {
		return err
	}
	logResourceDeleted(obs, ResourceBackendPool, req.BackendPoolName)
	return nil
}

func (e *RollbackEngine) removeInstance(ctx context.Context, obs Observer, req spoke.Request, p phase) error {
	if p == phaseNone {
		return nil
	}
	found, err := probe(ctx, p, func(ctx context.Context) (*Instance, error) {
		return e.compute.GetInstance(ctx, req.InstanceName)
	})
	if err != nil || !found {
		return err
	}

	logResourceDeleting(obs, ResourceInstance, req.InstanceName)
	ctx, cancel := e.deleteCtx(ctx)
	defer cancel()
	if err := e.compute.DeleteInstance(ctx, req.InstanceName); err != nil && !IsNotFound(err) {
		return err
	}
	logResourceDeleted(obs, ResourceInstance, req.InstanceName)
	return nil
}

// removeNIC deletes the interface, retrying while the provider still holds
// it reserved after the instance went away.
func (e *RollbackEngine) removeNIC(ctx context.Context, obs Observer, req spoke.Request, p phase) error {
	found, err := probe(ctx, p, func(ctx context.Context) (*NIC, error) {
		return e.network.GetNIC(ctx, req.NICName)
	})
	if err != nil {
		return err
	}
	if !found {
		e.log.V(1).Info("no orphaned network interface found", "nic", req.NICName)
		return nil
	}

	logResourceDeleting(obs, ResourceNIC, req.NICName)
	attempts := max(e.timeouts.NICReleaseAttempts, 1)
	err = retry.WithExponentialBackoff(ctx, func() error {
		dctx, cancel := e.deleteCtx(ctx)
		defer cancel()
		err := e.network.DeleteNIC(dctx, req.NICName)
		switch {
		case err == nil, IsNotFound(err):
			return nil
		case IsInUse(err):
			return err
		default:
			return retry.Fatal(err)
		}
	},
		retry.WithMaxRetries(attempts-1),
		retry.WithInitialDelay(e.timeouts.NICReleaseDelay),
		retry.WithMaxDelay(4*e.timeouts.NICReleaseDelay),
		retry.WithOnRetry(func(attempt int, err error) {
			e.log.Info("network interface still reserved, retrying", "nic", req.NICName, "attempt", attempt, "error", err.Error())
		}),
	)
	if err != nil {
		return err
	}
	logResourceDeleted(obs, ResourceNIC, req.NICName)
	return nil
}

func (e *RollbackEngine) removeDisk(ctx context.Context, obs Observer, req spoke.Request) error {
	logResourceDeleting(obs, ResourceDisk, req.DiskName)
	ctx, cancel := e.deleteCtx(ctx)
	defer cancel()
	if err := e.compute.DeleteDisk(ctx, req.DiskName); err != nil && !IsNotFound(err) {
		return err
	}
	logResourceDeleted(obs, ResourceDisk, req.DiskName)
	return nil
}

func (e *RollbackEngine) removeNetwork(ctx context.Context, obs Observer, req spoke.Request, p phase) error {
	found, err := probe(ctx, p, func(ctx context.Context) (*Network, error) {
		return e.network.GetNetwork(ctx, req.NetworkName)
	})
	if err != nil || !found {
		return err
	}

	logResourceDeleting(obs, ResourceNetwork, req.NetworkName)
	ctx, cancel := e.deleteCtx(ctx)
	defer cancel()
	if err := e.network.DeleteNetwork(ctx, req.NetworkName); err != nil && !IsNotFound(err) {
		return err
	}
	logResourceDeleted(obs, ResourceNetwork, req.NetworkName)
	return nil
}
