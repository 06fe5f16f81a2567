package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/imamik/hubspoke/internal/config"
	"github.com/imamik/hubspoke/internal/deployment"
	"github.com/imamik/hubspoke/internal/events"
	"github.com/imamik/hubspoke/internal/spoke"
	"github.com/imamik/hubspoke/internal/util/labels"
	"github.com/imamik/hubspoke/internal/util/naming"
	"github.com/imamik/hubspoke/internal/util/retry"
)

// spokeRouterHost is the host number of the spoke-side next hop inside the
// shared-service subnet.
const spokeRouterHost = 2

// Options configures an Orchestrator.
type Options struct {
	Config    *config.Config
	Providers Providers
	Store     RecordSaver
	Publisher events.Publisher
	Logger    logr.Logger
	Observer  Observer
}

// Orchestrator runs the create workflow and hands failures to the Runner.
type Orchestrator struct {
	cfg      *config.Config
	timeouts *config.Timeouts
	network  NetworkProvisioner
	compute  ComputeProvisioner
	gateway  GatewayProvisioner
	store    RecordSaver
	events   events.Publisher
	log      logr.Logger
	observer Observer
	exec     *Executor
	runner   *Runner
	slots    *semaphore.Weighted
}

// NewOrchestrator wires the executor, rollback engine and runner.
func NewOrchestrator(opts Options) *Orchestrator {
	timeouts := opts.Config.Timeouts
	if timeouts == nil {
		timeouts = config.LoadTimeouts()
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = events.Nop{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = NewLogObserver(opts.Logger)
	}
	slots := int64(opts.Config.MaxConcurrentDeployments)
	if slots <= 0 {
		slots = 1
	}

	engine := NewRollbackEngine(opts.Providers, opts.Store, timeouts, opts.Logger, observer)
	return &Orchestrator{
		cfg:      opts.Config,
		timeouts: timeouts,
		network:  opts.Providers.Network,
		compute:  opts.Providers.Compute,
		gateway:  opts.Providers.Gateway,
		store:    opts.Store,
		events:   publisher,
		log:      opts.Logger,
		observer: observer,
		exec:     NewExecutor(opts.Store, opts.Logger, observer),
		runner:   NewRunner(engine, opts.Store, publisher, opts.Logger),
		slots:    semaphore.NewWeighted(slots),
	}
}

// Runner returns the background rollback runner.
func (o *Orchestrator) Runner() *Runner { return o.runner }

// CreateSpoke runs the create workflow for req. The returned record is safe
// to read after the call; when the workflow failed the error is a
// *WorkflowError and rollback may already be running in the background.
func (o *Orchestrator) CreateSpoke(ctx context.Context, req spoke.Request) (*deployment.Record, error) {
	if err := o.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for a deployment slot: %w", err)
	}
	defer o.slots.Release(1)

	workflowsActive.Inc()
	defer workflowsActive.Dec()

	log := o.log.WithValues("spoke", req.SpokeID, "client", req.ClientName)
	rec := req.NewRecord()
	o.exec.persist(ctx, rec)
	log.Info("starting spoke deployment", "cidr", req.CIDR)

	err := o.run(ctx, req, rec)
	recordWorkflowMetric(err)
	if err == nil {
		if cerr := rec.MarkCompleted(); cerr != nil {
			return rec, cerr
		}
		o.exec.persist(ctx, rec)
		o.publish(ctx, events.TypeSpokeCompleted, rec)
		log.Info("spoke deployment completed", "privateIP", rec.PrivateIP, "duration", rec.Duration().Round(time.Second))
		return rec, nil
	}

	o.publish(ctx, events.TypeSpokeFailed, rec)
	werr := &WorkflowError{SpokeID: req.SpokeID, Step: rec.FailedStep, Err: err}

	switch {
	case !schedulesRollback(err):
		log.Info("spoke request rejected before any resource was created", "step", rec.FailedStep, "error", err.Error())
	case !o.cfg.RollbackEnabled():
		logWarning(o.observer, rec.FailedStep, fmt.Sprintf("rollback disabled, resources of spoke %d left in place", req.SpokeID))
	default:
		if _, serr := o.runner.Schedule(req, rec); serr != nil {
			log.Error(serr, "failed to schedule rollback")
			werr.ScheduleErr = serr
		} else {
			werr.RollbackQueued = true
		}
	}
	return rec, werr
}

// run executes the steps in order and stops at the first failure.
func (o *Orchestrator) run(ctx context.Context, req spoke.Request, rec *deployment.Record) error {
	steps := []struct {
		name string
		fn   func(context.Context, spoke.Request, *deployment.Record) error
	}{
		{StepValidateConfig, o.validateConfig},
		{StepCreateNetwork, o.createNetwork},
		{StepCreateSubnets, o.createSubnets},
		{StepCreateNIC, o.createNIC},
		{StepDeployInstance, o.deployInstance},
		{StepWaitInstanceReady, o.waitInstanceReady},
		{StepGetInstanceIP, o.getInstanceIP},
		{StepCreatePeering, o.createPeering},
		{StepVerifyConnectivity, o.verifyConnectivity},
		{StepUpdateGateway, o.updateGateway},
		{StepCreateRoutingRule, o.createRoutingRule},
	}

	for _, s := range steps {
		def, _ := LookupStep(s.name)
		fn := s.fn
		if err := o.exec.Execute(ctx, rec, def, func(ctx context.Context) error {
			return fn(ctx, req, rec)
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) validateConfig(_ context.Context, req spoke.Request, _ *deployment.Record) error {
	if err := req.Validate(); err != nil {
		return err
	}

	inside, err := config.Overlaps(o.cfg.Spokes.Supernet, req.CIDR)
	if err != nil {
		return &ConfigurationError{Reason: "invalid spoke address block", Err: err}
	}
	if !inside {
		return &ConfigurationError{Reason: fmt.Sprintf("spoke block %s is outside supernet %s", req.CIDR, o.cfg.Spokes.Supernet)}
	}
	clash, err := config.Overlaps(req.Hub.CIDR, req.CIDR)
	if err != nil {
		return &ConfigurationError{Reason: "invalid hub address range", Err: err}
	}
	if clash {
		return &ConfigurationError{Reason: fmt.Sprintf("spoke block %s overlaps hub %s", req.CIDR, req.Hub.CIDR)}
	}
	if req.GatewayName == "" || req.Hub.NetworkName == "" {
		return &ConfigurationError{Reason: "hub network and gateway names are required"}
	}
	return nil
}

func (o *Orchestrator) createNetwork(ctx context.Context, req spoke.Request, rec *deployment.Record) error {
	net, created, err := ensure(ctx,
		func(ctx context.Context) (*Network, error) { return o.network.GetNetwork(ctx, req.NetworkName) },
		func(ctx context.Context) (*Network, error) {
			return o.network.CreateNetwork(ctx, NetworkSpec{
				Name:     req.NetworkName,
				CIDR:     req.CIDR,
				Location: req.Location,
				Zone:     req.NetworkZone,
				Labels:   req.Labels(labels.RoleNetwork),
			})
		})
	if err != nil {
		return &ProvisioningError{Resource: "network", Op: "create", Name: req.NetworkName, Err: err}
	}
	logResourceCreated(o.observer, StepCreateNetwork, "network", net.Name, created)
	rec.NetworkID = net.ID
	return nil
}

func (o *Orchestrator) createSubnets(ctx context.Context, req spoke.Request, _ *deployment.Record) error {
	for _, sn := range req.Subnets {
		_, created, err := ensure(ctx,
			func(ctx context.Context) (*Subnet, error) { return o.network.GetSubnet(ctx, req.NetworkName, sn.CIDR) },
			func(ctx context.Context) (*Subnet, error) {
				return o.network.CreateSubnet(ctx, SubnetSpec{
					Network: req.NetworkName,
					Name:    sn.Name,
					CIDR:    sn.CIDR,
					Zone:    req.NetworkZone,
				})
			})
		if err != nil {
			return &ProvisioningError{Resource: "subnet", Op: "create", Name: sn.Name, Err: err}
		}
		logResourceCreated(o.observer, StepCreateSubnets, "subnet", sn.Name, created)
	}
	return nil
}

func (o *Orchestrator) createNIC(ctx context.Context, req spoke.Request, _ *deployment.Record) error {
	compute := req.ComputeSubnet()
	nic, created, err := ensure(ctx,
		func(ctx context.Context) (*NIC, error) { return o.network.GetNIC(ctx, req.NICName) },
		func(ctx context.Context) (*NIC, error) {
			return o.network.CreateNIC(ctx, NICSpec{
				Name:      req.NICName,
				Network:   req.NetworkName,
				Subnet:    compute.CIDR,
				PrivateIP: req.NICAddress,
				Location:  req.Location,
				Labels:    req.Labels(labels.RoleInterface),
			})
		})
	if err != nil {
		return &ProvisioningError{Resource: "network interface", Op: "create", Name: req.NICName, Err: err}
	}
	logResourceCreated(o.observer, StepCreateNIC, "network interface", nic.Name, created)
	return nil
}

func (o *Orchestrator) deployInstance(ctx context.Context, req spoke.Request, rec *deployment.Record) error {
	inst, created, err := ensure(ctx,
		func(ctx context.Context) (*Instance, error) { return o.compute.GetInstance(ctx, req.InstanceName) },
		func(ctx context.Context) (*Instance, error) {
			return o.compute.CreateInstance(ctx, InstanceSpec{
				Name:          req.InstanceName,
				Size:          req.InstanceSize,
				Image:         req.Image,
				Location:      req.Location,
				NIC:           req.NICName,
				Network:       req.NetworkName,
				PrivateIP:     req.NICAddress,
				AdminUsername: req.AdminUsername,
				PublicKey:     req.PublicKey,
				DiskName:      req.DiskName,
				DiskSizeGB:    req.DiskSizeGB,
				Labels:        req.Labels(labels.RoleInstance),
			})
		})
	if err != nil {
		return &ProvisioningError{Resource: "instance", Op: "create", Name: req.InstanceName, Err: err}
	}
	logResourceCreated(o.observer, StepDeployInstance, "instance", inst.Name, created)
	rec.InstanceID = inst.ID
	return nil
}

func (o *Orchestrator) waitInstanceReady(ctx context.Context, req spoke.Request, _ *deployment.Record) error {
	err := retry.Poll(ctx, o.timeouts.InstancePollInterval, o.timeouts.InstanceReady, func(ctx context.Context) (bool, error) {
		inst, err := o.compute.GetInstance(ctx, req.InstanceName)
		if err != nil {
			return false, err
		}
		if inst == nil {
			return false, nil
		}
		if inst.ProvisioningState == ProvisioningFailed {
			return false, retry.Fatal(&ProvisioningError{
				Resource: "instance", Op: "provision", Name: req.InstanceName,
				Err: errors.New("provider reported provisioning failure"),
			})
		}
		return inst.Ready(), nil
	})
	if errors.Is(err, retry.ErrPollTimeout) {
		return &TimeoutError{Operation: "instance readiness", Timeout: o.timeouts.InstanceReady, Fatal: true, Err: err}
	}
	return err
}

func (o *Orchestrator) getInstanceIP(ctx context.Context, req spoke.Request, rec *deployment.Record) error {
	inst, err := o.compute.GetInstance(ctx, req.InstanceName)
	if err != nil {
		return &ProvisioningError{Resource: "instance", Op: "get", Name: req.InstanceName, Err: err}
	}
	if inst == nil {
		return &PreconditionError{Condition: fmt.Sprintf("instance %s not found", req.InstanceName)}
	}
	if inst.PrivateIP == "" {
		return &PreconditionError{Condition: fmt.Sprintf("instance %s has no private address", req.InstanceName)}
	}
	rec.PrivateIP = inst.PrivateIP
	if rec.InstanceID == "" {
		rec.InstanceID = inst.ID
	}
	return nil
}

func (o *Orchestrator) peeringSpecs(req spoke.Request) ([]PeeringSpec, error) {
	shared, ok := req.Subnet(naming.SubnetSharedService)
	if !ok {
		return nil, &PreconditionError{Condition: "spoke has no shared-service subnet"}
	}
	spokeHop, err := config.CIDRHost(shared.CIDR, spokeRouterHost)
	if err != nil {
		return nil, err
	}
	return []PeeringSpec{
		{
			Name:          req.HubPeeringName(),
			Network:       req.Hub.NetworkName,
			RemoteNetwork: req.NetworkName,
			RemoteCIDR:    req.CIDR,
			NextHop:       req.Hub.RouterIP,
		},
		{
			Name:          req.SpokePeeringName(),
			Network:       req.NetworkName,
			RemoteNetwork: req.Hub.NetworkName,
			RemoteCIDR:    req.Hub.CIDR,
			NextHop:       spokeHop,
		},
	}, nil
}

func (o *Orchestrator) createPeering(ctx context.Context, req spoke.Request, _ *deployment.Record) error {
	specs, err := o.peeringSpecs(req)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		g.Go(func() error {
			p, created, err := ensure(gctx,
				func(ctx context.Context) (*Peering, error) { return o.network.GetPeering(ctx, spec.Network, spec.Name) },
				func(ctx context.Context) (*Peering, error) { return o.network.CreatePeering(ctx, spec) })
			if err != nil {
				return &ProvisioningError{Resource: "peering", Op: "create", Name: spec.Name, Err: err}
			}
			logResourceCreated(o.observer, StepCreatePeering, "peering", p.Name, created)
			return nil
		})
	}
	return g.Wait()
}

// verifyConnectivity waits for both peering directions to connect. A timeout
// is reported but does not fail the workflow.
func (o *Orchestrator) verifyConnectivity(ctx context.Context, req spoke.Request, _ *deployment.Record) error {
	specs, err := o.peeringSpecs(req)
	if err != nil {
		return err
	}

	err = retry.Poll(ctx, o.timeouts.PeeringPollInterval, o.timeouts.PeeringVerify, func(ctx context.Context) (bool, error) {
		for _, spec := range specs {
			p, err := o.network.GetPeering(ctx, spec.Network, spec.Name)
			if err != nil {
				o.log.V(1).Info("peering lookup failed, retrying", "peering", spec.Name, "error", err.Error())
				return false, nil
			}
			if p == nil || p.State != PeeringConnected {
				return false, nil
			}
		}
		return true, nil
	})
	if errors.Is(err, retry.ErrPollTimeout) {
		terr := &TimeoutError{Operation: "peering verification", Timeout: o.timeouts.PeeringVerify, Err: err}
		logWarning(o.observer, StepVerifyConnectivity, terr.Error()+", continuing")
		return nil
	}
	return err
}

func (o *Orchestrator) updateGateway(ctx context.Context, req spoke.Request, rec *deployment.Record) error {
	gw, err := o.gateway.GetGateway(ctx, req.GatewayName)
	if err != nil {
		return &ProvisioningError{Resource: "gateway", Op: "get", Name: req.GatewayName, Err: err}
	}
	if gw == nil {
		return &PreconditionError{Condition: fmt.Sprintf("gateway %s not found", req.GatewayName)}
	}

	existing, err := o.gateway.GetBackendPool(ctx, req.GatewayName, req.BackendPoolName)
	if err != nil {
		return &ProvisioningError{Resource: "backend pool", Op: "get", Name: req.BackendPoolName, Err: err}
	}
	if existing != nil {
		o.log.Info("replacing existing backend pool", "pool", req.BackendPoolName, "addresses", existing.Addresses)
		if err := o.gateway.DeleteBackendPool(ctx, req.GatewayName, req.BackendPoolName); err != nil && !IsNotFound(err) {
			return &ProvisioningError{Resource: "backend pool", Op: "delete", Name: req.BackendPoolName, Err: err}
		}
	}

	if _, err := o.gateway.CreateBackendPool(ctx, req.GatewayName, BackendPool{
		Name:      req.BackendPoolName,
		Addresses: []string{rec.PrivateIP},
	}); err != nil {
		return &ProvisioningError{Resource: "backend pool", Op: "create", Name: req.BackendPoolName, Err: err}
	}
	logResourceCreated(o.observer, StepUpdateGateway, "backend pool", req.BackendPoolName, true)

	o.waitBackendHealthy(ctx, req)
	return nil
}

// waitBackendHealthy is best-effort; backends often need longer than the
// workflow to pass their first health check.
func (o *Orchestrator) waitBackendHealthy(ctx context.Context, req spoke.Request) {
	err := retry.Poll(ctx, o.timeouts.GatewayPollInterval, o.timeouts.GatewayHealth, func(ctx context.Context) (bool, error) {
		health, err := o.gateway.BackendHealth(ctx, req.GatewayName, req.BackendPoolName)
		if err != nil {
			return false, retry.Fatal(err)
		}
		if len(health) == 0 {
			return false, nil
		}
		for _, h := range health {
			if !h.Healthy {
				return false, nil
			}
		}
		return true, nil
	})
	switch {
	case err == nil:
		o.log.Info("backend pool healthy", "pool", req.BackendPoolName)
	case errors.Is(err, retry.ErrPollTimeout):
		terr := &TimeoutError{Operation: "backend health", Timeout: o.timeouts.GatewayHealth, Err: err}
		logWarning(o.observer, StepUpdateGateway, terr.Error()+", continuing")
	default:
		logWarning(o.observer, StepUpdateGateway, "backend health unavailable: "+err.Error())
	}
}

// createRoutingRule records the rule name. Associating the rule with a
// listener is done by the gateway operator.
func (o *Orchestrator) createRoutingRule(_ context.Context, req spoke.Request, rec *deployment.Record) error {
	rec.RoutingRuleName = req.RoutingRuleName
	o.log.Info("routing rule prepared, associate it with a gateway listener",
		"rule", req.RoutingRuleName, "pool", req.BackendPoolName, "gateway", req.GatewayName)
	return nil
}

// RecordDeleted announces that rec's resources are gone and its record was removed.
func (o *Orchestrator) RecordDeleted(ctx context.Context, rec *deployment.Record) {
	o.log.Info("spoke deleted", "spoke", rec.SpokeID, "client", rec.ClientName)
	o.publish(ctx, events.TypeSpokeDeleted, rec)
}

func (o *Orchestrator) publish(ctx context.Context, typ events.Type, rec *deployment.Record) {
	if err := o.events.Publish(ctx, events.FromRecord(typ, rec)); err != nil {
		o.log.Error(err, "failed to publish lifecycle event", "type", typ, "spoke", rec.SpokeID)
	}
}

// LiveStatus is the provider-side view of a spoke.
type LiveStatus struct {
	SpokeID               int          `json:"spoke_id"`
	NetworkExists         bool         `json:"network_exists"`
	NetworkID             string       `json:"network_id,omitempty"`
	NICExists             bool         `json:"nic_exists"`
	InstanceExists        bool         `json:"instance_exists"`
	ProvisioningState     string       `json:"provisioning_state,omitempty"`
	PowerState            string       `json:"power_state,omitempty"`
	PrivateIP             string       `json:"private_ip,omitempty"`
	HubPeering            PeeringState `json:"hub_peering,omitempty"`
	SpokePeering          PeeringState `json:"spoke_peering,omitempty"`
	BackendPoolConfigured bool         `json:"backend_pool_configured"`
	BackendPoolName       string       `json:"backend_pool_name,omitempty"`
	RoutingRuleName       string       `json:"routing_rule_name,omitempty"`
}

// SpokeStatus queries the providers for the current state of req's
// resources. Lookups run concurrently.
func (o *Orchestrator) SpokeStatus(ctx context.Context, req spoke.Request) (*LiveStatus, error) {
	st := &LiveStatus{
		SpokeID:         req.SpokeID,
		BackendPoolName: req.BackendPoolName,
		RoutingRuleName: req.RoutingRuleName,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := o.network.GetNetwork(ctx, req.NetworkName)
		if err != nil {
			return fmt.Errorf("network: %w", err)
		}
		if n != nil {
			st.NetworkExists, st.NetworkID = true, n.ID
		}
		return nil
	})
	g.Go(func() error {
		nic, err := o.network.GetNIC(ctx, req.NICName)
		if err != nil {
			return fmt.Errorf("network interface: %w", err)
		}
		st.NICExists = nic != nil
		return nil
	})
	g.Go(func() error {
		inst, err := o.compute.GetInstance(ctx, req.InstanceName)
		if err != nil {
			return fmt.Errorf("instance: %w", err)
		}
		if inst != nil {
			st.InstanceExists = true
			st.ProvisioningState = inst.ProvisioningState
			st.PowerState = inst.PowerState
			st.PrivateIP = inst.PrivateIP
		}
		return nil
	})
	g.Go(func() error {
		if p, err := o.network.GetPeering(ctx, req.Hub.NetworkName, req.HubPeeringName()); err == nil && p != nil {
			st.HubPeering = p.State
		}
		if p, err := o.network.GetPeering(ctx, req.NetworkName, req.SpokePeeringName()); err == nil && p != nil {
			st.SpokePeering = p.State
		}
		return nil
	})
	g.Go(func() error {
		pools, err := o.gateway.ListBackendPools(ctx, req.GatewayName)
		if err != nil {
			return fmt.Errorf("backend pools: %w", err)
		}
		for _, p := range pools {
			if p.Name == req.BackendPoolName {
				st.BackendPoolConfigured = true
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read live status of spoke %s: %w", strconv.Itoa(req.SpokeID), err)
	}
	return st, nil
}
