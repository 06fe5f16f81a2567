package hcloud

import (
	"context"
	"fmt"
	"reflect"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/hubspoke/internal/util/retry"
)

// CreateResult is a created resource together with the actions that must
// finish before it is usable.
type CreateResult[T any] struct {
	Resource T
	Actions  []*hcloud.Action
}

// EnsureOperation returns an existing resource by name or creates it.
//
//	net, err := (&EnsureOperation[*hcloud.Network, hcloud.NetworkCreateOpts]{
//	    Name:         name,
//	    ResourceType: "network",
//	    Get:          c.client.Network.Get,
//	    Create:       simpleCreate(c.client.Network.Create),
//	    Opts:         func() hcloud.NetworkCreateOpts { ... },
//	}).Execute(ctx, c)
type EnsureOperation[T any, Opts any] struct {
	Name         string
	ResourceType string

	Get    func(ctx context.Context, name string) (T, *hcloud.Response, error)
	Create func(ctx context.Context, opts Opts) (*CreateResult[T], *hcloud.Response, error)
	Opts   func() Opts

	// Validate rejects an existing resource that does not match (optional).
	Validate func(resource T) error
}

// Execute runs the operation. Create calls rejected because the resource is
// locked are retried.
func (op *EnsureOperation[T, Opts]) Execute(ctx context.Context, c *Client) (T, error) {
	var zero T

	resource, _, err := op.Get(ctx, op.Name)
	if err != nil {
		return zero, fmt.Errorf("failed to get %s: %w", op.ResourceType, classify(err))
	}
	if !isNil(resource) {
		if op.Validate != nil {
			if err := op.Validate(resource); err != nil {
				return zero, err
			}
		}
		return resource, nil
	}

	var result *CreateResult[T]
	err = retry.WithExponentialBackoff(ctx, func() error {
		res, _, err := op.Create(ctx, op.Opts())
		if err != nil {
			if isResourceLocked(err) {
				return err
			}
			return retry.Fatal(err)
		}
		result = res
		return nil
	},
		retry.WithMaxRetries(c.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay))
	if err != nil {
		return zero, fmt.Errorf("failed to create %s: %w", op.ResourceType, classify(err))
	}

	if err := waitForActions(ctx, c.client, result.Actions...); err != nil {
		return zero, fmt.Errorf("failed to wait for %s creation: %w", op.ResourceType, err)
	}
	return result.Resource, nil
}

// DeleteOperation removes a resource by name. Deleting a missing resource
// succeeds; locked resources are retried within the delete timeout.
type DeleteOperation[T any] struct {
	Name         string
	ResourceType string

	Get func(ctx context.Context, name string) (T, *hcloud.Response, error)
	// Delete returns the actions to wait for, if any.
	Delete func(ctx context.Context, resource T) ([]*hcloud.Action, error)
	// Check runs before Delete and may refuse it, e.g. while the resource
	// is still attached (optional). A refusal is returned as is, without
	// retrying, so the caller decides whether to wait for the release.
	Check func(resource T) error
}

// Execute runs the operation.
func (op *DeleteOperation[T]) Execute(ctx context.Context, c *Client) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	var refused error
	err := retry.WithExponentialBackoff(ctx, func() error {
		resource, _, err := op.Get(ctx, op.Name)
		if err != nil {
			return retry.Fatal(fmt.Errorf("failed to get %s: %w", op.ResourceType, classify(err)))
		}
		if isNil(resource) {
			return nil
		}
		if op.Check != nil {
			if err := op.Check(resource); err != nil {
				refused = err
				return retry.Fatal(err)
			}
		}

		actions, err := op.Delete(ctx, resource)
		if err != nil {
			if isResourceLocked(err) {
				return err
			}
			return retry.Fatal(fmt.Errorf("failed to delete %s %s: %w", op.ResourceType, op.Name, classify(err)))
		}
		return waitForActions(ctx, c.client, actions...)
	},
		retry.WithMaxRetries(c.timeouts.RetryMaxAttempts),
		retry.WithInitialDelay(c.timeouts.RetryInitialDelay))
	if refused != nil {
		return refused
	}
	return err
}

// waitForActions waits for every non-nil action to complete.
func waitForActions(ctx context.Context, client *hcloud.Client, actions ...*hcloud.Action) error {
	pending := make([]*hcloud.Action, 0, len(actions))
	for _, a := range actions {
		if a != nil {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	return client.Action.WaitFor(ctx, pending...)
}

// simpleCreate wraps create functions returning the resource directly.
func simpleCreate[T any, Opts any](
	createFn func(context.Context, Opts) (T, *hcloud.Response, error),
) func(context.Context, Opts) (*CreateResult[T], *hcloud.Response, error) {
	return func(ctx context.Context, opts Opts) (*CreateResult[T], *hcloud.Response, error) {
		resource, resp, err := createFn(ctx, opts)
		if err != nil {
			return nil, resp, err
		}
		return &CreateResult[T]{Resource: resource}, resp, nil
	}
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Ptr && rv.IsNil()
}
