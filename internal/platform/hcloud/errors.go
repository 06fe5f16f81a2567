package hcloud

import (
	"errors"
	"fmt"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/imamik/hubspoke/internal/provisioning"
)

// isResourceLocked reports whether err is a transient lock or conflict that
// is worth retrying.
func isResourceLocked(err error) bool {
	return isHCloudErrorCode(err,
		hcloud.ErrorCodeLocked,
		hcloud.ErrorCodeConflict,
		hcloud.ErrorCodeResourceLocked,
		hcloud.ErrorCodeResourceUnavailable,
	)
}

// isHCloudErrorCode checks if the error is an hcloud API error with one of the given codes.
func isHCloudErrorCode(err error, codes ...hcloud.ErrorCode) bool {
	if err == nil {
		return false
	}

	var hcloudErr hcloud.Error
	if errors.As(err, &hcloudErr) {
		for _, code := range codes {
			if hcloudErr.Code == code {
				return true
			}
		}
	}
	return false
}

// classify wraps API errors with the provisioning sentinel they correspond to.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case isHCloudErrorCode(err, hcloud.ErrorCodeNotFound):
		return fmt.Errorf("%w: %w", provisioning.ErrNotFound, err)
	case isHCloudErrorCode(err, hcloud.ErrorCodeLocked, hcloud.ErrorCodeResourceLocked, hcloud.ErrorCodeConflict):
		return fmt.Errorf("%w: %w", provisioning.ErrInUse, err)
	default:
		return err
	}
}

func notFound(kind, name string) error {
	return fmt.Errorf("%s %s: %w", kind, name, provisioning.ErrNotFound)
}

func inUse(kind, name, reason string) error {
	return fmt.Errorf("%s %s %s: %w", kind, name, reason, provisioning.ErrInUse)
}
