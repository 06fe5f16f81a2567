// Package memory provides an in-process simulated cloud implementing the
// provisioning capability interfaces.
//
// It backs the test suites and the `serve --provider memory` development
// mode. The simulation keeps the behaviour the workflow has to cope with on a
// real provider:
//
//   - instances report "creating" for a configurable number of polls
//   - an interface stays reserved for a number of delete attempts after its
//     instance is gone, and deleting it while attached yields ErrInUse
//   - a network cannot be deleted while interfaces or instances use it
//   - peerings start "initiated" and connect after a number of polls
//
// Faults can be injected per operation with Fail and FailTimes, and every
// call is recorded for ordering assertions.
package memory
