package reconciler

import (
	"fmt"
	"sync"

	"payment-reconciliation-engine/pkg/errors"
)

// gatewayLocks serializes runs per base gateway within this process. A
// second concurrent run on the same gateway fails fast instead of
// queueing; cross-process callers remain responsible for their own
// advisory locking.
var gatewayLocks sync.Map

func acquireGateway(base string) (func(), error) {
	value, _ := gatewayLocks.LoadOrStore(base, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	if !mu.TryLock() {
		return nil, errors.ReconciliationError(errors.CodeRunInProgress,
			fmt.Sprintf("a reconciliation run for gateway %s is already in progress", base), nil).
			WithContext("gateway", base)
	}
	return mu.Unlock, nil
}
