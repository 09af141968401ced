package propose

import "errors"

// ErrProposal means the reviewable change could not be created or
// queried. Registry writes are already durable when this happens; the
// next run can propose again.
var ErrProposal = errors.New("proposal failed")
