package audit

import "errors"

// ErrAuditWriteFailure is returned whenever an entry could not be made
// durable. Callers must treat the surrounding operation as failed.
var ErrAuditWriteFailure = errors.New("audit write failure")
