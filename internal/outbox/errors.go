package outbox

import "errors"

// ErrRecordNotFound indicates a remove targeted an id that is not queued.
var ErrRecordNotFound = errors.New("outbox record not found")

// ErrUnknownStore indicates an operation named a store the queue does not manage.
var ErrUnknownStore = errors.New("unknown outbox store")

// ErrUnknownResource indicates a record carries an unrecognized resource type.
var ErrUnknownResource = errors.New("unknown mutation resource")
