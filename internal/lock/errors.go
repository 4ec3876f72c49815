package lock

import "errors"

// ErrLocked is the cause of Acquire errors when another operation holds the
// lock on at least one host. Check it with errors.Is().
var ErrLocked = errors.New("deploy lock is held by another operation")
