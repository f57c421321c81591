package memory

import "errors"

var errDuplicateID = errors.New("duplicate id")
