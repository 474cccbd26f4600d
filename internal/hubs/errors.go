package hubs

import "errors"

// ErrNoCatalog is returned when a Resolver is constructed without a catalog.
var ErrNoCatalog = errors.New("hubs: catalog must not be nil")
