package svc

import "errors"

// ErrNoSources means no data source survived configuration.
var ErrNoSources = errors.New("no market data sources configured")
