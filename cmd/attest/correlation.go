package main

import (
	"strings"
	"sync/atomic"
)

var correlationIDValue atomic.Value

func init() {
	correlationIDValue.Store("")
}

func setCurrentCorrelationID(correlationID string) {
	correlationIDValue.Store(strings.TrimSpace(correlationID))
}

func currentCorrelationID() string {
	value, _ := correlationIDValue.Load().(string)
	return strings.TrimSpace(value)
}
