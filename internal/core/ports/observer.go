package ports

import (
	"time"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
)

// ValidationObserver receives validation measurements.
type ValidationObserver interface {
	ObserveReport(report domain.ValidationReport, elapsed time.Duration)
	ObserveIgnoredFeed(version, feed string)
}

// NopObserver discards every observation.
type NopObserver struct{}

func (NopObserver) ObserveReport(domain.ValidationReport, time.Duration) {}
func (NopObserver) ObserveIgnoredFeed(string, string)                    {}
