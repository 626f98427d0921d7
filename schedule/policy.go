package schedule

import (
	"time"

	"github.com/goliatone/go-revenue-recovery/core"
)

// Mapping is a bucketed retry backoff table. The first attempt waits
// StartAfter; afterwards the buckets pair up so that the first
// Counts[0] retries wait Frequencies[0], the next Counts[1] wait
// Frequencies[1], and so on. Once the buckets are exhausted no further
// schedule time exists.
type Mapping struct {
	StartAfter  time.Duration
	Frequencies []time.Duration
	Counts      []int64
}

// MappingFromConfig converts the second-granular config shape into a
// duration-based mapping.
func MappingFromConfig(cfg core.RetryMappingConfig) Mapping {
	mapping := Mapping{
		StartAfter: time.Duration(cfg.StartAfterSeconds) * time.Second,
		Counts:     append([]int64(nil), cfg.Counts...),
	}
	for _, seconds := range cfg.FrequencySeconds {
		mapping.Frequencies = append(mapping.Frequencies, time.Duration(seconds)*time.Second)
	}
	return mapping
}

// MaxAttempts reports how many attempts the mapping can schedule,
// counting the initial StartAfter attempt.
func (m Mapping) MaxAttempts() int64 {
	total := int64(1)
	for _, count := range m.Counts {
		total += count
	}
	return total
}

// DelayForAttempt resolves the wait before the given 1-based attempt
// number. The boolean is false when the mapping is exhausted.
func (m Mapping) DelayForAttempt(attemptNumber int) (time.Duration, bool) {
	if attemptNumber < 1 {
		return 0, false
	}
	if attemptNumber == 1 {
		return m.StartAfter, true
	}

	remaining := int64(attemptNumber - 1)
	for i, count := range m.Counts {
		if i >= len(m.Frequencies) {
			break
		}
		if remaining <= count {
			return m.Frequencies[i], true
		}
		remaining -= count
	}
	return 0, false
}
