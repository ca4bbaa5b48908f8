package core

import (
	"fmt"
	"sort"

	"BlueLedger/internal/observability"
)

// SequenceValidator validates source sequences per partition.
// Not thread-safe; only the sequencer goroutine touches it.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// ValidateSequence checks source sequence ordering
func (sv *SequenceValidator) ValidateSequence(
	partition string,
	sourceSequence int64,
	idempotencyKey string,
	isDuplicate bool,
) error {
	expected := sv.expectedNextSeq[partition]

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("out-of-order command %s: partition=%s, expected=%d, got=%d",
			idempotencyKey, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		sv.expectedNextSeq[partition] = expected + 1
		return nil
	}

	if sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return fmt.Errorf("sequence gap: partition=%s, expected=%d, got=%d",
		partition, expected, sourceSequence)
}

// ValidatePriceSequence accepts any price sequence above the last one seen,
// gaps included. It reports false for stale sequences.
func (sv *SequenceValidator) ValidatePriceSequence(partition string, priceSequence int64) bool {
	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		return false
	}

	if priceSequence > expected && sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}

	sv.expectedNextSeq[partition] = priceSequence + 1
	return true
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expectedNextSeq[partition]
}

// RestorePartition sets the next expected sequence (snapshot restore)
func (sv *SequenceValidator) RestorePartition(partition string, next int64) {
	sv.expectedNextSeq[partition] = next
}

// GetAllPartitions returns a copy of every partition's next sequence
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// Partitions returns partition names in sorted order
func (sv *SequenceValidator) Partitions() []string {
	out := make([]string, 0, len(sv.expectedNextSeq))
	for k := range sv.expectedNextSeq {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
