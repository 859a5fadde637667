package inproc

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"b3wasmfuzz/pkg/telemetry"

	"go.uber.org/zap"
)

const statsPrefix = "fuzzer.inproc."

// parseFuzzerStats reads "key : value" lines into span attributes. Only I/O
// errors are returned; malformed lines are skipped.
func parseFuzzerStats(r io.Reader, logger *zap.Logger) (*telemetry.SpanAttributes, error) {
	attrs := telemetry.EmptySpanAttributes()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rawKey, rawValue, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		rawKey = strings.TrimSpace(rawKey)
		rawValue = strings.TrimSpace(rawValue)

		logger.Debug("parsed fuzzer stat", zap.String("key", rawKey), zap.String("value", rawValue))
		attrs = attrs.WithExtraAttribute(statsPrefix+rawKey, rawValue)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return attrs, nil
}
