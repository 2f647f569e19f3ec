package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"termagent/internal/domain"
)

// maxNDJSONLine bounds a single stream record; tool-call arguments with file
// contents can be large.
const maxNDJSONLine = 4 * 1024 * 1024

// readNDJSON decodes one T per line of body and hands it to handle until
// handle returns false, the body ends or ctx is done. Lines that fail to
// decode are logged and skipped. The returned error is nil on clean EOF.
func readNDJSON[T any](ctx context.Context, body io.Reader, logger *slog.Logger, handle func(T) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxNDJSONLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(line, &rec); err != nil {
			logger.Warn("skipping undecodable stream record",
				"error", domain.ErrStreamDecode, "cause", err, "bytes", len(line))
			continue
		}
		if !handle(rec) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
