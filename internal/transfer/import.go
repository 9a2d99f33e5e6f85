package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hpungsan/overseer/internal/errors"
	"github.com/hpungsan/overseer/internal/memory"
)

// maxLineBytes bounds a single exported stream.
const maxLineBytes = 16 << 20

// ImportInput contains parameters for Import.
type ImportInput struct {
	Path string             // required
	Mode memory.RestoreMode // default: error
}

// ImportOutput contains the result of Import.
type ImportOutput struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// ImportError describes a line that could not be imported.
type ImportError struct {
	Line    int    `json:"line"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// record is one export line: either the header or a stream.
type record struct {
	OverseerExport bool `json:"_overseer_export"`
	memory.Stream
}

// Import restores streams from an export file. In error mode any unparseable line or id
// collision aborts the import with nothing restored; the other modes skip bad lines and
// report them.
func Import(ctx context.Context, store *memory.Store, opts Options, input ImportInput) (*ImportOutput, error) {
	if input.Mode == "" {
		input.Mode = memory.RestoreError
	}
	switch input.Mode {
	case memory.RestoreError, memory.RestoreSkip, memory.RestoreReplace:
	default:
		return nil, errors.NewInvalidRequest("mode must be one of: error, skip, replace")
	}

	if err := ValidatePath(input.Path, PathCheckRead, opts); err != nil {
		return nil, err
	}
	file, err := openFileNoFollowRead(input.Path)
	if err != nil {
		if errors.CodeOf(err) != errors.ErrInternal {
			return nil, err
		}
		return nil, errors.NewInternal(fmt.Errorf("failed to open import file: %w", err))
	}
	defer file.Close()

	streams, parseErrors, err := parseExport(ctx, file)
	if err != nil {
		return nil, err
	}

	out := &ImportOutput{Errors: parseErrors}
	if out.Errors == nil {
		out.Errors = []ImportError{}
	}
	if input.Mode == memory.RestoreError && len(parseErrors) > 0 {
		return out, nil
	}

	result, err := store.Restore(ctx, streams, input.Mode)
	if err != nil {
		return nil, err
	}
	out.Imported = len(result.Restored)
	out.Skipped = len(result.Skipped)
	return out, nil
}

// parseExport reads stream records, skipping the header line.
func parseExport(ctx context.Context, r io.Reader) ([]memory.Stream, []ImportError, error) {
	var streams []memory.Stream
	var parseErrors []ImportError
	seen := map[string]int{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNum := 0

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, nil, errors.NewInternal(fmt.Errorf("import cancelled: %w", err))
		}
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "PARSE_ERROR",
				Message: fmt.Sprintf("invalid JSON: %v", err),
			})
			continue
		}
		if rec.OverseerExport {
			continue
		}

		switch {
		case rec.ID == "":
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				Code:    "INVALID_RECORD",
				Message: "missing id field",
			})
			continue
		case rec.Status != memory.StatusActive && rec.Status != memory.StatusArchived:
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				ID:      rec.ID,
				Code:    "INVALID_RECORD",
				Message: fmt.Sprintf("invalid status %q", rec.Status),
			})
			continue
		}
		if first, dup := seen[rec.ID]; dup {
			parseErrors = append(parseErrors, ImportError{
				Line:    lineNum,
				ID:      rec.ID,
				Code:    "DUPLICATE_ID",
				Message: fmt.Sprintf("id already appears on line %d", first),
			})
			continue
		}
		seen[rec.ID] = lineNum
		streams = append(streams, rec.Stream)
	}

	if err := scanner.Err(); err != nil {
		return nil, nil, errors.NewInternal(fmt.Errorf("failed to read import file: %w", err))
	}
	return streams, parseErrors, nil
}
