package loader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/marmos91/ttableserver/pkg/ttable"
)

// nullToken stands for word id 0 in table files.
const nullToken = "NULL"

// Record is one parsed table line.
type Record struct {
	Source      int32
	Target      int32
	Probability float64
}

func isSeparator(r rune) bool {
	return r == ' ' || r == '\\'
}

// ParseLine parses "<source> <target> <probability>".
//
// Fields are separated by spaces or backslashes; runs of separators count
// as one. NULL is read as word id 0. Fields after the third are ignored.
// Errors wrap ErrMalformedLine.
func ParseLine(line string) (Record, error) {
	line = strings.ReplaceAll(line, nullToken, "0")
	fields := strings.FieldsFunc(line, isSeparator)
	if len(fields) < 3 {
		return Record{}, fmt.Errorf("%w: expected 3 fields, got %d", ErrMalformedLine, len(fields))
	}

	source, err := strconv.ParseInt(fields[0], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: source word %q: %v", ErrMalformedLine, fields[0], err)
	}
	target, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("%w: target word %q: %v", ErrMalformedLine, fields[1], err)
	}
	prob, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: probability %q: %v", ErrMalformedLine, fields[2], err)
	}
	if prob == ttable.Sentinel {
		return Record{}, fmt.Errorf("%w: probability %q collides with the not-found value", ErrMalformedLine, fields[2])
	}

	return Record{
		Source:      int32(source),
		Target:      int32(target),
		Probability: prob,
	}, nil
}
