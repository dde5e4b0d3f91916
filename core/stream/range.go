package stream

import (
	"strconv"
	"strings"

	"TrackVault/model"
)

// byteRange is an inclusive range of bytes within a file.
type byteRange struct {
	start, end int64
}

func (r byteRange) length() int64 {
	return r.end - r.start + 1
}

// parseRange interprets a Range header against a file of size bytes.
//
// ok is false when the whole file should be served: no header, or one that is
// malformed, uses another unit, asks for several ranges or has start > end.
// A well-formed range that starts at or past the end of the file yields
// model.ErrRangeNotSatisfiable.
func parseRange(header string, size int64) (r byteRange, ok bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return byteRange{}, false, nil
	}
	const unit = "bytes="
	if len(header) < len(unit) || !strings.EqualFold(header[:len(unit)], unit) {
		return byteRange{}, false, nil
	}
	set := strings.TrimSpace(header[len(unit):])
	if strings.Contains(set, ",") {
		return byteRange{}, false, nil
	}
	startStr, endStr, found := strings.Cut(set, "-")
	if !found {
		return byteRange{}, false, nil
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	// Suffix form: the last n bytes.
	if startStr == "" {
		n, perr := parseOffset(endStr)
		if perr != nil {
			return byteRange{}, false, nil
		}
		if n == 0 || size == 0 {
			return byteRange{}, false, model.ErrRangeNotSatisfiable
		}
		if n > size {
			n = size
		}
		return byteRange{start: size - n, end: size - 1}, true, nil
	}

	start, perr := parseOffset(startStr)
	if perr != nil {
		return byteRange{}, false, nil
	}
	end := size - 1
	if endStr != "" {
		end, perr = parseOffset(endStr)
		if perr != nil || end < start {
			return byteRange{}, false, nil
		}
	}
	if start >= size {
		return byteRange{}, false, model.ErrRangeNotSatisfiable
	}
	if end > size-1 {
		end = size - 1
	}
	return byteRange{start: start, end: end}, true, nil
}

func parseOffset(s string) (int64, error) {
	if s == "" || s[0] == '+' || s[0] == '-' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(s, 10, 64)
}
