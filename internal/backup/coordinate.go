package backup

import (
	"fmt"
	"strconv"
	"strings"
)

// Coordinate is a position in the server's binary log stream: a segment
// file name plus a byte offset within it.
type Coordinate struct {
	File     string `json:"file"`
	Position uint64 `json:"position"`
}

// IsZero reports whether the coordinate carries no position
func (c Coordinate) IsZero() bool {
	return c.File == "" && c.Position == 0
}

// String renders the coordinate in marker file form
func (c Coordinate) String() string {
	return fmt.Sprintf("%s %d", c.File, c.Position)
}

// Equal reports whether two coordinates name the same position
func (c Coordinate) Equal(other Coordinate) bool {
	return c.File == other.File && c.Position == other.Position
}

// SequenceNumber extracts the numeric segment sequence from the
// coordinate's file name. Segment names carry a fixed-width decimal
// suffix (mysql-bin.000007), and ordering must follow that number, not
// the lexicographic file name.
func (c Coordinate) SequenceNumber() (int, error) {
	return SegmentSequence(c.File)
}

// Compare orders two coordinates. It returns -1 when c is earlier than
// other, 0 when equal and 1 when later. Coordinates on different
// segments order by sequence number; on the same segment by offset.
// Comparing segments from different basenames is a caller bug and
// reported as an error.
func (c Coordinate) Compare(other Coordinate) (int, error) {
	if c.File == other.File {
		switch {
		case c.Position < other.Position:
			return -1, nil
		case c.Position > other.Position:
			return 1, nil
		default:
			return 0, nil
		}
	}

	baseA, seqA, err := splitSegmentName(c.File)
	if err != nil {
		return 0, err
	}
	baseB, seqB, err := splitSegmentName(other.File)
	if err != nil {
		return 0, err
	}

	if baseA != baseB {
		return 0, NewValidationError(
			fmt.Sprintf("cannot compare binlog segments from different basenames: %q vs %q", c.File, other.File), nil)
	}

	if seqA < seqB {
		return -1, nil
	}
	return 1, nil
}

// Before reports whether c is strictly earlier than other
func (c Coordinate) Before(other Coordinate) (bool, error) {
	cmp, err := c.Compare(other)
	if err != nil {
		return false, err
	}
	return cmp < 0, nil
}

// SegmentSequence returns the numeric sequence of a binlog segment name
func SegmentSequence(name string) (int, error) {
	_, seq, err := splitSegmentName(name)
	return seq, err
}

// SegmentBasename returns the basename part of a binlog segment name,
// e.g. "mysql-bin" for "mysql-bin.000007"
func SegmentBasename(name string) (string, error) {
	base, _, err := splitSegmentName(name)
	return base, err
}

func splitSegmentName(name string) (string, int, error) {
	idx := strings.LastIndex(name, ".")
	if idx <= 0 || idx == len(name)-1 {
		return "", 0, NewValidationError(
			fmt.Sprintf("malformed binlog segment name %q", name), nil)
	}

	base := name[:idx]
	seq, err := strconv.Atoi(name[idx+1:])
	if err != nil {
		return "", 0, NewValidationError(
			fmt.Sprintf("malformed binlog segment sequence in %q", name), err)
	}

	return base, seq, nil
}

// StripIndexSuffix removes a trailing .idx or .index from a segment
// name. Older marker writers recorded names read from the binlog index
// file, so markers in the wild may carry the index suffix.
func StripIndexSuffix(name string) string {
	if strings.HasSuffix(name, ".index") {
		return strings.TrimSuffix(name, ".index")
	}
	if strings.HasSuffix(name, ".idx") {
		return strings.TrimSuffix(name, ".idx")
	}
	return name
}

// ParseCoordinate parses marker file content: two whitespace-separated
// fields, segment file name and byte offset. The segment name is
// normalized with StripIndexSuffix.
func ParseCoordinate(content string) (Coordinate, error) {
	fields := strings.Fields(content)
	if len(fields) != 2 {
		return Coordinate{}, NewMarkerError(
			fmt.Sprintf("marker content must have exactly two fields, got %d", len(fields)), nil)
	}

	file := StripIndexSuffix(fields[0])
	if file == "" {
		return Coordinate{}, NewMarkerError("marker has empty segment file name", nil)
	}

	position, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Coordinate{}, NewMarkerError(
			fmt.Sprintf("marker has malformed byte offset %q", fields[1]), err)
	}

	return Coordinate{File: file, Position: position}, nil
}
