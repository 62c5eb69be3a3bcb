package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// lineLen is the fixed width of a two-line element record line.
const lineLen = 69

// ParseError describes a malformed two-line element record.
type ParseError struct {
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tle: invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("tle: invalid %s %q", e.Field, e.Value)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseElements parses a single two-line element record into Elements.
// Both lines must be exactly 69 columns with numeric fields in the standard
// positions; anything else is a *ParseError.
func ParseElements(line1, line2 string) (Elements, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")

	if len(line1) != lineLen {
		return Elements{}, &ParseError{Field: "line1 length", Value: strconv.Itoa(len(line1))}
	}
	if len(line2) != lineLen {
		return Elements{}, &ParseError{Field: "line2 length", Value: strconv.Itoa(len(line2))}
	}
	if line1[0] != '1' {
		return Elements{}, &ParseError{Field: "line1 number", Value: string(line1[0])}
	}
	if line2[0] != '2' {
		return Elements{}, &ParseError{Field: "line2 number", Value: string(line2[0])}
	}

	noradID, err := parseIntField("norad id", line1[2:7])
	if err != nil {
		return Elements{}, err
	}
	norad2, err := parseIntField("norad id (line2)", line2[2:7])
	if err != nil {
		return Elements{}, err
	}
	if noradID != norad2 {
		return Elements{}, &ParseError{Field: "norad id", Value: fmt.Sprintf("%d vs %d", noradID, norad2)}
	}

	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return Elements{}, err
	}

	incl, err := parseFloatField("inclination", line2[8:16])
	if err != nil {
		return Elements{}, err
	}
	raan, err := parseFloatField("raan", line2[17:25])
	if err != nil {
		return Elements{}, err
	}
	// Eccentricity is printed without the leading "0.".
	ecc, err := parseFloatField("eccentricity", "0."+strings.TrimSpace(line2[26:33]))
	if err != nil {
		return Elements{}, err
	}
	argp, err := parseFloatField("argument of perigee", line2[34:42])
	if err != nil {
		return Elements{}, err
	}
	ma, err := parseFloatField("mean anomaly", line2[43:51])
	if err != nil {
		return Elements{}, err
	}
	mm, err := parseFloatField("mean motion", line2[52:63])
	if err != nil {
		return Elements{}, err
	}
	if mm <= 0 {
		return Elements{}, &ParseError{Field: "mean motion", Value: strconv.FormatFloat(mm, 'f', -1, 64)}
	}

	return Elements{
		NORADID:        noradID,
		Epoch:          epoch,
		InclinationDeg: incl,
		RAANDeg:        raan,
		Eccentricity:   ecc,
		ArgPerigeeDeg:  argp,
		MeanAnomalyDeg: ma,
		MeanMotion:     mm,
		Line1:          line1,
		Line2:          line2,
	}, nil
}

func parseIntField(field, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ParseError{Field: field, Value: raw, Err: err}
	}
	return n, nil
}

func parseFloatField(field, raw string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &ParseError{Field: field, Value: raw, Err: err}
	}
	return f, nil
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, &ParseError{Field: "epoch", Value: s}
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, &ParseError{Field: "epoch year", Value: s[:2], Err: err}
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, &ParseError{Field: "epoch day", Value: s[2:], Err: err}
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))), nil
}

// Parse reads a 3-line NORAD element feed (name, line1, line2 repeating)
// from r and returns parsed entries. Malformed entries are skipped with a
// warning log rather than failing the whole feed.
func Parse(r io.Reader, logger *slog.Logger) ([]Elements, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading element feed: %w", err)
	}

	var out []Elements
	for i := 0; i+2 < len(lines); {
		name := lines[i]
		line1 := lines[i+1]
		line2 := lines[i+2]

		if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
			// Try to find the next valid triplet.
			logger.Warn("skipping malformed element entry", "line_index", i, "name", name)
			i++
			continue
		}

		el, err := ParseElements(line1, line2)
		if err != nil {
			logger.Warn("skipping unparseable element entry", "name", name, "error", err)
			i += 3
			continue
		}
		el.Name = strings.TrimSpace(name)
		out = append(out, el)
		i += 3
	}

	return out, nil
}
