package extract

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Record is one raw row from the medicines index file, before identifier
// derivation and enrichment.
type Record struct {
	MedicineName           string
	AuthorizationStatus    string
	TherapeuticArea        string
	ActiveSubstanceRaw     string
	MAHRaw                 string
	SourceURL              string
	FirstAuthorizationDate *time.Time
	WithdrawalDate         *time.Time

	// LastUpdated is the source revision date and drives change data
	// capture. Rows without a parseable revision date are skipped.
	LastUpdated time.Time
}

// ErrMissingHeader is returned when the index file lacks the revision date
// column the CDC filter depends on.
var ErrMissingHeader = errors.New("index file is missing the revision date column")

// headerFields maps snake-cased source headers onto Record fields. The
// published sheet has renamed columns before; keep aliases for the ones we
// have seen.
const (
	headerMedicineName    = "medicine_name"
	headerStatus          = "authorisation_status"
	headerTherapeuticArea = "therapeutic_area"
	headerActiveSubstance = "active_substance"
	headerMAH             = "marketing_authorisation_holder_company_name"
	headerRevisionDate    = "revision_date"
	headerURL             = "url"
)

var firstAuthorizationHeaders = map[string]bool{
	"marketing_authorisation_date": true,
	"first_authorisation_date":     true,
}

var withdrawalHeaders = map[string]bool{
	"date_of_withdrawal_of_marketing_authorisation": true,
	"withdrawal_date": true,
}

// dateLayouts are tried in order when parsing source dates.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"02/01/2006",
}

var nonIdentifier = regexp.MustCompile(`[^a-zA-Z0-9_]`)
var separators = regexp.MustCompile(`[ \-/]`)

// snakeCase normalizes a source header into a snake_case identifier, the same
// way downstream column names are derived from the sheet.
func snakeCase(s string) string {
	s = separators.ReplaceAllString(s, "_")
	s = nonIdentifier.ReplaceAllString(s, "")

	return strings.ToLower(s)
}

// parseDate tries the known source layouts.
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// Records parses the index file and yields one Record per usable row,
// lazily. Rows at or under the high-water mark are skipped when since is
// non-nil; rows with no parseable revision date are skipped with a warning.
// A malformed file surfaces as the final error of the sequence.
func Records(r io.Reader, since *time.Time, logger *slog.Logger) iter.Seq2[*Record, error] {
	if logger == nil {
		logger = slog.Default()
	}

	return func(yield func(*Record, error) bool) {
		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err != nil {
			yield(nil, fmt.Errorf("read index header: %w", err))

			return
		}

		index := make(map[string]int, len(header))
		for i, name := range header {
			index[snakeCase(name)] = i
		}

		if _, ok := index[headerRevisionDate]; !ok {
			yield(nil, ErrMissingHeader)

			return
		}

		field := func(row []string, name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}

			return strings.TrimSpace(row[i])
		}

		optionalDate := func(row []string, names map[string]bool) *time.Time {
			for name := range names {
				if value := field(row, name); value != "" {
					if t, err := parseDate(value); err == nil {
						return &t
					}
				}
			}

			return nil
		}

		var skipped int

		for line := 2; ; line++ {
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}

			if err != nil {
				yield(nil, fmt.Errorf("read index row: %w", err))

				return
			}

			revision := field(row, headerRevisionDate)
			if revision == "" {
				continue
			}

			updated, err := parseDate(revision)
			if err != nil {
				logger.Warn("skipping row with unparseable revision date",
					slog.Int("line", line),
					slog.String("value", revision),
				)

				skipped++

				continue
			}

			// CDC filter: only rows strictly newer than the mark pass.
			if since != nil && !updated.After(*since) {
				continue
			}

			record := &Record{
				MedicineName:           field(row, headerMedicineName),
				AuthorizationStatus:    field(row, headerStatus),
				TherapeuticArea:        field(row, headerTherapeuticArea),
				ActiveSubstanceRaw:     field(row, headerActiveSubstance),
				MAHRaw:                 field(row, headerMAH),
				SourceURL:              field(row, headerURL),
				FirstAuthorizationDate: optionalDate(row, firstAuthorizationHeaders),
				WithdrawalDate:         optionalDate(row, withdrawalHeaders),
				LastUpdated:            updated,
			}

			if !yield(record, nil) {
				return
			}
		}

		if skipped > 0 {
			logger.Warn("rows skipped during extraction", slog.Int("count", skipped))
		}
	}
}
