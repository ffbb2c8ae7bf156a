package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHeader = "Medicine name;Therapeutic area;Authorisation status;Active substance;Marketing authorisation holder/company name;Revision date;URL\n"

func sampleCSV(rows ...string) string {
	header := strings.ReplaceAll(sampleHeader, ";", ",")

	return header + strings.Join(rows, "\n") + "\n"
}

func collect(t *testing.T, input string, since *time.Time) ([]*Record, error) {
	t.Helper()

	var records []*Record

	for record, err := range Records(strings.NewReader(input), since, nil) {
		if err != nil {
			return records, err
		}

		records = append(records, record)
	}

	return records, nil
}

func TestRecordsMapsColumns(t *testing.T) {
	input := sampleCSV(
		`Abilify,Psychiatry,Authorised,aripiprazole,Otsuka,2024-03-01,https://example.org/epar/abilify`,
	)

	records, err := collect(t, input, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)

	record := records[0]
	assert.Equal(t, "Abilify", record.MedicineName)
	assert.Equal(t, "Psychiatry", record.TherapeuticArea)
	assert.Equal(t, "Authorised", record.AuthorizationStatus)
	assert.Equal(t, "aripiprazole", record.ActiveSubstanceRaw)
	assert.Equal(t, "Otsuka", record.MAHRaw)
	assert.Equal(t, "https://example.org/epar/abilify", record.SourceURL)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), record.LastUpdated)
}

func TestRecordsFiltersByHighWaterMark(t *testing.T) {
	input := sampleCSV(
		`Old Medicine,,Authorised,x,MAH A,2024-01-01,`,
		`Boundary Medicine,,Authorised,y,MAH B,2024-02-01,`,
		`New Medicine,,Authorised,z,MAH C,2024-02-02,`,
	)

	since := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	records, err := collect(t, input, &since)
	require.NoError(t, err)

	// Rows at or under the mark are excluded.
	require.Len(t, records, 1)
	assert.Equal(t, "New Medicine", records[0].MedicineName)
}

func TestRecordsSkipsUnparseableDates(t *testing.T) {
	input := sampleCSV(
		`Good,,Authorised,x,MAH,2024-05-01,`,
		`Bad,,Authorised,y,MAH,not-a-date,`,
		`Empty,,Authorised,z,MAH,,`,
	)

	records, err := collect(t, input, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Good", records[0].MedicineName)
}

func TestRecordsAcceptsAlternativeDateLayouts(t *testing.T) {
	input := sampleCSV(
		`Slash,,Authorised,x,MAH,01/03/2024,`,
	)

	records, err := collect(t, input, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), records[0].LastUpdated)
}

func TestRecordsRequiresRevisionDateColumn(t *testing.T) {
	input := "Medicine name,URL\nAbilify,https://example.org\n"

	_, err := collect(t, input, nil)
	require.ErrorIs(t, err, ErrMissingHeader)
}

func TestRecordsStopsWhenConsumerBreaks(t *testing.T) {
	input := sampleCSV(
		`One,,Authorised,x,MAH,2024-01-01,`,
		`Two,,Authorised,y,MAH,2024-01-02,`,
	)

	var seen int

	for _, err := range Records(strings.NewReader(input), nil, nil) {
		require.NoError(t, err)

		seen++

		break
	}

	assert.Equal(t, 1, seen)
}

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Medicine name", "medicine_name"},
		{"Marketing authorisation holder/company name", "marketing_authorisation_holder_company_name"},
		{"Revision date", "revision_date"},
		{"URL", "url"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, snakeCase(tt.in), tt.in)
	}
}
