package ingest

import (
	"bytes"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/JonMunkholm/moneyfest/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportBytes(t *testing.T, recs []model.Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, recs))
	return buf.Bytes()
}

func sampleRecords() []model.Record {
	return []model.Record{
		{
			Date:     civil.Date{Year: 2024, Month: 1, Day: 5},
			Payee:    "Netto",
			Amount:   decimal.RequireFromString("-45.5"),
			Category: "Food:Groceries",
		},
		{
			Date:   civil.Date{Year: 2024, Month: 1, Day: 31},
			Payee:  "Lønoverførsel",
			Amount: decimal.RequireFromString("28511.61"),
			Note:   "Monthly salary",
		},
		{
			Date:             civil.Date{Year: 2024, Month: 2, Day: 1},
			Payee:            "Kiosk",
			Amount:           decimal.Zero,
			OriginalCategory: "Misc",
		},
	}
}

func TestExport_Layout(t *testing.T) {
	got := exportBytes(t, sampleRecords())

	want := "transaction,date,payee,category,status,withdrawal,deposit,total,comment\r\n" +
		",05.01.2024,Netto,Food:Groceries,,45.50,,,\r\n" +
		",31.01.2024,L\xf8noverf\xf8rsel,,,,28511.61,,Monthly salary\r\n" +
		",01.02.2024,Kiosk,Misc,,,0.00,,\r\n"
	assert.Equal(t, want, string(got))
}

func TestExport_RoundTripIsIdempotent(t *testing.T) {
	first := exportBytes(t, sampleRecords())

	_, res, err := DetectAndParse(first)
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	second := exportBytes(t, res.Records)
	assert.Equal(t, first, second)
}

func TestExport_UnrepresentableRunes(t *testing.T) {
	recs := []model.Record{{
		Date:   civil.Date{Year: 2024, Month: 1, Day: 1},
		Payee:  "Café 東京",
		Amount: decimal.RequireFromString("-1"),
	}}

	got := exportBytes(t, recs)
	assert.Contains(t, string(got), "Caf\xe9 ??")
}

func TestExport_Empty(t *testing.T) {
	got := exportBytes(t, nil)
	assert.Equal(t, "transaction,date,payee,category,status,withdrawal,deposit,total,comment\r\n", string(got))
}

func TestExport_Latin1ThatLooksLikeUTF8(t *testing.T) {
	recs := []model.Record{{
		Date:   civil.Date{Year: 2024, Month: 1, Day: 1},
		Payee:  "Ã©clair",
		Amount: decimal.RequireFromString("-12"),
	}}
	raw := exportBytes(t, recs)
	require.Contains(t, string(raw), "\xc3\xa9clair")

	// C3 A9 is also valid UTF-8, so the file reads back as UTF-8.
	d, res, err := DetectAndParse(raw)
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF8, d.Encoding)
	assert.Equal(t, "éclair", res.Records[0].Payee)

	// Once any Latin-1 letter that is not a UTF-8 pair is present, the
	// batch decodes as Latin-1 and round-trips.
	recs = append(recs, model.Record{
		Date:   civil.Date{Year: 2024, Month: 1, Day: 2},
		Payee:  "Lønoverførsel",
		Amount: decimal.RequireFromString("100"),
	})
	raw = exportBytes(t, recs)
	d, res, err = DetectAndParse(raw)
	require.NoError(t, err)
	assert.Equal(t, EncodingLatin1, d.Encoding)
	assert.Equal(t, "Ã©clair", res.Records[0].Payee)
	assert.Equal(t, raw, exportBytes(t, res.Records))
}
