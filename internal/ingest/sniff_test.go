package ingest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// aceMoneyLatin1 is an AceMoney export with ISO-8859-1 payees.
var aceMoneyLatin1 = []byte("transaction,date,payee,category,status,withdrawal,deposit,total,comment\n" +
	",21.07.2023,DSB NETBUTIK,,,160.0,,,\n" +
	",27.07.2023,L\xf8noverf\xf8rsel,,,,28511.61,,Monthly salary\n" +
	",15.08.2023,Netto,,,45.50,,,,\n")

// danskeUTF8 is a Danske Bank export.
var danskeUTF8 = []byte("\"Dato\";\"Tekst\";\"Bel\xc3\xb8b\";\"Saldo\";\"Status\";\"Afstemt\"\n" +
	"\"25.11.2024\";\"Netto ScanNGo\";\"-41,80\";\"98.302,29\";\"Udf\xc3\xb8rt\";\"Nej\"\n" +
	"\"25.11.2024\";\"433 Netto Hedehuse\";\"-609,01\";\"97.693,28\";\"Udf\xc3\xb8rt\";\"Nej\"\n" +
	"\"26.11.2024\";\"L\xc3\xb8n\";\"28.500,00\";\"126.193,28\";\"Udf\xc3\xb8rt\";\"Nej\"\n")

func TestDetect_AceMoney(t *testing.T) {
	d, err := Detect(aceMoneyLatin1)
	require.NoError(t, err)

	assert.Equal(t, FormatAceMoney, d.Kind)
	assert.Equal(t, EncodingLatin1, d.Encoding)
	assert.Equal(t, ',', d.Delimiter)
	assert.Equal(t, dotDecimal, d.Numeric)
	assert.Equal(t, 1, d.index(FieldDate))
	assert.Equal(t, 5, d.index(FieldWithdrawal))
}

func TestDetect_Danske(t *testing.T) {
	d, err := Detect(danskeUTF8)
	require.NoError(t, err)

	assert.Equal(t, FormatDanske, d.Kind)
	assert.Equal(t, EncodingUTF8, d.Encoding)
	assert.Equal(t, ';', d.Delimiter)
	assert.Equal(t, commaDecimal, d.Numeric)
	assert.Equal(t, 2, d.index(FieldAmount))
}

func TestDetect_DanskeLatin1Header(t *testing.T) {
	raw := []byte("\"Dato\";\"Tekst\";\"Bel\xf8b\";\"Saldo\";\"Status\";\"Afstemt\"\n" +
		"\"01.02.2024\";\"Netto\";\"-10,00\";\"100,00\";\"\";\"\"\n")

	d, err := Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatDanske, d.Kind)
	assert.Equal(t, EncodingLatin1, d.Encoding)
}

func TestDetect_DanskeMangledAmountHeader(t *testing.T) {
	raw := []byte("Dato;Tekst;Bel�b;Saldo;Status;Afstemt\n")

	d, err := Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatDanske, d.Kind)
}

func TestDetect_DanskeRequiresOrder(t *testing.T) {
	raw := []byte("Tekst;Dato;Beløb;Saldo;Status;Afstemt\n")

	_, err := Detect(raw)
	var ufe *UnrecognizedFormatError
	require.True(t, errors.As(err, &ufe))
}

func TestDetect_AceMoneyAliasesAndOrder(t *testing.T) {
	raw := []byte("Date,Payee,Num,S,Category,Deposit,Withdrawal,Comment,Total\n")

	d, err := Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatAceMoney, d.Kind)
	assert.Equal(t, FieldTransaction, d.Columns[2])
	assert.Equal(t, FieldStatus, d.Columns[3])
	assert.Equal(t, FieldDeposit, d.Columns[5])
}

func TestDetect_UTF8BOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, aceMoneyLatin1...)

	d, err := Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, FormatAceMoney, d.Kind)
	assert.Equal(t, EncodingUTF8, d.Encoding)
}

func TestDetect_ASCIIHeaderUTF8Body(t *testing.T) {
	raw := []byte("transaction,date,payee,category,status,withdrawal,deposit,total,comment\n" +
		",01.01.2024,Caf\xc3\xa9,,,10.00,,,\n")

	d, err := Detect(raw)
	require.NoError(t, err)
	assert.Equal(t, EncodingUTF8, d.Encoding)
}

func TestDetect_Unrecognized(t *testing.T) {
	raw := []byte("when,who,how much\n01.01.2024,Shop,10\n")

	_, err := Detect(raw)
	require.Error(t, err)

	var ufe *UnrecognizedFormatError
	require.True(t, errors.As(err, &ufe))
	assert.Equal(t, []string{"when", "who", "how much"}, ufe.Found)
	assert.Contains(t, ufe.Expected, FormatAceMoney)
	assert.Contains(t, ufe.Expected, FormatDanske)
	assert.Contains(t, err.Error(), "how much")
	assert.Contains(t, err.Error(), "withdrawal")
}

func TestDetect_MissingColumn(t *testing.T) {
	raw := []byte("transaction,date,payee,category,status,withdrawal,deposit,total\n")

	_, err := Detect(raw)
	var ufe *UnrecognizedFormatError
	require.True(t, errors.As(err, &ufe))
	assert.Len(t, ufe.Found, 8)
}

func TestDetect_Empty(t *testing.T) {
	_, err := Detect(nil)
	var ufe *UnrecognizedFormatError
	assert.True(t, errors.As(err, &ufe))
}

func TestCandidateEncodings(t *testing.T) {
	tests := []struct {
		name   string
		header []byte
		body   []byte
		bom    bool
		want   []string
	}{
		{"bom forces utf-8", []byte("a"), nil, true, []string{EncodingUTF8}},
		{"ascii header ascii body", []byte("a,b"), []byte("c,d"), false, []string{EncodingLatin1, EncodingUTF8}},
		{"ascii header utf-8 body", []byte("a,b"), []byte("\xc3\xb8"), false, []string{EncodingUTF8}},
		{"latin-1 header", []byte("Bel\xf8b"), nil, false, []string{EncodingLatin1, EncodingUTF8}},
		{"utf-8 header", []byte("Bel\xc3\xb8b"), nil, false, []string{EncodingUTF8}},
		{"c1 control byte", []byte("a\x80b"), nil, false, []string{EncodingUTF8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, candidateEncodings(tt.header, tt.body, tt.bom))
		})
	}
}
