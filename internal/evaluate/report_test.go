package evaluate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `dim_customer.sql:
` + "```json" + `
{
  "name": ["uses lower() in SQL but upper() in lineage"],
  "tier": [],
  "id": []
}
` + "```" + `

fact_sales.sql:
{"amount": ["missing source column", "type is wrong"], "qty": "rounded in SQL"}

stage_product.sql:
the model did not answer with JSON

empty.sql:
{}
`

func TestParseReport(t *testing.T) {
	summaries := ParseReport(sampleReport)
	require.Len(t, summaries, 4)

	tests := []struct {
		script       string
		errorColumns []string
		total        int
		ok           int
		parseError   bool
	}{
		{script: "dim_customer.sql", errorColumns: []string{"name"}, total: 3, ok: 2},
		{script: "fact_sales.sql", errorColumns: []string{"amount", "qty"}, total: 2, ok: 0},
		{script: "stage_product.sql", parseError: true},
		{script: "empty.sql", total: 0, ok: 0},
	}

	for i, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			s := summaries[i]
			assert.Equal(t, tt.script, s.Script)
			assert.Equal(t, tt.errorColumns, s.ErrorColumns)
			assert.Equal(t, tt.total, s.TotalColumns)
			assert.Equal(t, tt.ok, s.OKColumns)
			if tt.parseError {
				assert.NotEmpty(t, s.ParseError)
				assert.Equal(t, 1, s.ErrorCount)
				assert.False(t, s.OK())
			} else {
				assert.Empty(t, s.ParseError)
				assert.Equal(t, len(tt.errorColumns), s.ErrorCount)
			}
		})
	}

	assert.True(t, summaries[3].OK())
}

func TestTotalAndDetailedIssues(t *testing.T) {
	summaries := ParseReport(sampleReport)

	assert.Equal(t, Totals{Scripts: 4, Columns: 5, OK: 2, WithIssues: 3}, Total(summaries))

	issues := DetailedIssues(summaries)
	require.Len(t, issues, 5)
	assert.Equal(t, Issue{Script: "dim_customer.sql", Column: "name", Description: "uses lower() in SQL but upper() in lineage"}, issues[0])
	assert.Equal(t, Issue{Script: "fact_sales.sql", Column: "amount", Description: "missing source column"}, issues[1])
	assert.Equal(t, Issue{Script: "fact_sales.sql", Column: "amount", Description: "type is wrong"}, issues[2])
	assert.Equal(t, Issue{Script: "fact_sales.sql", Column: "qty", Description: "rounded in SQL"}, issues[3])
	assert.Equal(t, "stage_product.sql", issues[4].Script)
	assert.Empty(t, issues[4].Column)
}

func TestParseReport_Empty(t *testing.T) {
	assert.Empty(t, ParseReport(""))
	assert.Empty(t, ParseReport("no headers here"))
}
