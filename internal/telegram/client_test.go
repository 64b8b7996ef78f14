package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/hypetrack/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"plain", "plain"},
		{"a.b", "a\\.b"},
		{"score (0.5)", "score \\(0\\.5\\)"},
		{"a_b*c", "a\\_b\\*c"},
	}

	for _, tt := range tests {
		result := escapeMarkdownV2(tt.in)
		if result != tt.expected {
			t.Errorf("escapeMarkdownV2(%q) = %q, expected %q", tt.in, result, tt.expected)
		}
	}
}

func TestFormatDigest(t *testing.T) {
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	q := models.Query{
		Term:   "FHIR",
		Start:  start,
		End:    start.AddDate(3, 0, 0),
		Bucket: models.Yearly,
	}
	v := 0.9
	h := models.HypeSeries{
		Term: "FHIR",
		Points: []models.HypePoint{
			{Bucket: 0, Span: models.Span{Start: start, End: start.AddDate(1, 0, 0)}, Composite: 0.1},
			{Bucket: 1, Span: models.Span{Start: start.AddDate(1, 0, 0), End: start.AddDate(2, 0, 0)}, Composite: 0.9,
				Components: map[models.SourceID]*float64{models.SourceScholar: &v}},
			{Bucket: 2, Span: models.Span{Start: start.AddDate(2, 0, 0), End: start.AddDate(3, 0, 0)}, Composite: 0.4},
		},
		PeakBucket: 1,
		Correlations: []models.Correlation{
			{A: models.SourceScholar, B: models.SourceTrends, Coefficient: 0.87},
		},
		Missing: []models.SourceID{models.SourceCorpus},
	}

	msg := formatDigest(q, h)

	if !strings.Contains(msg, "FHIR") {
		t.Error("digest should name the term")
	}
	if !strings.Contains(msg, "2021") {
		t.Error("digest should name the peak bucket")
	}
	if !strings.Contains(msg, "corpus") {
		t.Error("digest should list unavailable sources")
	}
	if !strings.Contains(msg, "0\\.87") {
		t.Error("digest should report the correlation with MarkdownV2 escaping")
	}
	if strings.Contains(msg, " (") {
		t.Error("unescaped parenthesis would be rejected by MarkdownV2")
	}
}
