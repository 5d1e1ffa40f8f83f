package summarizer

import (
	"strings"
	"testing"

	"pdfchat/internal/domain"
)

func TestSummarizePicksFrequentSentencesInOrder(t *testing.T) {
	pages := []domain.Page{
		{Number: 1, Text: "Golf is played on a course. The weather was nice."},
		{Number: 2, Text: "A golf course has eighteen holes. Golf course rules matter."},
	}
	got := NewFrequency().Summarize(pages, 2)
	if strings.Contains(got, "weather") {
		t.Errorf("low-frequency sentence picked: %q", got)
	}
	first := strings.Index(got, "played")
	second := strings.Index(got, "eighteen")
	if first < 0 || second < 0 || first > second {
		t.Errorf("expected document order, got %q", got)
	}
}

func TestSummarizeWithoutPunctuation(t *testing.T) {
	got := NewFrequency().Summarize([]domain.Page{{Number: 1, Text: "  just a heading \n "}}, 3)
	if got != "just a heading" {
		t.Errorf("unexpected summary %q", got)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if got := NewFrequency().Summarize(nil, 3); got != "" {
		t.Errorf("expected empty summary, got %q", got)
	}
}
