package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/example/retina-check/internal/repository"
)

func TestGetSummary(t *testing.T) {
	high := 0.9
	low := 0.1
	repo := &stubRepository{records: []repository.AnalysisRecord{
		{ID: 1, Label: 1, Score: &high, UserID: "user-a", CreatedAt: time.Now().UTC()},
		{ID: 2, Label: 0, Score: &low, UserID: "user-a", CreatedAt: time.Now().UTC()},
	}}
	uc := newTestUseCase(repo, &stubCache{}, &stubClassifier{}, &stubImageStore{})

	summary, err := uc.GetSummary(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalAnalyses != 2 {
		t.Fatalf("expected 2 analyses, got %d", summary.TotalAnalyses)
	}
	if summary.PositiveAnalyses != 1 {
		t.Fatalf("expected 1 positive, got %d", summary.PositiveAnalyses)
	}
	if summary.PositiveRate != 0.5 {
		t.Fatalf("expected positive rate 0.5, got %v", summary.PositiveRate)
	}
}

func TestGetSummaryEmptyHistory(t *testing.T) {
	uc := newTestUseCase(&stubRepository{}, &stubCache{}, &stubClassifier{}, &stubImageStore{})

	summary, err := uc.GetSummary(context.Background(), "user-a")
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if summary.TotalAnalyses != 0 || summary.PositiveRate != 0 {
		t.Fatalf("expected zeroed summary, got %+v", summary)
	}
}
