package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/retina-check/internal/auth"
	"github.com/example/retina-check/internal/classifier"
	"github.com/example/retina-check/internal/report"
	"github.com/example/retina-check/internal/repository"
	"github.com/example/retina-check/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	analyzeResult *usecase.AnalysisResult
	analyzeErr    error
	record        *repository.AnalysisRecord
	recordErr     error
	records       []repository.AnalysisRecord
	reportData    []byte
	reportErr     error
	lastUserID    string
}

func (s *stubService) Analyze(ctx context.Context, userID, filename string, content io.Reader) (*usecase.AnalysisResult, error) {
	s.lastUserID = userID
	if s.analyzeErr != nil {
		return nil, s.analyzeErr
	}
	return s.analyzeResult, nil
}

func (s *stubService) GetRecord(ctx context.Context, userID string, id uint) (*repository.AnalysisRecord, error) {
	s.lastUserID = userID
	if s.recordErr != nil {
		return nil, s.recordErr
	}
	return s.record, nil
}

func (s *stubService) History(ctx context.Context, userID string) ([]repository.AnalysisRecord, error) {
	s.lastUserID = userID
	return s.records, nil
}

func (s *stubService) RecordReport(ctx context.Context, userID string, id uint) ([]byte, error) {
	s.lastUserID = userID
	if s.reportErr != nil {
		return nil, s.reportErr
	}
	return s.reportData, nil
}

func (s *stubService) HistoryReport(ctx context.Context, userID string) ([]byte, error) {
	s.lastUserID = userID
	if s.reportErr != nil {
		return nil, s.reportErr
	}
	return s.reportData, nil
}

func (s *stubService) GetSummary(ctx context.Context, userID string) (*usecase.HistorySummary, error) {
	s.lastUserID = userID
	return &usecase.HistorySummary{}, nil
}

func newTestRouter(svc Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, svc, auth.JWTMiddleware(testJWTSecret, ""))
	return router
}

func TestAnalyzeRequiresAuthentication(t *testing.T) {
	router := newTestRouter(&stubService{})

	body, contentType := buildMultipartBody(t, "fundus.png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", body)
	req.Header.Set("Content-Type", contentType)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestAnalyzeRejectsMissingFile(t *testing.T) {
	router := newTestRouter(&stubService{})

	req := httptest.NewRequest(http.MethodPost, "/api/analyses", bytes.NewReader(nil))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestAnalyzeSuccessResponse(t *testing.T) {
	svc := &stubService{analyzeResult: &usecase.AnalysisResult{
		RecordID:    7,
		ImageRef:    "20240501_120000_abcd1234_fundus.png",
		Label:       classifier.LabelPositive,
		Probability: 0.92,
		ResultText:  "POSITIVE (p=0.92)",
		Persisted:   true,
	}}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "fundus.png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body)
	}
	if svc.lastUserID != "user-123" {
		t.Fatalf("expected the token subject to reach the service, got %q", svc.lastUserID)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if payload["result"] != "POSITIVE (p=0.92)" {
		t.Fatalf("unexpected result: %v", payload["result"])
	}
	if payload["saved"] != true {
		t.Fatalf("expected saved=true, got %v", payload["saved"])
	}
	if payload["record_id"] != float64(7) {
		t.Fatalf("expected record_id 7, got %v", payload["record_id"])
	}
}

func TestAnalyzePersistFailureStillShowsResult(t *testing.T) {
	svc := &stubService{analyzeResult: &usecase.AnalysisResult{
		ImageRef:    "20240501_120000_abcd1234_fundus.png",
		Label:       classifier.LabelNegative,
		Probability: 0.12,
		ResultText:  "NEGATIVE (p=0.12)",
		Persisted:   false,
		Notice:      usecase.PersistFailedNotice,
	}}
	router := newTestRouter(svc)

	body, contentType := buildMultipartBody(t, "fundus.png", []byte("pixels"))
	req := httptest.NewRequest(http.MethodPost, "/api/analyses", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected degraded success, got status %d", resp.Code)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if payload["result"] != "NEGATIVE (p=0.12)" {
		t.Fatalf("expected the computed result, got %v", payload["result"])
	}
	if payload["saved"] != false {
		t.Fatalf("expected saved=false, got %v", payload["saved"])
	}
	if payload["notice"] != usecase.PersistFailedNotice {
		t.Fatalf("expected notice %q, got %v", usecase.PersistFailedNotice, payload["notice"])
	}
	if _, present := payload["record_id"]; present {
		t.Fatal("an unsaved result must not carry a record id")
	}
}

func TestAnalyzeErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"classify failure", usecase.ErrClassify, http.StatusUnprocessableEntity},
		{"store failure", usecase.ErrStoreImage, http.StatusInternalServerError},
		{"unknown failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&stubService{analyzeErr: tt.err})

			body, contentType := buildMultipartBody(t, "fundus.png", []byte("pixels"))
			req := httptest.NewRequest(http.MethodPost, "/api/analyses", body)
			req.Header.Set("Content-Type", contentType)
			req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

			resp := httptest.NewRecorder()
			router.ServeHTTP(resp, req)

			if resp.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, resp.Code)
			}
		})
	}
}

func TestGetRecordNotFound(t *testing.T) {
	router := newTestRouter(&stubService{recordErr: repository.ErrNotFound})

	req := httptest.NewRequest(http.MethodGet, "/api/analyses/999999", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestRecordReportDelivery(t *testing.T) {
	router := newTestRouter(&stubService{reportData: []byte("%PDF-1.3 test")})

	req := httptest.NewRequest(http.MethodGet, "/api/reports/7", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("expected application/pdf, got %s", ct)
	}
	if cd := resp.Header().Get("Content-Disposition"); cd != `attachment; filename="retina_report_7.pdf"` {
		t.Fatalf("unexpected content disposition: %s", cd)
	}
}

func TestHistoryReportEmptyIsNotFound(t *testing.T) {
	router := newTestRouter(&stubService{reportErr: report.ErrEmptyReport})

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "user-123"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestHealthIsUnauthenticated(t *testing.T) {
	router := newTestRouter(&stubService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
}

func buildMultipartBody(t *testing.T, filename string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
