package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-result-api/internal/dto"
	"github.com/noah-isme/lab-result-api/internal/middleware"
	"github.com/noah-isme/lab-result-api/internal/models"
	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
)

type resultServiceMock struct {
	createResp     *dto.TransitionResponse
	createErr      error
	getResp        *models.TestResult
	getErr         error
	listResp       []models.TestResult
	listPagination *models.Pagination
	historyResp    []models.Amendment
	transitionResp *dto.TransitionResponse
	transitionErr  error

	lastCreate     dto.CreateResultRequest
	lastQuery      dto.ResultQuery
	lastTransition dto.TransitionRequest
	lastActor      string
}

func (m *resultServiceMock) Create(ctx context.Context, req dto.CreateResultRequest, actor string) (*dto.TransitionResponse, error) {
	m.lastCreate = req
	m.lastActor = actor
	return m.createResp, m.createErr
}

func (m *resultServiceMock) Get(ctx context.Context, id string) (*models.TestResult, error) {
	return m.getResp, m.getErr
}

func (m *resultServiceMock) List(ctx context.Context, query dto.ResultQuery) ([]models.TestResult, *models.Pagination, error) {
	m.lastQuery = query
	return m.listResp, m.listPagination, nil
}

func (m *resultServiceMock) GetHistory(ctx context.Context, id string) ([]models.Amendment, error) {
	return m.historyResp, nil
}

func (m *resultServiceMock) Transition(ctx context.Context, id string, req dto.TransitionRequest, actor string) (*dto.TransitionResponse, error) {
	m.lastTransition = req
	m.lastActor = actor
	return m.transitionResp, m.transitionErr
}

func newResultContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

var technician = &models.JWTClaims{UserID: "tech-1", Role: models.RoleTechnician, TenantID: "lab-a"}

func TestResultHandlerCreate(t *testing.T) {
	mockSvc := &resultServiceMock{createResp: &dto.TransitionResponse{Result: &models.TestResult{ID: "r-1", Status: models.ResultStatusEntered, Version: 2}}}
	handler := NewResultHandler(mockSvc)

	c, w := newResultContext(http.MethodPost, "/results", `{"orderId":"o-1","sampleId":"s-1","patientId":"p-1","testId":"glucose","value":"90"}`, technician)
	handler.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `"2"`, w.Header().Get("ETag"))
	assert.Equal(t, "tech-1", mockSvc.lastActor)
	assert.Equal(t, "lab-a", mockSvc.lastCreate.TenantID)
	require.NotNil(t, mockSvc.lastCreate.Value)
	assert.Equal(t, "90", *mockSvc.lastCreate.Value)
}

func TestResultHandlerCreateRequiresClaims(t *testing.T) {
	handler := NewResultHandler(&resultServiceMock{})
	c, w := newResultContext(http.MethodPost, "/results", `{}`, nil)
	handler.Create(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestResultHandlerCreateInvalidBody(t *testing.T) {
	handler := NewResultHandler(&resultServiceMock{})
	c, w := newResultContext(http.MethodPost, "/results", `{"orderId":`, technician)
	handler.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResultHandlerList(t *testing.T) {
	mockSvc := &resultServiceMock{
		listResp:       []models.TestResult{{ID: "r-1"}},
		listPagination: &models.Pagination{Page: 2, PageSize: 5, TotalCount: 6},
	}
	handler := NewResultHandler(mockSvc)

	c, w := newResultContext(http.MethodGet, "/results?patient_id=p-1&status=Final,%20amended&page=2&page_size=5", "", technician)
	handler.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p-1", mockSvc.lastQuery.PatientID)
	assert.Equal(t, []models.ResultStatus{models.ResultStatusFinal, models.ResultStatusAmended}, mockSvc.lastQuery.Status)
	assert.Equal(t, 2, mockSvc.lastQuery.Page)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "pagination")
}

func TestResultHandlerGetSetsETag(t *testing.T) {
	handler := NewResultHandler(&resultServiceMock{getResp: &models.TestResult{ID: "r-1", Version: 4}})

	c, w := newResultContext(http.MethodGet, "/results/r-1", "", technician)
	c.Params = gin.Params{{Key: "id", Value: "r-1"}}
	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"4"`, w.Header().Get("ETag"))

	c, w = newResultContext(http.MethodGet, "/results/r-1", "", technician)
	c.Request.Header.Set("If-None-Match", `"4"`)
	handler.Get(c)
	assert.Equal(t, http.StatusNotModified, c.Writer.Status())
}

func TestResultHandlerGetNotFound(t *testing.T) {
	handler := NewResultHandler(&resultServiceMock{getErr: appErrors.Clone(appErrors.ErrNotFound, "result r-9 not found")})
	c, w := newResultContext(http.MethodGet, "/results/r-9", "", technician)
	handler.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestResultHandlerTransitionUsesIfMatch(t *testing.T) {
	mockSvc := &resultServiceMock{transitionResp: &dto.TransitionResponse{Result: &models.TestResult{ID: "r-1", Status: models.ResultStatusFinal, Version: 5}}}
	handler := NewResultHandler(mockSvc)

	c, w := newResultContext(http.MethodPost, "/results/r-1/transitions", `{"event":"approve","payload":{"notifiedPerson":"Dr. Smith","notificationTime":"14:30"}}`, technician)
	c.Request.Header.Set("If-Match", `"4"`)
	c.Params = gin.Params{{Key: "id", Value: "r-1"}}
	handler.Transition(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(4), mockSvc.lastTransition.ExpectedVersion)
	assert.Equal(t, models.EventApprove, mockSvc.lastTransition.Event)
	assert.Equal(t, "Dr. Smith", mockSvc.lastTransition.Payload.NotifiedPerson)
	assert.Equal(t, `"5"`, w.Header().Get("ETag"))
}

func TestResultHandlerTransitionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "conflict", err: appErrors.ErrVersionConflict, want: http.StatusConflict},
		{name: "critical ack", err: appErrors.ErrCriticalAckRequired, want: http.StatusPreconditionRequired},
		{name: "blocked", err: appErrors.ErrValidationBlocked, want: http.StatusUnprocessableEntity},
		{name: "invalid transition", err: appErrors.ErrInvalidTransition, want: http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewResultHandler(&resultServiceMock{transitionErr: tc.err})
			c, w := newResultContext(http.MethodPost, "/results/r-1/transitions", `{"event":"approve","expectedVersion":3}`, technician)
			handler.Transition(c)
			require.Equal(t, tc.want, w.Code)

			var body struct {
				Error *appErrors.Error `json:"error"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.NotNil(t, body.Error)
			assert.Equal(t, appErrors.FromError(tc.err).Code, body.Error.Code)
		})
	}
}

type evaluationServiceMock struct {
	outcome models.ValidationOutcome
	last    dto.EvaluateRequest
}

func (m *evaluationServiceMock) Evaluate(ctx context.Context, req dto.EvaluateRequest) (models.ValidationOutcome, error) {
	m.last = req
	return m.outcome, nil
}

type ruleCacheMock struct {
	invalidated []string
}

func (m *ruleCacheMock) Invalidate(ctx context.Context, testID string) error {
	m.invalidated = append(m.invalidated, testID)
	return nil
}

func TestRuleHandlerEvaluate(t *testing.T) {
	evaluator := &evaluationServiceMock{outcome: models.ValidationOutcome{IsValid: true, Flag: models.FlagAbnormalHigh}}
	handler := NewRuleHandler(evaluator, &ruleCacheMock{})

	c, w := newResultContext(http.MethodPost, "/evaluations", `{"testId":"glucose","value":"250","referenceRange":{"low":70,"high":100}}`, technician)
	handler.Evaluate(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "glucose", evaluator.last.TestID)
	require.NotNil(t, evaluator.last.ReferenceRange)
	assert.Equal(t, 100.0, *evaluator.last.ReferenceRange.High)
	assert.Contains(t, w.Body.String(), `"abnormal_high"`)
}

func TestRuleHandlerInvalidate(t *testing.T) {
	cache := &ruleCacheMock{}
	handler := NewRuleHandler(&evaluationServiceMock{}, cache)

	for _, testID := range []string{"glucose", "*"} {
		c, _ := newResultContext(http.MethodPost, "/rules/"+testID+"/invalidate", "", technician)
		c.Params = gin.Params{{Key: "testId", Value: testID}}
		handler.Invalidate(c)
		assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	}
	assert.Equal(t, []string{"glucose", ""}, cache.invalidated)
}
