package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/lab-result-api/pkg/errors"
)

func TestErrorEnvelopeCarriesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	err := appErrors.WithDetails(appErrors.ErrCriticalAckRequired, "", map[string]interface{}{
		"missingFields": []string{"notifiedPerson"},
	})
	Error(c, err)

	require.Equal(t, http.StatusPreconditionRequired, w.Code)
	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Message string                 `json:"message"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "CRITICAL_ACK_REQUIRED", body.Error.Code)
	assert.Contains(t, body.Error.Details, "missingFields")
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestErrorWrapsUnknownAsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, c.Errors, 1)
}

func TestVersionedSetsETag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Versioned(c, http.StatusOK, gin.H{"id": "r-1"}, 7)

	assert.Equal(t, `"7"`, w.Header().Get("ETag"))
	version, ok := ParseETag(w.Header().Get("ETag"))
	require.True(t, ok)
	assert.Equal(t, int64(7), version)
}

func TestParseETag(t *testing.T) {
	cases := map[string]struct {
		raw     string
		version int64
		ok      bool
	}{
		"quoted":  {raw: `"3"`, version: 3, ok: true},
		"bare":    {raw: "12", version: 12, ok: true},
		"empty":   {raw: "", ok: false},
		"garbage": {raw: `"abc"`, ok: false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			version, ok := ParseETag(tc.raw)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.version, version)
		})
	}
}
