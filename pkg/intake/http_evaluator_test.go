package intake_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visiongate/visiongate/pkg/contracts"
	"github.com/visiongate/visiongate/pkg/intake"
)

func TestHTTPEvaluator_Evaluate(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req struct {
			ArtifactID string `json:"artifact_id"`
			TestRunID  string `json:"test_run_id"`
			ImageB64   string `json:"image_b64"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "art-1", req.ArtifactID)
		assert.Equal(t, "run-1", req.TestRunID)
		assert.Equal(t, base64.StdEncoding.EncodeToString(image), req.ImageB64)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"detected":   true,
			"confidence": 0.93,
			"rationale":  "modal obscures the form",
			"cost_usd":   0.0035,
		})
	}))
	defer srv.Close()

	ev := intake.NewHTTPEvaluator("vision-a", "1.2.0", srv.URL, "secret", srv.Client())
	artifact := contracts.Artifact{ArtifactID: "art-1", TestRunID: "run-1"}

	j, err := ev.Evaluate(context.Background(), artifact, image)
	require.NoError(t, err)

	assert.Equal(t, "vision-a", j.EvaluatorID)
	assert.Equal(t, "1.2.0", j.EvaluatorVersion)
	assert.True(t, j.Detected)
	assert.InDelta(t, 0.93, j.Confidence, 1e-9)
	assert.Equal(t, "modal obscures the form", j.Rationale)
	assert.InDelta(t, 0.0035, j.CostUSD, 1e-9)
	assert.GreaterOrEqual(t, j.LatencyMS, int64(0))
	assert.NoError(t, j.Validate())
}

func TestHTTPEvaluator_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ev := intake.NewHTTPEvaluator("vision-a", "1.0.0", srv.URL, "", srv.Client())

	_, err := ev.Evaluate(context.Background(), contracts.Artifact{ArtifactID: "art-1"}, []byte("img"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestHTTPEvaluator_HonorsContext(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ev := intake.NewHTTPEvaluator("vision-a", "1.0.0", srv.URL, "", srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := ev.Evaluate(ctx, contracts.Artifact{ArtifactID: "art-1"}, []byte("img"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
