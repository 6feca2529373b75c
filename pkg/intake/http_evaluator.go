package intake

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/visiongate/visiongate/pkg/contracts"
)

// HTTPEvaluator calls a remote vision model over HTTP. The endpoint
// receives the artifact image and answers with a single judgment. The
// pipeline's per-evaluator timeout arrives through ctx.
type HTTPEvaluator struct {
	id       string
	version  string
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPEvaluator(id, version, endpoint, apiKey string, client *http.Client) *HTTPEvaluator {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPEvaluator{
		id:       id,
		version:  version,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
	}
}

func (e *HTTPEvaluator) ID() string      { return e.id }
func (e *HTTPEvaluator) Version() string { return e.version }

type evaluateRequest struct {
	ArtifactID string `json:"artifact_id"`
	TestRunID  string `json:"test_run_id"`
	ImageB64   string `json:"image_b64"`
}

type evaluateResponse struct {
	Detected   bool    `json:"detected"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	CostUSD    float64 `json:"cost_usd"`
}

func (e *HTTPEvaluator) Evaluate(ctx context.Context, artifact contracts.Artifact, image []byte) (contracts.Judgment, error) {
	body, err := json.Marshal(evaluateRequest{
		ArtifactID: artifact.ArtifactID,
		TestRunID:  artifact.TestRunID,
		ImageB64:   base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return contracts.Judgment{}, fmt.Errorf("evaluator %s: marshal request: %w", e.id, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return contracts.Judgment{}, fmt.Errorf("evaluator %s: create request: %w", e.id, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	started := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return contracts.Judgment{}, fmt.Errorf("evaluator %s: %w", e.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != 200 {
		return contracts.Judgment{}, fmt.Errorf("evaluator %s: status %d", e.id, resp.StatusCode)
	}

	var out evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return contracts.Judgment{}, fmt.Errorf("evaluator %s: decode response: %w", e.id, err)
	}

	return contracts.Judgment{
		EvaluatorID:      e.id,
		EvaluatorVersion: e.version,
		Detected:         out.Detected,
		Confidence:       out.Confidence,
		Rationale:        out.Rationale,
		LatencyMS:        time.Since(started).Milliseconds(),
		CostUSD:          out.CostUSD,
	}, nil
}
