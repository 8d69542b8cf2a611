package chainlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/oracleadapter/internal/domain"
)

// NodeConfig describes one Chainlink node that answers job-based requests.
// OracleAddress is the key the node signs fulfillments with.
type NodeConfig struct {
	OracleAddress string
	URL           string
	AccessKey     string
	AccessSecret  string
	Timeout       time.Duration
}

// NodeClient triggers webhook job runs on a Chainlink node. The node
// answers later by calling the adapter's fulfill endpoint with the token it
// was given here.
type NodeClient struct {
	baseURL      string
	accessKey    string
	accessSecret string
	client       *http.Client
}

// NewNodeClient creates a client with a bounded request timeout (10s when
// unset).
func NewNodeClient(cfg NodeConfig) *NodeClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NodeClient{
		baseURL:      strings.TrimRight(cfg.URL, "/"),
		accessKey:    cfg.AccessKey,
		accessSecret: cfg.AccessSecret,
		client:       &http.Client{Timeout: timeout},
	}
}

type runRequest struct {
	RequestID     string `json:"requestId"`
	Identifier    string `json:"identifier"`
	IdentifierHex string `json:"identifierHex"`
	Timestamp     int64  `json:"timestamp"`
}

type runResponse struct {
	Data struct {
		Type       string `json:"type"`
		ID         string `json:"id"`
		Attributes struct {
			ID     string `json:"id"`
			JobID  string `json:"jobId"`
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

// Request starts a run of the bound job and returns the node's run id.
func (n *NodeClient) Request(ctx context.Context, req domain.JobRequest) (string, error) {
	job := string(bytes.TrimRight(req.JobID, "\x00"))
	if job == "" {
		return "", fmt.Errorf("chainlink node: empty job id")
	}

	body, err := json.Marshal(runRequest{
		RequestID:     string(req.Token),
		Identifier:    req.Identifier.String(),
		IdentifierHex: req.Identifier.Hex(),
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		return "", fmt.Errorf("chainlink node: marshal run: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/jobs/%s/runs", n.baseURL, url.PathEscape(job))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chainlink node: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if n.accessKey != "" {
		httpReq.Header.Set("X-Chainlink-EA-AccessKey", n.accessKey)
		httpReq.Header.Set("X-Chainlink-EA-Secret", n.accessSecret)
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chainlink node: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("chainlink node: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var out runResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("chainlink node: decode response: %w", err)
	}
	if out.Data.ID != "" {
		return out.Data.ID, nil
	}
	return out.Data.Attributes.ID, nil
}
