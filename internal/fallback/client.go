package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DefaultBaseURL is the JDoodle-compatible API root.
const DefaultBaseURL = "https://api.jdoodle.com/v1"

// maxResponseBytes bounds how much of a delegate response is read.
const maxResponseBytes = 4 << 20

type credentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type execRequest struct {
	credentials

	Script   string `json:"script"`
	Language string `json:"language"`
}

// ExecResponse is the delegate's reply to an execute call.
type ExecResponse struct {
	Output            string     `json:"output"`
	Memory            flexString `json:"memory"`
	CPUTime           flexString `json:"cpuTime"`
	StatusCode        flexString `json:"statusCode"`
	CompilationStatus flexString `json:"compilationStatus"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type errorResponse struct {
	Error      string     `json:"error"`
	StatusCode flexString `json:"statusCode"`
}

// statusError is a non-200 reply. Retryable for 429 and 5xx.
type statusError struct {
	code    int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return fmt.Sprintf("delegate returned %d: %s", e.code, e.message)
	}
	return fmt.Sprintf("delegate returned %d", e.code)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// Client talks to a JDoodle-compatible execute endpoint.
type Client struct {
	baseURL string
	creds   credentials
	http    *http.Client
}

// NewClient creates a Client. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL, clientID, clientSecret string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: baseURL,
		creds:   credentials{ClientID: clientID, ClientSecret: clientSecret},
		http:    httpClient,
	}
}

// Execute submits script for the delegate language name.
func (c *Client) Execute(ctx context.Context, lang, script string) (*ExecResponse, error) {
	payload, err := json.Marshal(execRequest{credentials: c.creds, Script: script, Language: lang})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		return nil, &statusError{code: resp.StatusCode, message: er.Error}
	}

	result := &ExecResponse{}
	if err := json.Unmarshal(body, result); err != nil {
		return nil, fmt.Errorf("decode delegate response: %w", err)
	}
	return result, nil
}
