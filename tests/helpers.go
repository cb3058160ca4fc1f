package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/coinledger/coinledger/pkg"
)

type ApiResponse struct {
	TraceID string                 `json:"traceId"`
	Data    map[string]interface{} `json:"data"`
}
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func PostRequest(t *testing.T, url string, payload interface{}) (*http.Response, error) {
	return jsonRequest(t, http.MethodPost, url, payload)
}

func PutRequest(t *testing.T, url string, payload interface{}) (*http.Response, error) {
	return jsonRequest(t, http.MethodPut, url, payload)
}

func GetRequest(t *testing.T, url string) (*http.Response, error) {
	t.Logf("Request GET %s", url)
	resp, err := http.Get(url)
	if resp != nil {
		t.Logf("Response GET %s: Status %d", url, resp.StatusCode)
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func jsonRequest(t *testing.T, method, url string, payload interface{}) (*http.Response, error) {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequest(method, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{}
	t.Logf("Request %s %s", method, url)
	resp, err := client.Do(req)
	if resp != nil {
		t.Logf("Response %s %s: Status %d", method, url, resp.StatusCode)
		t.Cleanup(func() { _ = resp.Body.Close() })
	}
	return resp, err
}

func GetTraceId(resp *http.Response) string {
	return resp.Header.Get(pkg.HeaderTraceId)
}

func DecodeSuccess(r io.Reader) (ApiResponse, error) {
	var out ApiResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func DecodeError(r io.Reader) (ErrorResponse, error) {
	var out ErrorResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
