package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// adminClient is a thin wrapper over the adminhttp JSON API, letting
// every subcommand below submit requests against a running replica
// without linking against pkg/coordinator directly.
type adminClient struct {
	baseURL string
	http    *http.Client
}

func newAdminClient(cmd *cobra.Command) *adminClient {
	addr, _ := cmd.Flags().GetString("admin-addr")
	return &adminClient{baseURL: addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *adminClient) post(path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	return c.decodeOrError(resp, out)
}

func (c *adminClient) get(path string, out interface{}) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()
	return c.decodeOrError(resp, out)
}

func (c *adminClient) decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%s", errBody.Error)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
