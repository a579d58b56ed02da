package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Status string          `json:"status"`
}

type remoteData struct {
	Image    []byte `json:"image"`
	Status   string `json:"status"`
	Detected bool   `json:"detected"`
	Payload  string `json:"payload"`
}

func newRemote(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second)
}

// runRemote posts the input image to the server's REST API.
func runRemote(o options, client *resty.Client) (result, error) {
	data, err := os.ReadFile(o.in)
	if err != nil {
		return result{}, err
	}
	var env envelope
	req := client.R().
		SetFileReader("image", filepath.Base(o.in), bytes.NewReader(data)).
		SetResult(&env).
		SetError(&env)
	switch o.mode {
	case modeEmbed:
		req.SetFormData(map[string]string{"payload": o.payload})
		if o.verify {
			req.SetQueryParam("verify", "true")
		}
	case modeResidual:
		if o.scale > 0 {
			req.SetFormData(map[string]string{"scale": strconv.FormatFloat(o.scale, 'f', -1, 32)})
		}
	}
	resp, err := req.Post(fmt.Sprintf("/api/engines/%s/%s", o.engineID, o.mode))
	if err != nil {
		return result{}, err
	}
	if resp.IsError() {
		return result{}, fmt.Errorf("server returned %s: %s (%s)", resp.Status(), env.Error, env.Status)
	}
	var d remoteData
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return result{}, fmt.Errorf("decode response: %w", err)
	}
	return result{image: d.Image, status: d.Status, detected: d.Detected, payload: d.Payload}, nil
}
