package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// --- Engine bridge over HTTP (/message) ---

// HTTPBridge posts each message call as a JSON envelope. It is considered
// connected whenever a URL is configured.
type HTTPBridge struct {
	http *HTTP
	url  string
}

func NewHTTPBridge(h *HTTP, url string) *HTTPBridge {
	return &HTTPBridge{http: h, url: url}
}

func (b *HTTPBridge) Connected() bool { return b.url != "" }

func (b *HTTPBridge) Send(target, method, payload string) error {
	body, _ := json.Marshal(Envelope{Target: target, Method: method, Payload: payload})
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, b.url+"/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bridge %s: %s", resp.Status, string(msg))
	}
	return nil
}
