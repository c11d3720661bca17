package client

import (
	"io"
	"net/http"
)

// refreshTransport attaches the access token to outgoing requests and
// retries once after a refresh when the backend answers 401.
type refreshTransport struct {
	client *AuthClient
	base   http.RoundTripper
}

func (t *refreshTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.client.GetToken()
	if err != nil {
		return nil, err
	}
	if token != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || token == "" {
		return resp, nil
	}

	// The first attempt consumed the request body; a retry needs a fresh
	// copy from GetBody. Without one the request cannot be replayed.
	var retryBody io.ReadCloser
	if req.Body != nil {
		if req.GetBody == nil {
			return resp, nil
		}
		retryBody, err = req.GetBody()
		if err != nil {
			return resp, nil
		}
	}

	// The stored token was rejected; refresh once and retry.
	t.client.mu.Lock()
	cred, _ := t.client.storage.GetCredential(t.client.serverURL)
	if cred == nil || !cred.HasRefreshToken() {
		t.client.mu.Unlock()
		return resp, nil
	}
	refreshErr := t.client.refreshLocked(cred)
	t.client.mu.Unlock()
	if refreshErr != nil {
		return resp, nil
	}

	newToken, _ := t.client.GetToken()
	if newToken == "" || newToken == token {
		return resp, nil
	}
	resp.Body.Close()
	retry := req.Clone(req.Context())
	if retryBody != nil {
		retry.Body = retryBody
	}
	retry.Header.Set("Authorization", "Bearer "+newToken)
	return t.base.RoundTrip(retry)
}
