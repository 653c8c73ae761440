package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Common relay client errors
var (
	// ErrNotFound indicates the relay no longer holds the requested item
	ErrNotFound = errors.New("relay item not found")

	// ErrMissingOwnerCode indicates a list/fetch/delete without the inbox
	// owner secret
	ErrMissingOwnerCode = errors.New("inbox owner code required")
)

// TransportError represents a relay round-trip failure with the
// operation and URL that produced it. It unwraps to the underlying
// error for errors.Is/errors.As inspection.
type TransportError struct {
	Op         string // operation that failed ("create", "list", "post", "fetch", "delete")
	URL        string
	StatusCode int // zero when the request never completed
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("relay %s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("relay %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IncomingItem is one entry of an inbox listing.
type IncomingItem struct {
	Location    string    `json:"Location"`
	ReceivedUTC time.Time `json:"ReceivedUtc"`
}

// incomingList is the relay's listing response body.
type incomingList struct {
	Items []IncomingItem `json:"Items"`
}

// createResponse is the relay's inbox-creation response body.
type createResponse struct {
	MessageReceivingEndpoint string `json:"MessageReceivingEndpoint"`
	InboxOwnerCode           string `json:"InboxOwnerCode"`
}

// Client talks to an inbox relay. The zero value is not usable; use
// NewClient.
type Client struct {
	http *http.Client
}

// NewClient creates a relay client. A nil httpClient selects
// http.DefaultClient.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

// SetHTTPClient replaces the underlying HTTP client. Intended for test
// injection before any I/O is in flight.
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.http = httpClient
}

// authorize attaches the inbox owner code. The header spelling is part
// of the relay wire contract; keep it in this one place.
func authorize(req *http.Request, ownerCode string) {
	req.Header.Set("Authorization", "Bearer "+ownerCode)
}

// CreateInbox asks the relay at baseURL for a new inbox and returns its
// receiving endpoint URL and owner code.
func (c *Client) CreateInbox(ctx context.Context, baseURL string) (inboxURL, ownerCode string, err error) {
	target := baseURL + "/create"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return "", "", &TransportError{Op: "create", URL: target, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", &TransportError{Op: "create", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", "", &TransportError{Op: "create", URL: target, StatusCode: resp.StatusCode}
	}

	var created createResponse
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", "", &TransportError{Op: "create", URL: target, Err: err}
	}
	if created.MessageReceivingEndpoint == "" || created.InboxOwnerCode == "" {
		return "", "", &TransportError{Op: "create", URL: target, Err: errors.New("incomplete create response")}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "CreateInbox",
		"package":   "relay",
		"inbox_url": created.MessageReceivingEndpoint,
	}).Info("Inbox created")

	return created.MessageReceivingEndpoint, created.InboxOwnerCode, nil
}

// List fetches the inbox listing. With longPoll the relay holds the
// request open until items arrive or its own timeout expires, in which
// case the reference Server answers with an empty listing. A timeout in
// the HTTP transport surfaces as a TransportError the caller is
// expected to retry while its context is still live.
func (c *Client) List(ctx context.Context, inboxURL, ownerCode string, longPoll bool) ([]IncomingItem, error) {
	if ownerCode == "" {
		return nil, ErrMissingOwnerCode
	}

	target := inboxURL
	if longPoll {
		sep := "?"
		if u, err := url.Parse(inboxURL); err == nil && u.RawQuery != "" {
			sep = "&"
		}
		target = inboxURL + sep + "longPoll=true"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransportError{Op: "list", URL: target, Err: err}
	}
	authorize(req, ownerCode)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "list", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{Op: "list", URL: target, StatusCode: resp.StatusCode}
	}

	var listing incomingList
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, &TransportError{Op: "list", URL: target, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "List",
		"package":    "relay",
		"item_count": len(listing.Items),
		"long_poll":  longPoll,
	}).Debug("Inbox listing fetched")

	return listing.Items, nil
}

// PostNotification deposits notification bytes into a recipient's
// inbox. Posting needs no authentication; lifetime tells the relay when
// it may drop the item.
func (c *Client) PostNotification(ctx context.Context, inboxURL string, body []byte, lifetimeMinutes int64) error {
	if lifetimeMinutes < 0 {
		lifetimeMinutes = 0
	}

	sep := "?"
	if u, err := url.Parse(inboxURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	target := inboxURL + sep + "lifetime=" + strconv.FormatInt(lifetimeMinutes, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: "post", URL: target, Err: err}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "post", URL: target, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "post", URL: target, StatusCode: resp.StatusCode}
	}
	return nil
}

// Fetch downloads one inbox item's notification bytes. A relay 404 is
// reported as ErrNotFound: the item has already expired.
func (c *Client) Fetch(ctx context.Context, itemURL, ownerCode string) ([]byte, error) {
	if ownerCode == "" {
		return nil, ErrMissingOwnerCode
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, itemURL, nil)
	if err != nil {
		return nil, &TransportError{Op: "fetch", URL: itemURL, Err: err}
	}
	authorize(req, ownerCode)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "fetch", URL: itemURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{Op: "fetch", URL: itemURL, StatusCode: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

// Delete removes an inbox pointer. A relay 404 means the pointer is
// already gone and counts as success.
func (c *Client) Delete(ctx context.Context, inboxURL, ownerCode, itemURL string) error {
	if ownerCode == "" {
		return ErrMissingOwnerCode
	}

	sep := "?"
	if u, err := url.Parse(inboxURL); err == nil && u.RawQuery != "" {
		sep = "&"
	}
	target := inboxURL + sep + "notification=" + url.QueryEscape(itemURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return &TransportError{Op: "delete", URL: target, Err: err}
	}
	authorize(req, ownerCode)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "delete", URL: target, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: "delete", URL: target, StatusCode: resp.StatusCode}
	}
	return nil
}
