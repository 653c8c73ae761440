package courier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/blob"
	"github.com/opd-ai/courier/crypto"
	"github.com/opd-ai/courier/relay"
	"github.com/opd-ai/courier/wire"
)

// ChannelOptions tunes a Channel at construction.
type ChannelOptions struct {
	// HTTPClient fetches payload blobs; nil selects http.DefaultClient.
	HTTPClient *http.Client

	// MaxBufferSize overrides the framing ceiling; zero selects
	// wire.DefaultMaxBufferSize.
	MaxBufferSize uint32
}

// Channel is the secure channel bound to one OwnEndpoint. Its
// capability references are read-only after construction; a Channel is
// safe for concurrent use.
type Channel struct {
	endpoint *OwnEndpoint
	provider crypto.Provider
	blobs    blob.Store
	relay    *relay.Client
	http     *http.Client

	maxBufferSize uint32
	log           *logrus.Entry
}

// NewChannel builds a channel around an endpoint and its capabilities.
// The blob store may be nil for receive-only channels.
func NewChannel(own *OwnEndpoint, provider crypto.Provider, store blob.Store, relayClient *relay.Client, opts *ChannelOptions) (*Channel, error) {
	if own == nil {
		return nil, fmt.Errorf("%w: endpoint required", ErrPrecondition)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: crypto provider required", ErrPrecondition)
	}
	if relayClient == nil {
		relayClient = relay.NewClient(nil)
	}

	if opts == nil {
		opts = &ChannelOptions{}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxBufferSize := opts.MaxBufferSize
	if maxBufferSize == 0 {
		maxBufferSize = wire.DefaultMaxBufferSize
	}

	return &Channel{
		endpoint:      own,
		provider:      provider,
		blobs:         store,
		relay:         relayClient,
		http:          httpClient,
		maxBufferSize: maxBufferSize,
		log: logrus.WithFields(logrus.Fields{
			"package":  "courier",
			"endpoint": provider.Thumbprint(own.Public.SigningPublicKey),
		}),
	}, nil
}

// CreateInbox provisions this endpoint's inbox at the relay and records
// the receiving URL and owner code on the endpoint.
func (c *Channel) CreateInbox(ctx context.Context, relayBaseURL string) error {
	if c.endpoint.Public.MessageReceivingEndpoint != "" {
		return ErrInboxAlreadyCreated
	}

	inboxURL, ownerCode, err := c.relay.CreateInbox(ctx, relayBaseURL)
	if err != nil {
		return err
	}

	c.endpoint.Public.MessageReceivingEndpoint = inboxURL
	c.endpoint.InboxOwnerCode = ownerCode
	return nil
}

// PostPayload encrypts a payload under a one-time symmetric key,
// uploads the ciphertext to the blob store, and returns the reference
// that lets recipients fetch and open it. The key and IV live only in
// the returned reference, never next to the blob.
func (c *Channel) PostPayload(ctx context.Context, payload *Payload, expiresUTC time.Time) (*PayloadReference, error) {
	if c.blobs == nil {
		return nil, fmt.Errorf("%w: blob store not configured", ErrPrecondition)
	}
	if payload == nil || len(payload.Content) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrPrecondition)
	}
	if expiresUTC.Location() != time.UTC {
		return nil, ErrExpiryNotUTC
	}

	serialized, err := wire.MarshalRecord(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}

	encrypted, err := c.provider.EncryptSymmetric(serialized)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt payload: %w", err)
	}

	hash := c.provider.Hash(encrypted.Ciphertext)

	location, err := c.blobs.Put(ctx, encrypted.Ciphertext, expiresUTC)
	if err != nil {
		encrypted.Wipe()
		return nil, fmt.Errorf("failed to upload payload blob: %w", err)
	}

	c.log.WithFields(logrus.Fields{
		"function":        "PostPayload",
		"location":        location,
		"ciphertext_size": len(encrypted.Ciphertext),
		"expires":         expiresUTC,
	}).Info("Payload uploaded")

	return &PayloadReference{
		Location:         location,
		Hash:             hash,
		Key:              encrypted.Key,
		IV:               encrypted.IV,
		ExpiresUnixMilli: expiresUTC.UnixMilli(),
	}, nil
}

// PostReference fans one notification out to every recipient's inbox.
// Recipient tasks run concurrently and independently; if any fail, the
// others still run to completion and the returned FanoutError
// enumerates exactly the recipients that failed.
func (c *Channel) PostReference(ctx context.Context, ref *PayloadReference, recipients []*Endpoint) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	lifetimeMinutes := int64(time.Until(ref.Expires()).Minutes())
	if lifetimeMinutes < 0 {
		lifetimeMinutes = 0
	}

	now := time.Now().UTC()

	var wg sync.WaitGroup
	failures := make([]*RecipientError, len(recipients))

	for i, recipient := range recipients {
		wg.Add(1)
		go func(i int, recipient *Endpoint) {
			defer wg.Done()
			if err := c.notifyRecipient(ctx, ref, recipient, now, lifetimeMinutes); err != nil {
				failures[i] = &RecipientError{
					Recipient: recipient.Thumbprint(c.provider),
					Err:       err,
				}
			}
		}(i, recipient)
	}
	wg.Wait()

	var failed []*RecipientError
	for _, f := range failures {
		if f != nil {
			failed = append(failed, f)
		}
	}
	if len(failed) > 0 {
		c.log.WithFields(logrus.Fields{
			"function":     "PostReference",
			"recipients":   len(recipients),
			"failed_count": len(failed),
		}).Error("Notification fan-out partially failed")
		return &FanoutError{Failures: failed}
	}

	c.log.WithFields(logrus.Fields{
		"function":   "PostReference",
		"recipients": len(recipients),
	}).Info("Notifications posted")
	return nil
}

// notifyRecipient builds one recipient's envelope and posts it.
func (c *Channel) notifyRecipient(ctx context.Context, ref *PayloadReference, recipient *Endpoint, created time.Time, lifetimeMinutes int64) error {
	if recipient.MessageReceivingEndpoint == "" {
		return fmt.Errorf("%w: recipient has no inbox", ErrPrecondition)
	}

	body, err := c.buildNotification(ref, recipient, created)
	if err != nil {
		return err
	}

	return c.relay.PostNotification(ctx, recipient.MessageReceivingEndpoint, body, lifetimeMinutes)
}

// buildNotification assembles the envelope inside-out: the bound
// plaintext (recipient signing key, creation time, author endpoint,
// payload reference), the signature over it, a fresh symmetric layer,
// and the asymmetrically wrapped key. The signature covers the
// recipient binding so the relay cannot re-target the notification at a
// different victim.
func (c *Channel) buildNotification(ref *PayloadReference, recipient *Endpoint, created time.Time) ([]byte, error) {
	var bound bytes.Buffer
	if err := wire.WriteSizeAndBuffer(&bound, recipient.SigningPublicKey); err != nil {
		return nil, err
	}
	if err := wire.WriteInt64LE(&bound, created.UnixMilli()); err != nil {
		return nil, err
	}

	authorBytes, err := wire.MarshalRecord(&c.endpoint.Public)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize author endpoint: %w", err)
	}
	bound.Write(authorBytes)

	refBytes, err := wire.MarshalRecord(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload reference: %w", err)
	}
	bound.Write(refBytes)

	signature, err := c.provider.Sign(c.endpoint.SigningPrivateKey, bound.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign notification: %w", err)
	}

	var signed bytes.Buffer
	if err := wire.WriteSizeAndBuffer(&signed, signature); err != nil {
		return nil, err
	}
	signed.Write(bound.Bytes())

	encrypted, err := c.provider.EncryptSymmetric(signed.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt notification: %w", err)
	}
	defer encrypted.Wipe()

	wrappedKey, err := c.provider.EncryptAsymmetric(recipient.EncryptionPublicKey, encrypted.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap notification key: %w", err)
	}

	var body bytes.Buffer
	if err := wire.WriteSizeAndBuffer(&body, wrappedKey); err != nil {
		return nil, err
	}
	if err := wire.WriteSizeAndBuffer(&body, encrypted.IV); err != nil {
		return nil, err
	}
	if err := wire.WriteSizeAndBuffer(&body, encrypted.Ciphertext); err != nil {
		return nil, err
	}
	return body.Bytes(), nil
}

// Post uploads the payload once, then notifies every recipient. The
// upload strictly precedes any notification POST. Already-uploaded
// blobs are not rolled back on failure; blob expiry is the cleanup.
func (c *Channel) Post(ctx context.Context, payload *Payload, recipients []*Endpoint, expiresUTC time.Time) (*PayloadReference, error) {
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	ref, err := c.PostPayload(ctx, payload, expiresUTC)
	if err != nil {
		return nil, err
	}

	if err := c.PostReference(ctx, ref, recipients); err != nil {
		return ref, err
	}
	return ref, nil
}

// ReceiveOptions tunes one Receive call.
type ReceiveOptions struct {
	// LongPoll holds the inbox listing open at the relay until items
	// arrive.
	LongPoll bool

	// Progress, when set, is invoked for each payload as it completes,
	// in completion order.
	Progress func(*Payload)

	// ContinueOnError keeps the batch going past a corrupt item instead
	// of aborting; rejected items are reported through OnItemError.
	ContinueOnError bool

	// OnItemError observes per-item failures when ContinueOnError is set.
	OnItemError func(item relay.IncomingItem, err error)
}

// Receive lists the inbox and runs the inbound pipeline over each item:
// download, decrypt, verify signature and recipient binding, fetch and
// hash-check the payload blob, decrypt, deserialize. Items are
// processed in listing order. Successfully received items are NOT
// deleted; acknowledge with DeleteInboxItem.
//
// By default a corrupt item aborts the batch, because silently dropping
// corrupt items would hide attacks; set ContinueOnError to opt out.
func (c *Channel) Receive(ctx context.Context, opts *ReceiveOptions) ([]*Payload, error) {
	if opts == nil {
		opts = &ReceiveOptions{}
	}
	if c.endpoint.Public.MessageReceivingEndpoint == "" || c.endpoint.InboxOwnerCode == "" {
		return nil, ErrInboxNotCreated
	}

	items, err := c.listWithRetry(ctx, opts.LongPoll)
	if err != nil {
		return nil, err
	}

	payloads := make([]*Payload, 0, len(items))
	for _, item := range items {
		payload, err := c.processItem(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				return payloads, ctx.Err()
			}
			if opts.ContinueOnError {
				c.log.WithFields(logrus.Fields{
					"function": "Receive",
					"item":     item.Location,
					"error":    err.Error(),
				}).Warn("Skipping rejected inbox item")
				if opts.OnItemError != nil {
					opts.OnItemError(item, err)
				}
				continue
			}
			return payloads, err
		}
		if payload == nil {
			// expired pointer, already cleaned up
			continue
		}
		payloads = append(payloads, payload)
		if opts.Progress != nil {
			opts.Progress(payload)
		}
	}

	c.log.WithFields(logrus.Fields{
		"function":   "Receive",
		"item_count": len(items),
		"payloads":   len(payloads),
		"long_poll":  opts.LongPoll,
	}).Debug("Inbox drained")

	return payloads, nil
}

// listWithRetry fetches the inbox listing, transparently retrying
// transport-level timeouts (a relay closing a long poll) for as long as
// the caller's context is still live. Caller cancellation propagates.
func (c *Channel) listWithRetry(ctx context.Context, longPoll bool) ([]relay.IncomingItem, error) {
	for {
		items, err := c.relay.List(ctx, c.endpoint.Public.MessageReceivingEndpoint, c.endpoint.InboxOwnerCode, longPoll)
		if err == nil {
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTransientTimeout(err) {
			c.log.WithFields(logrus.Fields{
				"function": "listWithRetry",
				"error":    err.Error(),
			}).Debug("Inbox listing timed out, retrying")
			continue
		}
		return nil, err
	}
}

// isTransientTimeout reports whether a listing failure is a
// transport-layer timeout rather than a real fault. Caller cancellation
// is excluded by the ctx.Err check at the call site.
func isTransientTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// processItem runs the inbound pipeline for one inbox item. A nil, nil
// return means the item's payload had already expired and the pointer
// was cleaned up.
func (c *Channel) processItem(ctx context.Context, item relay.IncomingItem) (*Payload, error) {
	body, err := c.relay.Fetch(ctx, item.Location, c.endpoint.InboxOwnerCode)
	if errors.Is(err, relay.ErrNotFound) {
		c.log.WithFields(logrus.Fields{
			"function": "processItem",
			"item":     item.Location,
		}).Warn("Inbox item vanished before download, deleting pointer")
		c.deletePointer(ctx, item.Location)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(body)
	wrappedKey, err := wire.ReadSizeAndBuffer(reader, c.maxBufferSize)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}
	iv, err := wire.ReadSizeAndBuffer(reader, c.maxBufferSize)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}
	ciphertext, err := wire.ReadSizeAndBuffer(reader, c.maxBufferSize)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}

	key, err := c.provider.DecryptAsymmetric(c.endpoint.EncryptionPrivateKey, wrappedKey)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}
	defer crypto.ZeroBytes(key)

	signedBytes, err := c.provider.DecryptSymmetric(key, iv, ciphertext)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}

	signedReader := bytes.NewReader(signedBytes)
	signature, err := wire.ReadSizeAndBuffer(signedReader, c.maxBufferSize)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}
	boundBytes, err := wire.ReadRemaining(signedReader, c.maxBufferSize)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}

	boundReader := bytes.NewReader(boundBytes)
	declaredRecipient, err := wire.ReadSizeAndBuffer(boundReader, c.maxBufferSize)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}
	createdMilli, err := wire.ReadInt64LE(boundReader)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}

	recordReader := wire.NewRecordDecoder(boundReader)
	var author Endpoint
	if err := recordReader.Decode(&author); err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}
	var ref PayloadReference
	if err := recordReader.Decode(&ref); err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}

	// The signature covers the whole bound region, recipient binding
	// included; verify before trusting anything inside it.
	if err := c.provider.Verify(author.SigningPublicKey, boundBytes, signature); err != nil {
		return nil, newInvalidMessage(SubcodeBadSignature, err)
	}

	if !bytes.Equal(declaredRecipient, c.endpoint.Public.SigningPublicKey) {
		return nil, newInvalidMessage(SubcodeMisdirected,
			fmt.Errorf("notification bound to a different recipient"))
	}

	ref.ReferenceLocation = item.Location

	c.log.WithFields(logrus.Fields{
		"function":    "processItem",
		"item":        item.Location,
		"author":      author.Thumbprint(c.provider),
		"created_utc": time.UnixMilli(createdMilli).UTC(),
		"payload_url": ref.Location,
	}).Debug("Notification verified")

	blobBytes, err := c.fetchBlob(ctx, ref.Location)
	if errors.Is(err, blob.ErrNotFound) {
		c.log.WithFields(logrus.Fields{
			"function": "processItem",
			"item":     item.Location,
			"blob":     ref.Location,
		}).Warn("Payload blob expired at the store, deleting pointer")
		c.deletePointer(ctx, item.Location)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if !bytes.Equal(c.provider.Hash(blobBytes), ref.Hash) {
		return nil, newInvalidMessage(SubcodeHashMismatch,
			fmt.Errorf("payload blob hash does not match reference"))
	}

	plain, err := c.provider.DecryptSymmetric(ref.Key, ref.IV, blobBytes)
	if err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}

	var payload Payload
	if err := wire.UnmarshalRecord(plain, &payload); err != nil {
		return nil, newInvalidMessage(SubcodeUnspecified, err)
	}
	payload.PayloadReferenceURI = item.Location

	return &payload, nil
}

// fetchBlob downloads a payload blob. The blob URL needs no
// authentication; its contents are ciphertext pinned by the reference
// hash.
func (c *Channel) fetchBlob(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch payload blob: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, blob.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("blob fetch failed: status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, int64(c.maxBufferSize)))
}

// deletePointer is cleanup best-effort: failures are logged and dropped.
func (c *Channel) deletePointer(ctx context.Context, itemURL string) {
	err := c.relay.Delete(ctx, c.endpoint.Public.MessageReceivingEndpoint, c.endpoint.InboxOwnerCode, itemURL)
	if err != nil {
		c.log.WithFields(logrus.Fields{
			"function": "deletePointer",
			"item":     itemURL,
			"error":    err.Error(),
		}).Warn("Failed to delete stale inbox pointer")
	}
}

// DeleteInboxItem acknowledges a received payload by removing its inbox
// pointer. Deleting an already-deleted pointer succeeds.
func (c *Channel) DeleteInboxItem(ctx context.Context, payload *Payload) error {
	if c.endpoint.Public.MessageReceivingEndpoint == "" || c.endpoint.InboxOwnerCode == "" {
		return ErrInboxNotCreated
	}
	if payload == nil || payload.PayloadReferenceURI == "" {
		return fmt.Errorf("%w: payload has no inbox reference", ErrPrecondition)
	}
	return c.relay.Delete(ctx, c.endpoint.Public.MessageReceivingEndpoint, c.endpoint.InboxOwnerCode, payload.PayloadReferenceURI)
}
