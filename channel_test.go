package courier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/courier/crypto"
	"github.com/opd-ai/courier/relay"
	"github.com/opd-ai/courier/wire"
)

// testBlobStore is an in-memory blob store whose contents tests can
// mutate or drop after upload, to exercise the hash check and expired
// pointers.
type testBlobStore struct {
	mu      sync.Mutex
	baseURL string
	objects map[string][]byte
	puts    int
	lastURL string
}

func newTestBlobStore() *testBlobStore {
	return &testBlobStore{objects: make(map[string][]byte)}
}

func (s *testBlobStore) Put(ctx context.Context, content []byte, expiresUTC time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	name := fmt.Sprintf("blob-%d", s.puts)
	stored := make([]byte, len(content))
	copy(stored, content)
	s.objects[name] = stored
	s.lastURL = s.baseURL + "/" + name
	return s.lastURL, nil
}

func (s *testBlobStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	s.mu.Lock()
	content, ok := s.objects[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(content)
}

// flipLastByte corrupts the most recently uploaded blob.
func (s *testBlobStore) flipLastByte() {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := fmt.Sprintf("blob-%d", s.puts)
	content := s.objects[name]
	content[len(content)-1] ^= 0xFF
}

// dropLast removes the most recently uploaded blob, simulating expiry
// at the store.
func (s *testBlobStore) dropLast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, fmt.Sprintf("blob-%d", s.puts))
}

func (s *testBlobStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// testEnv hosts a reference relay and a mutable blob store on one
// httptest server.
type testEnv struct {
	srv      *httptest.Server
	relaySrv *relay.Server
	blobs    *testBlobStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	relaySrv := relay.NewServer()
	relaySrv.LongPollTimeout = 200 * time.Millisecond
	blobs := newTestBlobStore()

	mux := http.NewServeMux()
	mux.Handle("/pub/", blobs)
	mux.Handle("/", relaySrv)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	blobs.baseURL = srv.URL + "/pub"

	return &testEnv{srv: srv, relaySrv: relaySrv, blobs: blobs}
}

// newPeer generates an identity, builds its channel over the test
// relay, and provisions its inbox.
func (e *testEnv) newPeer(t *testing.T) (*OwnEndpoint, *Channel) {
	t.Helper()

	own, err := NewOwnEndpoint()
	require.NoError(t, err)

	ch, err := NewChannel(own, crypto.NewNaClProvider(), e.blobs, relay.NewClient(e.srv.Client()), &ChannelOptions{
		HTTPClient: e.srv.Client(),
	})
	require.NoError(t, err)
	require.NoError(t, ch.CreateInbox(context.Background(), e.srv.URL))

	return own, ch
}

func expiry(d time.Duration) time.Time {
	return time.Now().UTC().Add(d)
}

func TestLoopback(t *testing.T) {
	env := newTestEnv(t)
	alice, ch := env.newPeer(t)
	ctx := context.Background()

	content := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	_, err := ch.Post(ctx, &Payload{Content: content}, []*Endpoint{&alice.Public}, expiry(10*time.Minute))
	require.NoError(t, err)

	// The payload reference URI must point at the inbox item the
	// notification was fetched from.
	items, err := relay.NewClient(env.srv.Client()).List(ctx, alice.Public.MessageReceivingEndpoint, alice.InboxOwnerCode, false)
	require.NoError(t, err)
	require.Len(t, items, 1)

	payloads, err := ch.Receive(ctx, nil)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, content, payloads[0].Content)
	assert.Equal(t, items[0].Location, payloads[0].PayloadReferenceURI)

	// Acknowledging empties the inbox; a second acknowledge of the same
	// pointer still succeeds.
	require.NoError(t, ch.DeleteInboxItem(ctx, payloads[0]))
	require.NoError(t, ch.DeleteInboxItem(ctx, payloads[0]))

	payloads, err = ch.Receive(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, payloads)
}

func TestTwoRecipientsShareOneUpload(t *testing.T) {
	env := newTestEnv(t)
	_, alice := env.newPeer(t)
	bob, bobCh := env.newPeer(t)
	carol, carolCh := env.newPeer(t)
	ctx := context.Background()

	content := []byte("meeting moved to three")
	_, err := alice.Post(ctx, &Payload{Content: content}, []*Endpoint{&bob.Public, &carol.Public}, expiry(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, env.blobs.putCount(), "payload should be uploaded exactly once")

	for _, ch := range []*Channel{bobCh, carolCh} {
		payloads, err := ch.Receive(ctx, nil)
		require.NoError(t, err)
		require.Len(t, payloads, 1)
		assert.Equal(t, content, payloads[0].Content)
	}
}

func TestTamperedBlobRejected(t *testing.T) {
	env := newTestEnv(t)
	alice, ch := env.newPeer(t)
	ctx := context.Background()

	_, err := ch.Post(ctx, &Payload{Content: []byte{0xDE, 0xAD, 0xBE, 0xEF}}, []*Endpoint{&alice.Public}, expiry(10*time.Minute))
	require.NoError(t, err)

	env.blobs.flipLastByte()

	_, err = ch.Receive(ctx, nil)
	var invalid *InvalidMessageError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, SubcodeHashMismatch, invalid.Subcode)
}

func TestMisdirectedNotificationRejected(t *testing.T) {
	env := newTestEnv(t)
	_, aliceCh := env.newPeer(t)
	bob, _ := env.newPeer(t)
	ctx := context.Background()

	// Carol happens to hold the same encryption key pair as Bob, so she
	// can open a re-posted notification; the signed recipient binding
	// must still reject it.
	carol, err := NewOwnEndpoint()
	require.NoError(t, err)
	carol.Public.EncryptionPublicKey = bob.Public.EncryptionPublicKey
	carol.EncryptionPrivateKey = bob.EncryptionPrivateKey

	carolCh, err := NewChannel(carol, crypto.NewNaClProvider(), env.blobs, relay.NewClient(env.srv.Client()), &ChannelOptions{HTTPClient: env.srv.Client()})
	require.NoError(t, err)
	require.NoError(t, carolCh.CreateInbox(ctx, env.srv.URL))

	_, err = aliceCh.Post(ctx, &Payload{Content: []byte("for bob only")}, []*Endpoint{&bob.Public}, expiry(time.Hour))
	require.NoError(t, err)

	// Eve lifts the raw notification out of Bob's inbox and re-posts it
	// into Carol's.
	raw := relay.NewClient(env.srv.Client())
	items, err := raw.List(ctx, bob.Public.MessageReceivingEndpoint, bob.InboxOwnerCode, false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	captured, err := raw.Fetch(ctx, items[0].Location, bob.InboxOwnerCode)
	require.NoError(t, err)
	require.NoError(t, raw.PostNotification(ctx, carol.Public.MessageReceivingEndpoint, captured, 60))

	_, err = carolCh.Receive(ctx, nil)
	var invalid *InvalidMessageError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, SubcodeMisdirected, invalid.Subcode)
}

func TestForgedSignatureRejected(t *testing.T) {
	env := newTestEnv(t)
	provider := crypto.NewNaClProvider()
	alice, _ := env.newPeer(t)
	bob, bobCh := env.newPeer(t)
	ctx := context.Background()

	// Mallory assembles a notification that claims Alice as its author
	// but is signed with Mallory's own key.
	mallory, err := NewOwnEndpoint()
	require.NoError(t, err)

	ref := &PayloadReference{
		Location:         env.srv.URL + "/pub/forged",
		Hash:             provider.Hash([]byte("whatever")),
		Key:              bytes.Repeat([]byte{1}, crypto.SymmetricKeySize),
		IV:               bytes.Repeat([]byte{2}, crypto.NonceSize),
		ExpiresUnixMilli: expiry(time.Hour).UnixMilli(),
	}

	var bound bytes.Buffer
	require.NoError(t, wire.WriteSizeAndBuffer(&bound, bob.Public.SigningPublicKey))
	require.NoError(t, wire.WriteInt64LE(&bound, time.Now().UnixMilli()))
	authorBytes, err := wire.MarshalRecord(&alice.Public)
	require.NoError(t, err)
	bound.Write(authorBytes)
	refBytes, err := wire.MarshalRecord(ref)
	require.NoError(t, err)
	bound.Write(refBytes)

	forgedSig, err := provider.Sign(mallory.SigningPrivateKey, bound.Bytes())
	require.NoError(t, err)

	var signed bytes.Buffer
	require.NoError(t, wire.WriteSizeAndBuffer(&signed, forgedSig))
	signed.Write(bound.Bytes())

	encrypted, err := provider.EncryptSymmetric(signed.Bytes())
	require.NoError(t, err)
	wrappedKey, err := provider.EncryptAsymmetric(bob.Public.EncryptionPublicKey, encrypted.Key)
	require.NoError(t, err)

	var body bytes.Buffer
	require.NoError(t, wire.WriteSizeAndBuffer(&body, wrappedKey))
	require.NoError(t, wire.WriteSizeAndBuffer(&body, encrypted.IV))
	require.NoError(t, wire.WriteSizeAndBuffer(&body, encrypted.Ciphertext))

	raw := relay.NewClient(env.srv.Client())
	require.NoError(t, raw.PostNotification(ctx, bob.Public.MessageReceivingEndpoint, body.Bytes(), 60))

	_, err = bobCh.Receive(ctx, nil)
	var invalid *InvalidMessageError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, SubcodeBadSignature, invalid.Subcode)
}

func TestExpiredPointerCleanedUp(t *testing.T) {
	env := newTestEnv(t)
	alice, ch := env.newPeer(t)
	ctx := context.Background()

	_, err := ch.Post(ctx, &Payload{Content: []byte("short lived")}, []*Endpoint{&alice.Public}, expiry(10*time.Minute))
	require.NoError(t, err)

	// The blob store expires the payload before Alice polls.
	env.blobs.dropLast()

	payloads, err := ch.Receive(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, payloads)

	// The stale inbox pointer was deleted during the receive.
	items, err := relay.NewClient(env.srv.Client()).List(ctx, alice.Public.MessageReceivingEndpoint, alice.InboxOwnerCode, false)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// timeoutError mimics a transport-layer timeout, the error shape a
// relay closing a long poll produces.
type timeoutError struct{}

func (timeoutError) Error() string   { return "request timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// flakyTransport fails the first n matching requests with a timeout,
// then delegates.
type flakyTransport struct {
	mu        sync.Mutex
	remaining int
	match     string
	next      http.RoundTripper
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	fail := f.remaining > 0 && strings.Contains(req.URL.String(), f.match)
	if fail {
		f.remaining--
	}
	f.mu.Unlock()
	if fail {
		return nil, timeoutError{}
	}
	return f.next.RoundTrip(req)
}

func TestLongPollTimeoutRetried(t *testing.T) {
	env := newTestEnv(t)
	alice, ch := env.newPeer(t)
	ctx := context.Background()

	_, err := ch.Post(ctx, &Payload{Content: []byte("eventually")}, []*Endpoint{&alice.Public}, expiry(time.Hour))
	require.NoError(t, err)

	// The first two long-poll listings die with transport timeouts; the
	// channel must retry silently and deliver on the third.
	flaky := &flakyTransport{remaining: 2, match: "longPoll=true", next: http.DefaultTransport}
	ch.relay.SetHTTPClient(&http.Client{Transport: flaky})

	payloads, err := ch.Receive(ctx, &ReceiveOptions{LongPoll: true})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte("eventually"), payloads[0].Content)
}

func TestReceiveCancellation(t *testing.T) {
	env := newTestEnv(t)
	// Hold the long poll open well past the point of cancellation, so
	// the only way out is the caller's token.
	env.relaySrv.LongPollTimeout = 30 * time.Second
	_, ch := env.newPeer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var payloads []*Payload
	var err error
	go func() {
		payloads, err = ch.Receive(ctx, &ReceiveOptions{LongPoll: true})
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Receive did not return after cancellation")
	}
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, payloads)
}

func TestFanoutIndependence(t *testing.T) {
	env := newTestEnv(t)
	_, aliceCh := env.newPeer(t)
	bob, bobCh := env.newPeer(t)
	ctx := context.Background()

	// A recipient whose inbox always answers 500.
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay on fire", http.StatusInternalServerError)
	}))
	defer broken.Close()

	doomed, err := NewOwnEndpoint()
	require.NoError(t, err)
	doomed.Public.MessageReceivingEndpoint = broken.URL + "/inbox/doomed"

	err = func() error {
		_, postErr := aliceCh.Post(ctx, &Payload{Content: []byte("partial")}, []*Endpoint{&bob.Public, &doomed.Public}, expiry(time.Hour))
		return postErr
	}()

	var fanout *FanoutError
	require.ErrorAs(t, err, &fanout)
	require.Len(t, fanout.Failures, 1, "only the broken recipient should fail")
	assert.Equal(t, doomed.Public.Thumbprint(crypto.NewNaClProvider()), fanout.Failures[0].Recipient)

	// Bob's delivery was unaffected by the failed peer.
	payloads, err := bobCh.Receive(ctx, nil)
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte("partial"), payloads[0].Content)
}

func TestPostRejectsLocalTimeExpiry(t *testing.T) {
	env := newTestEnv(t)
	alice, ch := env.newPeer(t)

	local := time.Now().In(time.FixedZone("PST", -8*3600)).Add(time.Hour)
	_, err := ch.Post(context.Background(), &Payload{Content: []byte("x")}, []*Endpoint{&alice.Public}, local)
	assert.ErrorIs(t, err, ErrExpiryNotUTC)
	assert.ErrorIs(t, err, ErrPrecondition)
}

func TestPostRejectsEmptyRecipients(t *testing.T) {
	env := newTestEnv(t)
	_, ch := env.newPeer(t)

	_, err := ch.Post(context.Background(), &Payload{Content: []byte("x")}, nil, expiry(time.Hour))
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestReceiveRequiresInbox(t *testing.T) {
	own, err := NewOwnEndpoint()
	require.NoError(t, err)
	ch, err := NewChannel(own, crypto.NewNaClProvider(), nil, nil, nil)
	require.NoError(t, err)

	_, err = ch.Receive(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInboxNotCreated)
}

func TestCreateInboxTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	_, ch := env.newPeer(t)

	err := ch.CreateInbox(context.Background(), env.srv.URL)
	assert.ErrorIs(t, err, ErrInboxAlreadyCreated)
}

func TestFramingCeilingOnNotification(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.newPeer(t)
	ctx := context.Background()

	// A tiny ceiling so a legitimate-looking length prefix trips it.
	small, err := NewChannel(alice, crypto.NewNaClProvider(), env.blobs, relay.NewClient(env.srv.Client()), &ChannelOptions{
		HTTPClient:    env.srv.Client(),
		MaxBufferSize: 64,
	})
	require.NoError(t, err)

	var body bytes.Buffer
	require.NoError(t, wire.WriteSizeAndBuffer(&body, bytes.Repeat([]byte{0xAA}, 128)))

	raw := relay.NewClient(env.srv.Client())
	require.NoError(t, raw.PostNotification(ctx, alice.Public.MessageReceivingEndpoint, body.Bytes(), 60))

	_, err = small.Receive(ctx, nil)
	var invalid *InvalidMessageError
	require.ErrorAs(t, err, &invalid)
	assert.ErrorIs(t, err, wire.ErrMalformed)
}

func TestContinueOnErrorSkipsCorruptItems(t *testing.T) {
	env := newTestEnv(t)
	alice, ch := env.newPeer(t)
	ctx := context.Background()

	// Garbage lands in the inbox first, then a legitimate message.
	raw := relay.NewClient(env.srv.Client())
	require.NoError(t, raw.PostNotification(ctx, alice.Public.MessageReceivingEndpoint, []byte("not a notification"), 60))

	_, err := ch.Post(ctx, &Payload{Content: []byte("still here")}, []*Endpoint{&alice.Public}, expiry(time.Hour))
	require.NoError(t, err)

	// Default: the corrupt item aborts the batch.
	_, err = ch.Receive(ctx, nil)
	var invalid *InvalidMessageError
	require.ErrorAs(t, err, &invalid)

	// Opted in: the corrupt item is reported and the batch continues.
	var reported []error
	payloads, err := ch.Receive(ctx, &ReceiveOptions{
		ContinueOnError: true,
		OnItemError: func(_ relay.IncomingItem, itemErr error) {
			reported = append(reported, itemErr)
		},
	})
	require.NoError(t, err)
	require.Len(t, payloads, 1)
	assert.Equal(t, []byte("still here"), payloads[0].Content)
	require.Len(t, reported, 1)
	assert.True(t, errors.As(reported[0], &invalid))
}

func TestProgressCallbackOrder(t *testing.T) {
	env := newTestEnv(t)
	alice, ch := env.newPeer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ch.Post(ctx, &Payload{Content: []byte{byte(i)}}, []*Endpoint{&alice.Public}, expiry(time.Hour))
		require.NoError(t, err)
	}

	var seen [][]byte
	payloads, err := ch.Receive(ctx, &ReceiveOptions{
		Progress: func(p *Payload) { seen = append(seen, p.Content) },
	})
	require.NoError(t, err)
	require.Len(t, payloads, 3)
	require.Len(t, seen, 3)
	for i, p := range payloads {
		assert.Equal(t, p.Content, seen[i], "progress order must match completion order")
	}
}

func TestPostPayloadKeyNeverNextToBlob(t *testing.T) {
	env := newTestEnv(t)
	_, ch := env.newPeer(t)
	ctx := context.Background()

	content := []byte("the secret itself")
	ref, err := ch.PostPayload(ctx, &Payload{Content: content}, expiry(time.Hour))
	require.NoError(t, err)

	// The stored blob is ciphertext: it contains neither the plaintext
	// nor the one-time key, and its hash matches the reference.
	env.blobs.mu.Lock()
	stored := env.blobs.objects[fmt.Sprintf("blob-%d", env.blobs.puts)]
	env.blobs.mu.Unlock()

	assert.NotContains(t, string(stored), string(content))
	assert.NotContains(t, string(stored), string(ref.Key))
	assert.Equal(t, crypto.NewNaClProvider().Hash(stored), ref.Hash)
}
