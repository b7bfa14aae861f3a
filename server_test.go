package lndaddr

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ellemouton/lndaddr/accounts"
	"github.com/ellemouton/lndaddr/zap"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lnrpc/invoicesrpc"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const testPayReq = "lnbc210n1ptestinvoice"

var testHash = lntypes.Hash{1, 2, 3}

type mockInvoiceClient struct {
	mock.Mock
}

func (m *mockInvoiceClient) AddInvoice(ctx context.Context,
	in *invoicesrpc.AddInvoiceData) (lntypes.Hash, string, error) {

	args := m.Called(in)
	return args.Get(0).(lntypes.Hash), args.String(1), args.Error(2)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, relayURL string,
	ev nostr.Event) error {

	return m.Called(relayURL, ev).Error(0)
}

type serverHarness struct {
	t         *testing.T
	cfg       *Config
	store     *accounts.Store
	invoices  *mockInvoiceClient
	publisher *mockPublisher
	signer    *zap.Signer
	server    *Server
}

type harnessOption func(*Config)

func withRateLimit(perSecond float64, burst int) harnessOption {
	return func(cfg *Config) {
		cfg.RateLimit = perSecond
		cfg.RateBurst = burst
	}
}

func testConfig(t *testing.T, opts ...harnessOption) *Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BaseURL = "https://x.org"
	cfg.RateLimit = 0
	for _, opt := range opts {
		opt(&cfg)
	}
	require.NoError(t, ValidateConfig(&cfg))

	return &cfg
}

func newServerHarness(t *testing.T, withSigner bool,
	opts ...harnessOption) *serverHarness {

	t.Helper()

	store, err := accounts.NewStore(context.Background(), nil)
	require.NoError(t, err)

	h := &serverHarness{
		t:         t,
		cfg:       testConfig(t, opts...),
		store:     store,
		invoices:  &mockInvoiceClient{},
		publisher: &mockPublisher{},
	}

	if withSigner {
		h.signer, err = zap.NewSigner(&zap.Config{
			PrivKey:     nostr.GeneratePrivateKey(),
			Publisher:   h.publisher,
			Clock:       clock.NewTestClock(time.Unix(1700000000, 0)),
			SweepTicker: ticker.NewForce(time.Hour),
		})
		require.NoError(t, err)
	}

	h.server = NewServer(h.cfg, h.store, h.invoices, h.signer)

	return h
}

func (h *serverHarness) addAccount(acct accounts.Account) {
	h.t.Helper()

	_, err := h.store.Add(context.Background(), acct)
	require.NoError(h.t, err)
}

// get performs a request against the public router and returns the status
// code and body.
func (h *serverHarness) get(target string) (int, []byte) {
	h.t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "10.0.0.1:4321"

	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)

	return rec.Code, rec.Body.Bytes()
}

func requireErrorEnvelope(t *testing.T, body []byte) string {
	t.Helper()

	var envelope Error
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.Equal(t, StatusError, envelope.Status)
	require.NotEmpty(t, envelope.Reason)

	return envelope.Reason
}

// TestFirstContact checks the document served for an account without an
// amount.
func TestFirstContact(t *testing.T) {
	h := newServerHarness(t, false)
	h.addAccount(accounts.Account{Username: "alice"})

	for _, path := range []string{"/alice", "/.well-known/lnurlp/alice"} {
		code, body := h.get(path)
		require.Equal(t, http.StatusOK, code)

		var raw map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &raw))
		require.Equal(t, map[string]interface{}{
			"callback":       "https://x.org/alice",
			"minSendable":    float64(0),
			"maxSendable":    float64(100000000000),
			"metadata":       `[["text/plain","Thank you :)"]]`,
			"tag":            "payRequest",
			"commentAllowed": float64(0),
		}, raw)
	}
}

func TestFirstContactEmailAccount(t *testing.T) {
	h := newServerHarness(t, false)
	minAmt := lnwire.MilliSatoshi(1000)
	h.addAccount(accounts.Account{
		Username:      "bob",
		IsEmail:       true,
		Description:   "Pay bob",
		MinReceivable: &minAmt,
	})

	code, body := h.get("/bob")
	require.Equal(t, http.StatusOK, code)

	var resp PayResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, uint64(1000), resp.MinSendable)
	require.Equal(t, uint64(DefaultMaxReceivable), resp.MaxSendable)
	require.Equal(t, EmailCommentLength, resp.CommentAllowed)
	require.Equal(
		t, `[["text/plain","Pay bob"],["text/email","bob@x.org"]]`,
		resp.Metadata,
	)
}

func TestServiceRequest(t *testing.T) {
	h := newServerHarness(t, false)

	code, body := h.get("/lnurlp")
	require.Equal(t, http.StatusOK, code)

	var resp PayResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.Equal(t, "https://x.org/lnurlp", resp.Callback)
	require.Equal(t, `[["text/plain","Thank you :)"]]`, resp.Metadata)

	metadata := BuildMetadata(
		&accounts.Account{}, DefaultDescription, h.cfg.BaseURLParsed(),
	)
	hash := metadata.Hash()
	h.invoices.On("AddInvoice", mock.MatchedBy(
		func(in *invoicesrpc.AddInvoiceData) bool {
			return string(in.DescriptionHash) == string(hash[:])
		},
	)).Return(testHash, testPayReq, nil).Once()

	code, _ = h.get("/lnurlp?amount=5000")
	require.Equal(t, http.StatusOK, code)
	h.invoices.AssertExpectations(t)
}

func TestUnknownUser(t *testing.T) {
	h := newServerHarness(t, false)

	code, body := h.get("/carol")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, requireErrorEnvelope(t, body), "carol")

	code, body = h.get("/.well-known/lnurlp/carol?amount=1000")
	require.Equal(t, http.StatusOK, code)
	requireErrorEnvelope(t, body)

	h.invoices.AssertNotCalled(t, "AddInvoice", mock.Anything)
}

// TestInvoiceZeroAmount checks that amount 0 is accepted if the minimum is 0
// and that the invoice commits to the metadata.
func TestInvoiceZeroAmount(t *testing.T) {
	h := newServerHarness(t, false)
	h.addAccount(accounts.Account{Username: "alice"})

	metadata := `[["text/plain","Thank you :)"]]`
	hash := sha256.Sum256([]byte(metadata))

	var added *invoicesrpc.AddInvoiceData
	h.invoices.On("AddInvoice", mock.Anything).Run(
		func(args mock.Arguments) {
			added = args.Get(0).(*invoicesrpc.AddInvoiceData)
		},
	).Return(testHash, testPayReq, nil).Once()

	code, body := h.get("/alice?amount=0")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(
		t, `{"pr":"`+testPayReq+`","routes":[]}`, string(body),
	)

	require.NotNil(t, added)
	require.Equal(t, lnwire.MilliSatoshi(0), added.Value)
	require.Equal(t, hash[:], added.DescriptionHash)
	require.True(t, strings.HasPrefix(added.Memo, labelPrefix))
	h.invoices.AssertExpectations(t)
}

func TestInvoiceAmountBounds(t *testing.T) {
	h := newServerHarness(t, false)
	minAmt := lnwire.MilliSatoshi(1000)
	maxAmt := lnwire.MilliSatoshi(5000)
	h.addAccount(accounts.Account{
		Username:      "alice",
		MinReceivable: &minAmt,
		MaxReceivable: &maxAmt,
	})

	tests := []struct {
		name   string
		amount string
		code   int
		reason string
	}{{
		name:   "too low",
		amount: "999",
		code:   http.StatusOK,
		reason: ErrAmountTooLow.Error(),
	}, {
		name:   "too high",
		amount: "5001",
		code:   http.StatusOK,
		reason: ErrAmountTooHigh.Error(),
	}, {
		name:   "not a number",
		amount: "abc",
		code:   http.StatusBadRequest,
		reason: ErrAmountUnparseable.Error(),
	}, {
		name:   "negative",
		amount: "-1",
		code:   http.StatusBadRequest,
		reason: ErrAmountUnparseable.Error(),
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			code, body := h.get("/alice?amount=" + test.amount)
			require.Equal(t, test.code, code)
			require.Contains(
				t, requireErrorEnvelope(t, body), test.reason,
			)
		})
	}

	h.invoices.AssertNotCalled(t, "AddInvoice", mock.Anything)
}

func TestInvoiceRPCErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason error
	}{{
		name:   "rejected",
		err:    status.Error(codes.InvalidArgument, "bad memo"),
		reason: ErrRPCRejected,
	}, {
		name:   "unavailable",
		err:    status.Error(codes.Unavailable, "connection refused"),
		reason: ErrRPCUnavailable,
	}, {
		name:   "timeout",
		err:    context.DeadlineExceeded,
		reason: ErrRPCTimeout,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newServerHarness(t, false)
			h.addAccount(accounts.Account{Username: "alice"})

			h.invoices.On("AddInvoice", mock.Anything).Return(
				lntypes.Hash{}, "", test.err,
			).Once()

			code, body := h.get("/alice?amount=1000")
			require.Equal(t, http.StatusOK, code)
			require.Contains(
				t, requireErrorEnvelope(t, body),
				test.reason.Error(),
			)
		})
	}
}

func TestInvoiceComment(t *testing.T) {
	h := newServerHarness(t, false)
	h.addAccount(accounts.Account{Username: "alice"})
	h.addAccount(accounts.Account{Username: "bob", IsEmail: true})

	// Comments aren't allowed for alice.
	code, body := h.get("/alice?amount=1000&comment=hi")
	require.Equal(t, http.StatusOK, code)
	require.Contains(
		t, requireErrorEnvelope(t, body), ErrCommentTooLong.Error(),
	)
	h.invoices.AssertNotCalled(t, "AddInvoice", mock.Anything)

	h.invoices.On("AddInvoice", mock.MatchedBy(
		func(in *invoicesrpc.AddInvoiceData) bool {
			return strings.HasPrefix(in.Memo, labelPrefix) &&
				strings.HasSuffix(in.Memo, " thanks bob")
		},
	)).Return(testHash, testPayReq, nil).Once()

	code, _ = h.get("/bob?amount=1000&comment=" +
		url.QueryEscape("thanks bob"))
	require.Equal(t, http.StatusOK, code)
	h.invoices.AssertExpectations(t)

	long := strings.Repeat("a", EmailCommentLength+1)
	code, body = h.get("/bob?amount=1000&comment=" + long)
	require.Equal(t, http.StatusOK, code)
	require.Contains(
		t, requireErrorEnvelope(t, body), ErrCommentTooLong.Error(),
	)

	// The limit counts characters. 100 four byte runes are 400 bytes but
	// well within the 255 character limit.
	emoji := strings.Repeat("\U0001f9e1", 100)
	h.invoices.On("AddInvoice", mock.MatchedBy(
		func(in *invoicesrpc.AddInvoiceData) bool {
			return strings.HasSuffix(in.Memo, emoji)
		},
	)).Return(testHash, testPayReq, nil).Once()

	code, body = h.get("/bob?amount=1000&comment=" +
		url.QueryEscape(emoji))
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, string(body), ErrCommentTooLong.Error())
	h.invoices.AssertExpectations(t)

	multiByte := strings.Repeat("\u00e9", EmailCommentLength+1)
	code, body = h.get("/bob?amount=1000&comment=" +
		url.QueryEscape(multiByte))
	require.Equal(t, http.StatusOK, code)
	require.Contains(
		t, requireErrorEnvelope(t, body), ErrCommentTooLong.Error(),
	)
}

// signedZapRequest returns a zap request for amt paying a random recipient.
func signedZapRequest(t *testing.T, amt lnwire.MilliSatoshi) string {
	t.Helper()

	recipient, err := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	require.NoError(t, err)

	ev := nostr.Event{
		Kind:      nostr.KindZapRequest,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"relays", "wss://relay.one"},
			{"amount", strconv.FormatUint(uint64(amt), 10)},
			{"p", recipient},
		},
	}
	require.NoError(t, ev.Sign(nostr.GeneratePrivateKey()))

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	return string(raw)
}

func TestZapsDisabled(t *testing.T) {
	h := newServerHarness(t, false)
	h.addAccount(accounts.Account{Username: "alice"})

	code, body := h.get("/alice")
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, string(body), "allowsNostr")
	require.NotContains(t, string(body), "nostrPubkey")

	zapReq := signedZapRequest(t, 1000)
	code, body = h.get("/alice?amount=1000&nostr=" +
		url.QueryEscape(zapReq))
	require.Equal(t, http.StatusOK, code)
	require.Contains(
		t, requireErrorEnvelope(t, body), zap.ErrZapsDisabled.Error(),
	)
	h.invoices.AssertNotCalled(t, "AddInvoice", mock.Anything)
}

func TestZapInvoice(t *testing.T) {
	h := newServerHarness(t, true)
	h.addAccount(accounts.Account{Username: "alice"})

	code, body := h.get("/alice")
	require.Equal(t, http.StatusOK, code)

	var resp PayResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	require.True(t, resp.AllowsNostr)
	require.Equal(t, h.signer.PubKey(), resp.NostrPubkey)

	zapReq := signedZapRequest(t, 21000)
	zapHash := sha256.Sum256([]byte(zapReq))
	h.invoices.On("AddInvoice", mock.MatchedBy(
		func(in *invoicesrpc.AddInvoiceData) bool {
			return string(in.DescriptionHash) ==
				string(zapHash[:]) &&
				in.Value == 21000
		},
	)).Return(testHash, testPayReq, nil).Once()

	code, _ = h.get("/alice?amount=21000&nostr=" +
		url.QueryEscape(zapReq))
	require.Equal(t, http.StatusOK, code)
	h.invoices.AssertExpectations(t)
	require.True(t, h.signer.Tracker().IsTracked(testHash))

	// A plain invoice is never tracked.
	h.invoices.On("AddInvoice", mock.Anything).Return(
		lntypes.Hash{9}, testPayReq, nil,
	).Once()
	code, _ = h.get("/alice?amount=1000")
	require.Equal(t, http.StatusOK, code)
	require.False(t, h.signer.Tracker().IsTracked(lntypes.Hash{9}))
	require.Equal(t, 1, h.signer.Tracker().Len())
}

func TestZapInvalidRequest(t *testing.T) {
	h := newServerHarness(t, true)
	h.addAccount(accounts.Account{Username: "alice"})

	tests := []struct {
		name  string
		nostr string
	}{{
		name:  "malformed json",
		nostr: "{not json",
	}, {
		name:  "amount mismatch",
		nostr: signedZapRequest(t, 2000),
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			code, body := h.get("/alice?amount=1000&nostr=" +
				url.QueryEscape(test.nostr))
			require.Equal(t, http.StatusBadRequest, code)
			require.Contains(
				t, requireErrorEnvelope(t, body),
				zap.ErrInvalidZapRequest.Error(),
			)
		})
	}

	h.invoices.AssertNotCalled(t, "AddInvoice", mock.Anything)
	require.Zero(t, h.signer.Tracker().Len())
}

func TestRateLimit(t *testing.T) {
	h := newServerHarness(t, false, withRateLimit(1, 1))
	h.addAccount(accounts.Account{Username: "alice"})

	code, _ := h.get("/alice")
	require.Equal(t, http.StatusOK, code)

	code, body := h.get("/alice")
	require.Equal(t, http.StatusTooManyRequests, code)
	require.Contains(
		t, requireErrorEnvelope(t, body), errRateLimited.Error(),
	)
}

func TestServiceLNURL(t *testing.T) {
	h := newServerHarness(t, false)

	lnurl, err := h.server.ServiceLNURL()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(lnurl, "LNURL1"))

	decoded, err := DecodeURL(lnurl)
	require.NoError(t, err)
	require.Equal(t, "https://x.org/lnurlp", decoded)
}
