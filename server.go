package lndaddr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ellemouton/lndaddr/accounts"
	"github.com/ellemouton/lndaddr/zap"
	"github.com/gorilla/mux"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// servicePath is the path of the service level pay request that
	// isn't bound to an account.
	servicePath = "lnurlp"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second

	limiterCleanupInterval = time.Minute
)

var errRateLimited = errors.New("rate limit exceeded")

// Server serves the LNURL-pay endpoints of all accounts and the admin API.
type Server struct {
	cfg      *Config
	store    *accounts.Store
	invoices InvoiceClient
	signer   *zap.Signer
	limiter  *rateLimiter
	ticker   ticker.Ticker

	httpServer  *http.Server
	adminServer *http.Server

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewServer creates a server. The config must have been validated with
// ValidateConfig. signer may be nil, in which case zaps are disabled.
func NewServer(cfg *Config, store *accounts.Store, invoices InvoiceClient,
	signer *zap.Signer) *Server {

	s := &Server{
		cfg:      cfg,
		store:    store,
		invoices: invoices,
		signer:   signer,
		ticker:   ticker.New(limiterCleanupInterval),
		quit:     make(chan struct{}),
	}

	if cfg.RateLimit > 0 {
		s.limiter = newRateLimiter(
			cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy,
			clock.NewDefaultClock(),
		)
	}

	return s
}

// Handler returns the public LNURL router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc(
		"/.well-known/lnurlp/{user}",
		instrument("wellknown", s.handleUserRequest),
	).Methods(http.MethodGet)
	r.HandleFunc(
		"/"+servicePath, instrument("service", s.handleServiceRequest),
	).Methods(http.MethodGet)
	r.HandleFunc(
		"/{user}", instrument("user", s.handleUserRequest),
	).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(
		func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusNotFound, errors.New("not found"))
		},
	)

	if s.limiter != nil {
		return s.limiter.handler(r)
	}

	return r
}

// Start binds the public and admin listeners and starts serving.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", s.cfg.Listen,
			err)
	}

	adminLis, err := net.Listen("tcp", s.cfg.AdminListen)
	if err != nil {
		_ = lis.Close()

		return fmt.Errorf("unable to listen on %s: %w",
			s.cfg.AdminListen, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.adminServer = &http.Server{
		Handler:           s.AdminHandler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.wg.Add(2)
	go s.serve(s.httpServer, lis)
	go s.serve(s.adminServer, adminLis)

	if s.limiter != nil {
		s.ticker.Resume()

		s.wg.Add(1)
		go s.cleanupLimiters()
	}

	log.Infof("LNURL server listening on %s, admin API on %s",
		lis.Addr(), adminLis.Addr())

	return s.printHello()
}

func (s *Server) serve(srv *http.Server, lis net.Listener) {
	defer s.wg.Done()

	err := srv.Serve(lis)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("HTTP server on %s stopped: %v", lis.Addr(), err)
	}
}

func (s *Server) cleanupLimiters() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ticker.Ticks():
			if n := s.limiter.cleanup(); n > 0 {
				log.Debugf("Removed %d idle rate limiter(s)", n)
			}

		case <-s.quit:
			return
		}
	}
}

// Stop shuts down both listeners and waits for all goroutines to exit.
func (s *Server) Stop() error {
	close(s.quit)
	s.ticker.Stop()

	ctx, cancel := context.WithTimeout(
		context.Background(), shutdownTimeout,
	)
	defer cancel()

	var errs []error
	for _, srv := range []*http.Server{s.httpServer, s.adminServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	s.wg.Wait()

	return errors.Join(errs...)
}

// ServiceLNURL returns the bech32 LNURL of the service level pay request.
func (s *Server) ServiceLNURL() (string, error) {
	return EncodeURL(s.cfg.BaseURLParsed().JoinPath(servicePath).String())
}

func (s *Server) printHello() error {
	payLNURL, err := s.ServiceLNURL()
	if err != nil {
		return err
	}

	fmt.Printf(
		""+
			"=======================================\n"+
			"Welcome to lndaddr!\n"+
			"Your static LNURL-pay code is: \n"+
			"- %s\n"+
			"- lightning:%s\n"+
			"Lightning addresses: <user>@%s\n"+
			"=======================================\n",
		payLNURL, payLNURL, s.cfg.BaseURLParsed().Host,
	)

	return nil
}

// handleUserRequest serves both the first contact and the callback of an
// account's pay request.
func (s *Server) handleUserRequest(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(mux.Vars(r)["user"])

	acct, ok := s.store.Get(username)
	if !ok {
		writeError(w, http.StatusOK, fmt.Errorf("%w: %s",
			accounts.ErrUnknownUser, username))

		return
	}

	callback := s.cfg.BaseURLParsed().JoinPath(acct.Username).String()
	s.servePayRequest(w, r, acct, callback)
}

// handleServiceRequest serves the pay request that isn't bound to an
// account. It uses the default description and bounds.
func (s *Server) handleServiceRequest(w http.ResponseWriter,
	r *http.Request) {

	callback := s.cfg.BaseURLParsed().JoinPath(servicePath).String()
	s.servePayRequest(w, r, &accounts.Account{}, callback)
}

func (s *Server) servePayRequest(w http.ResponseWriter, r *http.Request,
	acct *accounts.Account, callback string) {

	var nostrPubKey string
	if s.signer != nil {
		nostrPubKey = s.signer.PubKey()
	}

	query := r.URL.Query()
	if !query.Has("amount") {
		writeJSON(w, http.StatusOK, BuildPayResponse(
			acct, s.cfg, callback, nostrPubKey,
		))

		return
	}

	amt, err := ParseAmount(query.Get("amount"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	minAmt, maxAmt := acct.EffectiveBounds(s.cfg.Bounds())
	if err := ValidateAmount(amt, minAmt, maxAmt); err != nil {
		writeError(w, http.StatusOK, err)
		return
	}

	req := &InvoiceRequest{
		Account: acct,
		Amount:  amt,
		Comment: query.Get("comment"),
	}

	if rawZap := query.Get("nostr"); rawZap != "" {
		if s.signer == nil {
			writeError(w, http.StatusOK, zap.ErrZapsDisabled)
			return
		}

		req.ZapRequest, err = zap.ParseRequest(
			rawZap, amt, s.signer.PubKey(),
		)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	resp, err := s.RequestInvoice(r.Context(), req)
	if err != nil {
		log.Warnf("Unable to create invoice for %s: %v",
			acct.Username, err)

		writeError(w, http.StatusOK, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeError sends err as an LNURL error envelope.
func writeError(w http.ResponseWriter, code int, err error) {
	log.Debugf("Request failed with %d: %v", code, err)

	writeJSON(w, code, &Error{
		Status: StatusError,
		Reason: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("Unable to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(code)

	if _, err := w.Write(response); err != nil {
		log.Debugf("Unable to write response: %v", err)
	}
}
