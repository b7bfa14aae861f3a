package lndaddr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ellemouton/lndaddr/accounts"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// UserInfo describes an account together with the identifiers wallets can
// pay it with.
type UserInfo struct {
	*accounts.Account

	// Address is the lightning address of the account.
	Address string `json:"address"`

	// LNURL is the bech32 encoded pay request URL of the account.
	LNURL string `json:"lnurl"`
}

// ListUsersResponse is returned by GET /v1/users.
type ListUsersResponse struct {
	Users []*UserInfo `json:"users"`
}

// AdminError is the body of a failed admin request.
type AdminError struct {
	Error string `json:"error"`
}

// AdminHandler returns the router of the admin API. It must only be exposed
// to trusted clients.
func (s *Server) AdminHandler() http.Handler {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/users", s.addUser).Methods(http.MethodPost)
	v1.HandleFunc("/users", s.listUsers).Methods(http.MethodGet)
	v1.HandleFunc("/users/{user}", s.deleteUser).Methods(http.MethodDelete)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

func (s *Server) addUser(w http.ResponseWriter, r *http.Request) {
	var acct accounts.Account
	if err := json.NewDecoder(r.Body).Decode(&acct); err != nil {
		writeAdminError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	added, err := s.store.Add(r.Context(), acct)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	log.Infof("Added user %s", added.Username)

	info, err := s.userInfo(added)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["user"]

	deleted, err := s.store.Delete(r.Context(), username)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	log.Infof("Deleted user %s", deleted.Username)

	info, err := s.userInfo(deleted)
	if err != nil {
		writeAdminError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	accts := s.store.List(r.URL.Query().Get("user"))

	resp := &ListUsersResponse{
		Users: make([]*UserInfo, 0, len(accts)),
	}
	for _, acct := range accts {
		info, err := s.userInfo(acct)
		if err != nil {
			writeAdminError(w, err)
			return
		}

		resp.Users = append(resp.Users, info)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) userInfo(acct *accounts.Account) (*UserInfo, error) {
	base := s.cfg.BaseURLParsed()

	lnurl, err := EncodeURL(base.JoinPath(acct.Username).String())
	if err != nil {
		return nil, err
	}

	return &UserInfo{
		Account: acct,
		Address: LightningAddress(acct.Username, base.Host),
		LNURL:   lnurl,
	}, nil
}

var errBadRequest = errors.New("invalid request")

// writeAdminError maps store errors onto HTTP status codes.
func writeAdminError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, accounts.ErrDuplicateUser):
		code = http.StatusConflict

	case errors.Is(err, accounts.ErrUnknownUser):
		code = http.StatusNotFound

	case errors.Is(err, accounts.ErrInvalidUsername),
		errors.Is(err, accounts.ErrInvalidBounds),
		errors.Is(err, errBadRequest):

		code = http.StatusBadRequest
	}

	if code == http.StatusInternalServerError {
		log.Errorf("Admin request failed: %v", err)
	}

	writeJSON(w, code, &AdminError{Error: err.Error()})
}
