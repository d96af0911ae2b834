// Package platformtest provides an in-process fake of the trading platform
// web API for tests.
package platformtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"fenixbot/internal/domain"
)

const (
	StateActive       = 2
	StateAccepted     = 3
	StateCountered    = 4
	StateCanceled     = 6
	StateDeclined     = 7
	StateInvalidItems = 8
)

type offer struct {
	ID         string
	State      int
	TradeURL   string
	Items      []domain.AssetRef
	Message    string
	IsOurOffer bool
	Updated    time.Time
}

// Server is a fake platform. Offer endpoints require the sessionid cookie
// issued by the latest successful login.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	LoginStatus int
	LoginError  string
	SendStatus  int

	sessionID  string
	loginCalls int
	loginCodes []string
	sendCalls  int
	nextOffer  int
	offers     map[string]*offer
	receipts   map[string][]domain.ReceivedItem
	inspect    map[string]map[string]interface{}
	canceled   []string
	declined   []string
}

func NewServer() *Server {
	s := &Server{
		offers:   make(map[string]*offer),
		receipts: make(map[string][]domain.ReceivedItem),
		inspect:  make(map[string]map[string]interface{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/tradeoffer/new", s.authed(s.handleNewOffer))
	mux.HandleFunc("/tradeoffers", s.authed(s.handleListOffers))
	mux.HandleFunc("/tradeoffers/", s.authed(s.handleOffer))
	mux.HandleFunc("/inspect/", s.handleInspect)
	s.Server = httptest.NewServer(mux)
	return s
}

func (s *Server) BaseURL() string    { return s.URL }
func (s *Server) InspectURL() string { return s.URL + "/inspect" }

func (s *Server) LoginCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCalls
}

func (s *Server) LoginCodes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loginCodes...)
}

func (s *Server) SendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendCalls
}

func (s *Server) Canceled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.canceled...)
}

func (s *Server) Declined() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.declined...)
}

// ExpireSession invalidates the current session cookies.
func (s *Server) ExpireSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
}

func (s *Server) OfferState(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.offers[id]; ok {
		return o.State
	}
	return 0
}

func (s *Server) OfferTradeURL(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.offers[id]; ok {
		return o.TradeURL
	}
	return ""
}

func (s *Server) SetOfferState(id string, state int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		o = &offer{ID: id, IsOurOffer: true}
		s.offers[id] = o
	}
	o.State = state
	o.Updated = time.Now()
}

// AddIncomingOffer registers an active offer sent to the bot by someone else.
func (s *Server) AddIncomingOffer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[id] = &offer{ID: id, State: StateActive, Updated: time.Now()}
}

func (s *Server) SetReceipt(offerID string, items []domain.ReceivedItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts[offerID] = items
}

func (s *Server) SetInspect(link string, info map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inspect[link] = info
}

func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("sessionid")
		s.mu.Lock()
		valid := err == nil && s.sessionID != "" && ck.Value == s.sessionID
		s.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not_logged_in"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.loginCalls++
	s.loginCodes = append(s.loginCodes, r.Form.Get("two_factor_code"))
	status, loginErr := s.LoginStatus, s.LoginError
	if status == 0 || status == http.StatusOK {
		s.sessionID = fmt.Sprintf("sess-%d", s.loginCalls)
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]string{"error": loginErr})
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: sessionID, Path: "/"})
	http.SetCookie(w, &http.Cookie{Name: "steamLoginSecure", Value: "secure-" + sessionID, Path: "/"})
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session_id": sessionID})
}

func (s *Server) handleNewOffer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TradeURL       string            `json:"trade_url"`
		ItemsToReceive []domain.AssetRef `json:"items_to_receive"`
		Message        string            `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.mu.Lock()
	s.sendCalls++
	status := s.SendStatus
	if status != 0 && status != http.StatusOK {
		s.mu.Unlock()
		writeJSON(w, status, map[string]string{"error": "send_failed", "message": "offer rejected"})
		return
	}
	s.nextOffer++
	id := fmt.Sprintf("%d", 7000+s.nextOffer)
	s.offers[id] = &offer{
		ID:         id,
		State:      StateActive,
		TradeURL:   body.TradeURL,
		Items:      body.ItemsToReceive,
		Message:    body.Message,
		IsOurOffer: true,
		Updated:    time.Now(),
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"tradeofferid": id})
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.mu.Lock()
	defer s.mu.Unlock()
	sent := make([]map[string]interface{}, 0)
	received := make([]map[string]interface{}, 0)
	for _, o := range s.offers {
		p := payload(o)
		if o.IsOurOffer {
			sent = append(sent, p)
		} else if q.Get("active_only") != "1" || o.State == StateActive {
			received = append(received, p)
		}
	}
	resp := map[string]interface{}{}
	if q.Get("get_sent_offers") == "1" {
		resp["trade_offers_sent"] = sent
	}
	if q.Get("get_received_offers") == "1" {
		resp["trade_offers_received"] = received
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tradeoffers/")
	id, action, _ := strings.Cut(rest, "/")
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	switch action {
	case "":
		writeJSON(w, http.StatusOK, map[string]interface{}{"offer": payload(o)})
	case "receipt":
		writeJSON(w, http.StatusOK, map[string]interface{}{"items": s.receipts[id]})
	case "cancel":
		s.canceled = append(s.canceled, id)
		if o.State == StateActive {
			o.State = StateCanceled
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case "decline":
		s.declined = append(s.declined, id)
		if o.State == StateActive {
			o.State = StateDeclined
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("url")
	s.mu.Lock()
	info, ok := s.inspect[link]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "inspect_unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"iteminfo": info})
}

func payload(o *offer) map[string]interface{} {
	return map[string]interface{}{
		"tradeofferid":      o.ID,
		"trade_offer_state": o.State,
		"is_our_offer":      o.IsOurOffer,
		"time_updated":      o.Updated.Unix(),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
