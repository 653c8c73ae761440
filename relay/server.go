package relay

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is a reference relay implementing the inbox HTTP contract with
// in-memory state. It also hosts a public blob endpoint under /blob so
// a deployment can run payload storage and inboxes on one process.
//
// Routes:
//
//	POST   /create                      create an inbox
//	GET    /inbox/{id}[?longPoll=true]  list items (owner code)
//	POST   /inbox/{id}?lifetime=M       deposit a notification (no auth)
//	GET    /inbox/{id}/item/{item}      fetch notification bytes (owner code)
//	DELETE /inbox/{id}?notification=U   delete an item pointer (owner code)
//	PUT    /blob/{name}?lifetime=M      upload a payload blob (no auth)
//	GET    /blob/{name}                 fetch a payload blob (no auth)
type Server struct {
	mu      sync.Mutex
	inboxes map[string]*serverInbox
	blobs   map[string]serverBlob

	router *mux.Router

	// LongPollTimeout bounds how long a longPoll listing is held open
	// before an empty listing is returned.
	LongPollTimeout time.Duration

	// MaxBodySize bounds accepted notification and blob bodies.
	MaxBodySize int64
}

type serverInbox struct {
	id        string
	ownerCode string
	items     map[string]*serverItem
	order     []string
	arrival   chan struct{}
}

type serverItem struct {
	id       string
	body     []byte
	received time.Time
	expires  time.Time
}

type serverBlob struct {
	body    []byte
	expires time.Time
}

// NewServer creates an empty reference relay.
func NewServer() *Server {
	s := &Server{
		inboxes:         make(map[string]*serverInbox),
		blobs:           make(map[string]serverBlob),
		LongPollTimeout: 25 * time.Second,
		MaxBodySize:     16 << 20,
	}

	r := mux.NewRouter()
	r.HandleFunc("/create", s.handleCreate).Methods(http.MethodPost)
	r.HandleFunc("/inbox/{id}", s.handleList).Methods(http.MethodGet)
	r.HandleFunc("/inbox/{id}", s.handlePost).Methods(http.MethodPost)
	r.HandleFunc("/inbox/{id}", s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc("/inbox/{id}/item/{item}", s.handleFetch).Methods(http.MethodGet)
	r.HandleFunc("/blob/{name}", s.handleBlobPut).Methods(http.MethodPut)
	r.HandleFunc("/blob/{name}", s.handleBlobGet).Methods(http.MethodGet)
	s.router = r

	return s
}

// ServeHTTP dispatches to the relay routes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// externalBase reconstructs the absolute URL prefix clients reached us
// at, so minted inbox and item locations resolve from outside.
func externalBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	box := &serverInbox{
		id:        uuid.NewString(),
		ownerCode: uuid.NewString(),
		items:     make(map[string]*serverItem),
		arrival:   make(chan struct{}, 1),
	}

	s.mu.Lock()
	s.inboxes[box.id] = box
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "handleCreate",
		"package":  "relay",
		"inbox_id": box.id,
	}).Info("Created inbox")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(createResponse{
		MessageReceivingEndpoint: externalBase(r) + "/inbox/" + box.id,
		InboxOwnerCode:           box.ownerCode,
	})
}

// authorized checks the bearer owner code on a listing/fetch/delete.
func (s *Server) authorized(r *http.Request, box *serverInbox) bool {
	header := r.Header.Get("Authorization")
	code, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(code), []byte(box.ownerCode)) == 1
}

func (s *Server) lookupInbox(r *http.Request) *serverInbox {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inboxes[id]
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	box := s.lookupInbox(r)
	if box == nil {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(r, box) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	longPoll := r.URL.Query().Get("longPoll") == "true"
	deadline := time.NewTimer(s.LongPollTimeout)
	defer deadline.Stop()

	for {
		items := s.snapshotItems(box, externalBase(r))
		if len(items) > 0 || !longPoll {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(incomingList{Items: items})
			return
		}

		select {
		case <-box.arrival:
		case <-deadline.C:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(incomingList{Items: []IncomingItem{}})
			return
		case <-r.Context().Done():
			return
		}
	}
}

// snapshotItems lists live items in arrival order, dropping expired
// ones as a side effect.
func (s *Server) snapshotItems(box *serverInbox, base string) []IncomingItem {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	live := box.order[:0]
	items := make([]IncomingItem, 0, len(box.order))
	for _, itemID := range box.order {
		item, ok := box.items[itemID]
		if !ok {
			continue
		}
		if now.After(item.expires) {
			delete(box.items, itemID)
			continue
		}
		live = append(live, itemID)
		items = append(items, IncomingItem{
			Location:    base + "/inbox/" + box.id + "/item/" + item.id,
			ReceivedUTC: item.received,
		})
	}
	box.order = live
	return items
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	box := s.lookupInbox(r)
	if box == nil {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.MaxBodySize+1))
	if err != nil || len(body) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.MaxBodySize {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	lifetime, err := strconv.ParseInt(r.URL.Query().Get("lifetime"), 10, 64)
	if err != nil || lifetime < 0 {
		lifetime = 0
	}

	now := time.Now().UTC()
	item := &serverItem{
		id:       uuid.NewString(),
		body:     body,
		received: now,
		expires:  now.Add(time.Duration(lifetime) * time.Minute),
	}

	s.mu.Lock()
	box.items[item.id] = item
	box.order = append(box.order, item.id)
	s.mu.Unlock()

	select {
	case box.arrival <- struct{}{}:
	default:
	}

	logrus.WithFields(logrus.Fields{
		"function":         "handlePost",
		"package":          "relay",
		"inbox_id":         box.id,
		"item_id":          item.id,
		"body_bytes":       len(body),
		"lifetime_minutes": lifetime,
	}).Debug("Notification deposited")

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	box := s.lookupInbox(r)
	if box == nil {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(r, box) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	itemID := mux.Vars(r)["item"]

	s.mu.Lock()
	item, ok := box.items[itemID]
	if ok && time.Now().After(item.expires) {
		delete(box.items, itemID)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(item.body)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	box := s.lookupInbox(r)
	if box == nil {
		http.NotFound(w, r)
		return
	}
	if !s.authorized(r, box) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	pointer := r.URL.Query().Get("notification")
	if pointer == "" {
		http.Error(w, "missing notification parameter", http.StatusBadRequest)
		return
	}

	// The pointer is the item URL handed out in a listing; its last
	// segment is the item id.
	segments := strings.Split(strings.TrimSuffix(pointer, "/"), "/")
	itemID := segments[len(segments)-1]

	s.mu.Lock()
	_, existed := box.items[itemID]
	delete(box.items, itemID)
	s.mu.Unlock()

	if !existed {
		http.NotFound(w, r)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "handleDelete",
		"package":  "relay",
		"inbox_id": box.id,
		"item_id":  itemID,
	}).Debug("Inbox item deleted")

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleBlobPut(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := io.ReadAll(io.LimitReader(r.Body, s.MaxBodySize+1))
	if err != nil || len(body) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > s.MaxBodySize {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	lifetime, err := strconv.ParseInt(r.URL.Query().Get("lifetime"), 10, 64)
	if err != nil || lifetime < 0 {
		lifetime = 0
	}

	s.mu.Lock()
	s.blobs[name] = serverBlob{
		body:    body,
		expires: time.Now().Add(time.Duration(lifetime) * time.Minute),
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s.mu.Lock()
	obj, ok := s.blobs[name]
	if ok && time.Now().After(obj.expires) {
		delete(s.blobs, name)
		ok = false
	}
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(obj.body)
}
