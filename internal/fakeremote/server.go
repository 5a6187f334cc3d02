// Package fakeremote is an in-memory document database speaking the RPC
// protocol of pkg/connection over HTTP (POST /rpc) and WebSocket (/rpc),
// for tests and local demos.
//
// The WebSocket side is implemented with the gws library. Stub responses
// matching a method (and optionally its parameters) inject errors, and the
// whole server can be switched offline.
package fakeremote

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/lxzan/gws"

	"github.com/surrealdb/surrealtodo/pkg/connection"
	"github.com/surrealdb/surrealtodo/pkg/models"
)

// RequestMatcher selects the requests a stub applies to.
type RequestMatcher struct {
	Method string
	// Matcher optionally narrows the match by parameters.
	Matcher func(params []any) bool
}

// StubResponse replaces the normal handling of matching requests.
type StubResponse struct {
	Matcher RequestMatcher
	// Error is returned instead of the normal result.
	Error *connection.RPCError
	// Status, when set, answers HTTP requests with this status and no body.
	// WebSocket requests get their connection dropped instead.
	Status int
	// Delay is applied before answering.
	Delay time.Duration
	// Times limits how often the stub applies; zero means always.
	Times int
}

type Server struct {
	mu      sync.Mutex
	table   string
	records map[string]map[string]any
	stubs   []*stubState
	calls   []connection.RPCRequest
	offline bool
	now     func() time.Time
	sockets map[*gws.Conn]struct{}

	upgrader *gws.Upgrader
	http     *httptest.Server
}

type stubState struct {
	StubResponse
	used int
}

// Handler implements gws.Event for WebSocket connections.
type Handler struct {
	server *Server
}

// NewServer starts a server for records of table on a random local port.
func NewServer(table string) *Server {
	s := &Server{
		table:   table,
		records: make(map[string]map[string]any),
		sockets: make(map[*gws.Conn]struct{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
	s.upgrader = gws.NewUpgrader(&Handler{server: s}, &gws.ServerOption{})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/rpc", s.serveRPC)
	s.http = httptest.NewServer(mux)
	return s
}

// URL is the http:// base URL.
func (s *Server) URL() string { return s.http.URL }

// WSURL is the ws:// base URL.
func (s *Server) WSURL() string { return "ws" + strings.TrimPrefix(s.http.URL, "http") }

func (s *Server) Close() {
	s.http.CloseClientConnections()
	s.http.Close()
}

// SetOffline makes health checks fail and drops every RPC.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
	if offline {
		s.http.CloseClientConnections()
		for socket := range s.sockets {
			_ = socket.NetConn().Close()
		}
	}
}

func (s *Server) AddStubResponse(stub StubResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = append(s.stubs, &stubState{StubResponse: stub})
}

func (s *Server) ClearStubs() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stubs = nil
}

// Calls returns the handled requests for method, or all when method is empty.
func (s *Server) Calls(method string) []connection.RPCRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []connection.RPCRequest
	for _, c := range s.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Put stores t as the server's copy, as if another device had written it.
func (s *Server) Put(t *models.Task) error {
	doc, err := toDocument(t)
	if err != nil {
		return err
	}
	doc["id"] = t.ID.Thing(s.table)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[string(t.ID)] = doc
	return nil
}

// Task returns the server's copy of id.
func (s *Server) Task(id models.TaskID) (*models.Task, bool) {
	s.mu.Lock()
	doc, ok := s.records[string(id)]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	var t models.Task
	if err := fromDocument(doc, &t); err != nil {
		return nil, false
	}
	t.ID = id
	return &t, true
}

// Delete removes id, as if another device had deleted it.
func (s *Server) Delete(id models.TaskID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, string(id))
}

func (s *Server) serveHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if offline {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		socket, err := s.upgrader.Upgrade(w, r)
		if err != nil {
			log.Printf("fakeremote: upgrade failed: %v", err)
			return
		}
		go socket.ReadLoop()
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.Header.Get("Surreal-NS") == "" || r.Header.Get("Surreal-DB") == "" {
		s.writeHTTP(w, http.StatusBadRequest, errorResponse(nil, connection.CodeInvalidRequest, "Specify a namespace and database"))
		return
	}

	var req connection.RPCRequest
	if err := connection.Codec.Unmarshal(body, &req); err != nil {
		s.writeHTTP(w, http.StatusBadRequest, errorResponse(nil, connection.CodeParseError, "Parse error"))
		return
	}

	stub, offline := s.match(&req)
	if offline {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if stub != nil {
		time.Sleep(stub.Delay)
		if stub.Status != 0 {
			w.WriteHeader(stub.Status)
			return
		}
		s.writeHTTP(w, http.StatusOK, errorResponse(nil, stub.Error.Code, stub.Error.Message))
		return
	}

	s.writeHTTP(w, http.StatusOK, s.handle(&req, false))
}

func (s *Server) writeHTTP(w http.ResponseWriter, status int, res connection.RPCResponse[any]) {
	data, err := connection.Codec.Marshal(res)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", connection.Codec.ContentType())
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// match records req and returns the stub that applies to it, if any.
func (s *Server) match(req *connection.RPCRequest) (*StubResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.offline {
		return nil, true
	}
	s.calls = append(s.calls, *req)
	for _, stub := range s.stubs {
		if stub.Matcher.Method != req.Method {
			continue
		}
		if stub.Matcher.Matcher != nil && !stub.Matcher.Matcher(req.Params) {
			continue
		}
		if stub.Times > 0 && stub.used >= stub.Times {
			continue
		}
		stub.used++
		resp := stub.StubResponse
		if resp.Error == nil && resp.Status == 0 {
			resp.Error = &connection.RPCError{Code: connection.CodeInternalError, Message: "stubbed failure"}
		}
		return &resp, false
	}
	return nil, false
}

// handle runs req against the in-memory table.
func (s *Server) handle(req *connection.RPCRequest, ws bool) connection.RPCResponse[any] {
	switch req.Method {
	case connection.MethodUse, connection.MethodAuthenticate:
		if !ws {
			return errorResponse(req.ID, connection.CodeMethodNotFound, "Method not available over HTTP")
		}
		return result(req.ID, nil)
	case connection.MethodPing:
		return result(req.ID, nil)
	case connection.MethodSelect:
		return s.handleSelect(req)
	case connection.MethodMerge:
		return s.handleMerge(req)
	}
	return errorResponse(req.ID, connection.CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
}

func (s *Server) handleSelect(req *connection.RPCRequest) connection.RPCResponse[any] {
	if len(req.Params) != 1 {
		return errorResponse(req.ID, connection.CodeInvalidParams, "select expects one parameter")
	}
	what, _ := req.Params[0].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	if what == s.table {
		ids := make([]string, 0, len(s.records))
		for id := range s.records {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		rows := make([]any, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, s.records[id])
		}
		return result(req.ID, rows)
	}

	id, err := s.recordID(what)
	if err != nil {
		return errorResponse(req.ID, connection.CodeInvalidParams, err.Error())
	}
	doc, ok := s.records[id]
	if !ok {
		return result(req.ID, nil)
	}
	return result(req.ID, doc)
}

func (s *Server) handleMerge(req *connection.RPCRequest) connection.RPCResponse[any] {
	if len(req.Params) != 2 {
		return errorResponse(req.ID, connection.CodeInvalidParams, "merge expects two parameters")
	}
	what, _ := req.Params[0].(string)
	patch, ok := req.Params[1].(map[string]any)
	if !ok {
		return errorResponse(req.ID, connection.CodeInvalidParams, "merge data must be an object")
	}
	id, err := s.recordID(what)
	if err != nil {
		return errorResponse(req.ID, connection.CodeInvalidParams, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.records[id]
	if !ok {
		return result(req.ID, nil)
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	doc["updated_at"] = s.now()
	return result(req.ID, doc)
}

func (s *Server) recordID(thing string) (string, error) {
	table, id, ok := strings.Cut(thing, ":")
	if !ok || table != s.table || id == "" {
		return "", fmt.Errorf("invalid record id %q", thing)
	}
	return id, nil
}

func result(id any, v any) connection.RPCResponse[any] {
	return connection.RPCResponse[any]{ID: id, Result: &v}
}

func errorResponse(id any, code int, message string) connection.RPCResponse[any] {
	return connection.RPCResponse[any]{ID: id, Error: &connection.RPCError{Code: code, Message: message}}
}

// toDocument converts t to the generic shape stored by the server.
func toDocument(t *models.Task) (map[string]any, error) {
	data, err := connection.Codec.Marshal(t)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := connection.Codec.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fromDocument(doc map[string]any, t *models.Task) error {
	c := make(map[string]any, len(doc))
	for k, v := range doc {
		if k != "id" {
			c[k] = v
		}
	}
	data, err := connection.Codec.Marshal(c)
	if err != nil {
		return err
	}
	if err := connection.Codec.Unmarshal(data, t); err != nil {
		return errors.Join(errors.New("fakeremote: stored document is not a task"), err)
	}
	return nil
}
