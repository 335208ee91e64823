// Package rpcserver is the out-of-core JSON-RPC 2.0 front end (§6): it
// translates HTTP requests into session.Conductor calls and conductor
// results back into the {state, stop_reason?, stop_address?, thread_id?}
// reporting contract §6 specifies, and answers with a machine-readable
// {"kind": "...", "message": "..."} on error rather than a raw OS error,
// per §7.
package rpcserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/rs/cors"

	"github.com/jetsetilly/watdbg/logger"
	"github.com/jetsetilly/watdbg/serveroptions"
	"github.com/jetsetilly/watdbg/session"
)

// jsonrpcVersion is the only version this server speaks.
const jsonrpcVersion = "2.0"

// request is one JSON-RPC 2.0 request object.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// response is one JSON-RPC 2.0 response object. Result and Error are
// mutually exclusive, per the spec.
type response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// rpcError is the JSON-RPC error object. Data carries the debugger's own
// {kind, message} payload (§7) for every error that originated in the core;
// plain JSON-RPC protocol errors (parse error, method not found) leave it
// nil.
type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// handlerFunc is one tool's implementation: it decodes its own params from
// raw and returns a JSON-marshalable result or an error.
type handlerFunc func(raw json.RawMessage) (interface{}, error)

// Server wires the JSON-RPC surface to a session conductor. It is stateless
// beyond the conductor and the tool dispatch table built at construction.
type Server struct {
	conductor *session.Conductor
	opts      serveroptions.Options
	tools     map[string]handlerFunc

	statsMgr *statsview.Manager
}

// New builds a Server backed by conductor, configured per opts.
func New(conductor *session.Conductor, opts serveroptions.Options) *Server {
	s := &Server{conductor: conductor, opts: opts}
	s.tools = s.buildTools()
	return s
}

// Handler returns the http.Handler to serve: the JSON-RPC endpoint wrapped
// in the rs/cors middleware configured from opts.CORSOrigins.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.serveRPC)

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	return c.Handler(mux)
}

// ListenAndServe starts the JSON-RPC HTTP server on opts.ListenAddr and,
// when opts.StatsAddr is non-empty, the go-echarts/statsview dashboard
// alongside it (mounted on its own listener, per statsview's own design).
// It blocks until the JSON-RPC server returns.
func (s *Server) ListenAndServe() error {
	if s.opts.StatsAddr != "" {
		s.statsMgr = statsview.New(viewer.WithAddr(s.opts.StatsAddr))
		go func() {
			if err := s.statsMgr.Start(); err != nil {
				logger.Logf(logger.Allow, "rpcserver", "statsview dashboard stopped: %v", err)
			}
		}()
		logger.Logf(logger.Allow, "rpcserver", "statsview dashboard listening on %s", s.opts.StatsAddr)
	}

	logger.Logf(logger.Allow, "rpcserver", "JSON-RPC listening on %s", s.opts.ListenAddr)
	return http.ListenAndServe(s.opts.ListenAddr, s.Handler())
}

// Close stops the statsview dashboard, if it was started. The JSON-RPC HTTP
// server itself has no separate lifetime to stop here; ListenAndServe
// returning is its close signal.
func (s *Server) Close() {
	if s.statsMgr != nil {
		s.statsMgr.Stop()
	}
}

func (s *Server) serveRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "watdbg rpc: only POST is supported", http.StatusMethodNotAllowed)
		return
	}

	var req request
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, nil, codeParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != jsonrpcVersion || req.Method == "" {
		s.writeError(w, req.ID, codeInvalidRequest, "not a well-formed JSON-RPC 2.0 request", nil)
		return
	}

	tool, ok := s.tools[req.Method]
	if !ok {
		s.writeError(w, req.ID, codeMethodNotFound, "unknown tool "+req.Method, nil)
		return
	}

	result, err := tool(req.Params)
	if err != nil {
		s.writeErrorFromErr(w, req.ID, err)
		return
	}

	s.writeResult(w, req.ID, result)
}

func (s *Server) writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{JSONRPC: jsonrpcVersion, Result: result, ID: id})
}

func (s *Server) writeError(w http.ResponseWriter, id json.RawMessage, code int, msg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{
		JSONRPC: jsonrpcVersion,
		Error:   &rpcError{Code: code, Message: msg, Data: data},
		ID:      id,
	})
}

// writeErrorFromErr maps a core error to its {kind, message} payload (§7)
// when it carries an errkind.Kind, and to a bare internal error otherwise.
func (s *Server) writeErrorFromErr(w http.ResponseWriter, id json.RawMessage, err error) {
	code, data := classifyError(err)
	s.writeError(w, id, code, err.Error(), data)
}
