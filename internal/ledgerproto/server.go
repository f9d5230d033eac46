package ledgerproto

import (
	"encoding/json"
	"net"

	"github.com/rs/zerolog"

	"github.com/renerocksai/tigerfans-go/internal/ledgerengine"
)

// Server accepts connections and dispatches exactly one request per
// connection to the underlying ledgerengine.Engine, mirroring the
// per-call-connection style of Client.
type Server struct {
	engine   *ledgerengine.Engine
	log      zerolog.Logger
	listener net.Listener
}

// NewServer wraps engine with a network listener at addr.
func NewServer(addr string, engine *ledgerengine.Engine, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{engine: engine, log: logger.With().Str("component", "ledgerd").Logger(), listener: ln}, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handle(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := ReadFrame(conn, &req); err != nil {
		return
	}

	resp := s.dispatch(req)
	if err := WriteFrame(conn, resp); err != nil {
		s.log.Warn().Err(err).Msg("failed to write response")
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Method {
	case "reserve_batch":
		var p CreateTransfersParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		items := make([]ledgerengine.ReserveItem, len(p.Items))
		for i, it := range p.Items {
			items[i] = ledgerengine.ReserveItem{Resource: it.Resource, Qty: it.Qty, TimeoutMS: it.TimeoutMS}
		}
		outcomes := s.engine.CreateTransfers(items)
		wireOutcomes := make([]ReserveOutcome, len(outcomes))
		for i, o := range outcomes {
			wireOutcomes[i] = ReserveOutcome{ID: o.ID, Accepted: o.Accepted}
		}
		return okResponse(CreateTransfersResult{Outcomes: wireOutcomes})

	case "post":
		var p PostParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		return okResponse(PostResult{Posted: s.engine.Post(p.ID)})

	case "void":
		var p VoidParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		s.engine.Void(p.ID)
		return okResponse(struct{}{})

	case "fast_book":
		var p FastBookParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		id, accepted := s.engine.FastBook(p.Resource, p.Qty)
		return okResponse(FastBookResult{ID: id, Accepted: accepted})

	case "inventory":
		var p InventoryParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return errResponse(err)
		}
		capacity, posted, pendingLive, err := s.engine.Inventory(p.Resource)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(InventoryResult{Capacity: capacity, Posted: posted, PendingLive: pendingLive})

	case "goodies_posted":
		return okResponse(GoodiesPostedResult{Posted: s.engine.GoodiesPosted()})

	default:
		return Response{Error: "unknown method: " + req.Method}
	}
}

func okResponse(v interface{}) Response {
	payload, err := json.Marshal(v)
	if err != nil {
		return errResponse(err)
	}
	return Response{Result: payload}
}

func errResponse(err error) Response {
	return Response{Error: err.Error()}
}
