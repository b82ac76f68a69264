// Package gateway exposes live group views over Connect RPC.
//
// A consumer opens a view with Watch, which hosts one livesync.Coordinator
// for as long as the stream stays open, and drives it with unary calls
// carrying the view ID announced in the stream's first event.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/mmynk/receiptsync/internal/calculator"
	"github.com/mmynk/receiptsync/internal/livesync"
	"github.com/mmynk/receiptsync/internal/metrics"
)

const ServiceName = "receiptsync.v1.ViewService"

const (
	WatchProcedure            = "/" + ServiceName + "/Watch"
	ToggleAssignmentProcedure = "/" + ServiceName + "/ToggleAssignment"
	UpdateEntryProcedure      = "/" + ServiceName + "/UpdateEntry"
	AddEntryProcedure         = "/" + ServiceName + "/AddEntry"
	DeleteEntryProcedure      = "/" + ServiceName + "/DeleteEntry"
	SetProcessedProcedure     = "/" + ServiceName + "/SetProcessed"
	SetPaidByProcedure        = "/" + ServiceName + "/SetPaidBy"
	SetReceiptPeopleProcedure = "/" + ServiceName + "/SetReceiptPeople"
	SetGroupPeopleProcedure   = "/" + ServiceName + "/SetGroupPeople"
	RefreshProcedure          = "/" + ServiceName + "/Refresh"
	SetVisibleProcedure       = "/" + ServiceName + "/SetVisible"
)

// eventBuffer is how many events a view may queue ahead of its stream.
const eventBuffer = 64

type session struct {
	id      string
	groupID string
	coord   *livesync.Coordinator
	cancel  context.CancelFunc
}

// Server implements the view service. Create it with NewServer and mount
// the result of Handler.
type Server struct {
	views   ViewFactory
	engine  calculator.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

func NewServer(views ViewFactory, engine calculator.Engine, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default().With("component", "gateway")
	}
	return &Server{
		views:    views,
		engine:   engine,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*session),
	}
}

// Handler returns the path prefix and handler serving every procedure.
// opts apply to each procedure, after the JSON codec.
func (s *Server) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)
	mux := http.NewServeMux()
	mux.Handle(WatchProcedure, connect.NewServerStreamHandler(WatchProcedure, s.Watch, opts...))

	handleIntent[ToggleAssignmentRequest](mux, s, ToggleAssignmentProcedure, opts)
	handleIntent[UpdateEntryRequest](mux, s, UpdateEntryProcedure, opts)
	handleIntent[AddEntryRequest](mux, s, AddEntryProcedure, opts)
	handleIntent[DeleteEntryRequest](mux, s, DeleteEntryProcedure, opts)
	handleIntent[SetProcessedRequest](mux, s, SetProcessedProcedure, opts)
	handleIntent[SetPaidByRequest](mux, s, SetPaidByProcedure, opts)
	handleIntent[SetReceiptPeopleRequest](mux, s, SetReceiptPeopleProcedure, opts)
	handleIntent[SetGroupPeopleRequest](mux, s, SetGroupPeopleProcedure, opts)

	handle(mux, RefreshProcedure, s.Refresh, opts)
	handle(mux, SetVisibleProcedure, s.SetVisible, opts)
	return "/" + ServiceName + "/", mux
}

func handle[Req any](mux *http.ServeMux, procedure string, fn func(context.Context, *Req) error, opts []connect.HandlerOption) {
	mux.Handle(procedure, connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Ack], error) {
			if err := fn(ctx, req.Msg); err != nil {
				return nil, err
			}
			return connect.NewResponse(&Ack{}), nil
		}, opts...))
}

func handleIntent[Req intentRequest](mux *http.ServeMux, s *Server, procedure string, opts []connect.HandlerOption) {
	handle(mux, procedure, func(ctx context.Context, req *Req) error {
		return s.apply(ctx, *req)
	}, opts)
}

// Watch opens a view of one group and streams its events until the client
// goes away or the server closes.
func (s *Server) Watch(ctx context.Context, req *connect.Request[WatchRequest], stream *connect.ServerStream[ViewEvent]) error {
	groupID := req.Msg.GroupID
	if groupID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("group_id is required"))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	viewID := uuid.NewString()
	logger := s.logger.With("view_id", viewID, "group_id", groupID)

	events := make(chan ViewEvent, eventBuffer)
	done := make(chan struct{})
	send := func(ev ViewEvent) {
		select {
		case events <- ev:
		case <-done:
		}
	}

	coord := s.views(viewID, groupID, livesync.WithHandlers(s.forward(send)))
	sess := &session{id: viewID, groupID: groupID, coord: coord, cancel: cancel}
	if !s.register(sess) {
		close(done)
		coord.Detach()
		return connect.NewError(connect.CodeUnavailable, errors.New("gateway is shutting down"))
	}
	defer func() {
		s.unregister(viewID)
		close(done)
		coord.Detach()
		logger.Info("View closed")
	}()
	logger.Info("View opened")

	if err := stream.Send(&ViewEvent{Type: EventAttached, ViewID: viewID}); err != nil {
		return err
	}

	// A failed attach leaves the view in the error state; the client sees the
	// errored event and may call Refresh.
	go func() {
		if err := coord.Attach(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Attach failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

// forward converts coordinator events into stream messages.
func (s *Server) forward(send func(ViewEvent)) livesync.Handlers {
	return livesync.Handlers{
		OnRefreshed: func(ev livesync.Refreshed) {
			report := s.engine.Report(ev.Snapshot)
			send(ViewEvent{
				Type:     EventRefreshed,
				Snapshot: ev.Snapshot,
				Balances: &report,
				Reason:   string(ev.Reason),
			})
		},
		OnEntryHighlighted: func(ev livesync.EntryHighlighted) {
			send(ViewEvent{Type: EventHighlighted, EntryID: ev.EntryID, ReceiptID: ev.ReceiptID})
		},
		OnErrored: func(ev livesync.Errored) {
			send(ViewEvent{Type: EventErrored, Kind: ev.Kind.String(), Message: ev.Message})
		},
		OnStateChanged: func(ev livesync.StateChanged) {
			send(ViewEvent{Type: EventState, State: ev.To.String()})
		},
	}
}

func (s *Server) apply(ctx context.Context, req intentRequest) error {
	sess, err := s.lookup(req.GetViewID())
	if err != nil {
		return err
	}
	return toConnectError(sess.coord.Apply(ctx, req.Intent()))
}

// Refresh forces a full canonical refresh of the view.
func (s *Server) Refresh(ctx context.Context, req *RefreshRequest) error {
	sess, err := s.lookup(req.ViewID)
	if err != nil {
		return err
	}
	return toConnectError(sess.coord.Refresh(ctx))
}

// SetVisible pauses or resumes change polling for the view.
func (s *Server) SetVisible(ctx context.Context, req *SetVisibleRequest) error {
	sess, err := s.lookup(req.ViewID)
	if err != nil {
		return err
	}
	sess.coord.SetVisible(req.Visible)
	return nil
}

// Sessions returns the number of open views.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close ends every open Watch stream and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.cancel()
	}
	s.logger.Info("Gateway closed", "views", len(open))
}

func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess.id] = sess
	s.metrics.Sessions(1)
	return true
}

func (s *Server) unregister(viewID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[viewID]; ok {
		delete(s.sessions, viewID)
		s.metrics.Sessions(-1)
	}
}

func (s *Server) lookup(viewID string) (*session, error) {
	if viewID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("view_id is required"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[viewID]
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("view %s is not open", viewID))
	}
	return sess, nil
}

func toConnectError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, livesync.ErrInvalidIntent):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, livesync.ErrNotReady):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, livesync.ErrDetached):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
