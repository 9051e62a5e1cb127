package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"matchbook/internal/domain"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("wire: improper task type conversion")
	ErrClientDoesNotExist = errors.New("wire: client does not exist")
)

// Engine is the subset of *engine.Engine the wire server depends on. It is
// expressed as an interface so the server can be tested against a fake.
type Engine interface {
	PlaceLimit(symbol, id string, side domain.Side, size uint64, price domain.Price) []domain.Trade
	PlaceMarket(symbol, id string, side domain.Side, size uint64) []domain.Trade
	Cancel(id string) bool
}

// clientMessage links a decoded frame to the client connection it arrived
// on.
type clientMessage struct {
	clientAddress string
	message       Message
}

// Server accepts TCP connections, decodes wire frames, and drives engine
// through its public library API. It is a collaborator of the core, not
// part of it.
type Server struct {
	address string
	port    int
	engine  Engine
	pool    WorkerPool

	cancel context.CancelFunc

	sessionsLock sync.Mutex
	sessions     map[string]net.Conn
	// orderClients maps a minted order id to the connection that placed
	// it, so a later trade report can be routed back to the right client.
	orderClients map[string]net.Conn

	messages chan clientMessage
}

// New creates a server bound to address:port, driving engine.
func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:      address,
		port:         port,
		engine:       engine,
		pool:         NewWorkerPool(defaultNWorkers),
		sessions:     make(map[string]net.Conn),
		orderClients: make(map[string]net.Conn),
		messages:     make(chan clientMessage, 16),
	}
}

// Shutdown stops the server's accept loop and worker pool.
func (s *Server) Shutdown() {
	log.Info().Msg("wire server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run accepts connections and processes frames until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("wire: listen: %w", err)
	}
	defer listener.Close()
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})
	t.Go(func() error {
		return s.sessionLoop(t)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("wire server listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					log.Error().Err(err).Msg("error accepting client")
					continue
				}
			}
			s.addSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

// ReportTrade is registered as the engine's trade observer. It looks up
// which connections placed the two sides of the trade and writes each an
// execution report.
func (s *Server) ReportTrade(trade domain.Trade) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	if conn, ok := s.orderClients[trade.BuyOrderID]; ok {
		report := Report{
			MessageType:  ExecutionReport,
			Side:         domain.Buy,
			Size:         trade.Size,
			Price:        trade.Price,
			OrderID:      trade.BuyOrderID,
			Counterparty: trade.SellOrderID,
		}
		s.write(conn, report.Serialize())
	}
	if conn, ok := s.orderClients[trade.SellOrderID]; ok {
		report := Report{
			MessageType:  ExecutionReport,
			Side:         domain.Sell,
			Size:         trade.Size,
			Price:        trade.Price,
			OrderID:      trade.SellOrderID,
			Counterparty: trade.BuyOrderID,
		}
		s.write(conn, report.Serialize())
	}
}

func (s *Server) reportError(clientAddress string, cause error) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()

	conn, ok := s.sessions[clientAddress]
	if !ok {
		return
	}
	report := Report{MessageType: ErrorReport, Err: cause.Error()}
	s.write(conn, report.Serialize())
}

func (s *Server) write(conn net.Conn, buf []byte) {
	if _, err := conn.Write(buf); err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("failed writing report")
	}
}

func (s *Server) sessionLoop(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.messages:
			if err := s.handleMessage(msg); err != nil {
				log.Error().Err(err).Str("client", msg.clientAddress).Msg("error handling message")
				s.reportError(msg.clientAddress, err)
			}
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) error {
	switch m := msg.message.(type) {
	case NewOrderFrame:
		return s.handleNewOrder(msg.clientAddress, m)
	case CancelOrderFrame:
		if !s.engine.Cancel(m.OrderID) {
			return fmt.Errorf("wire: unknown order id %q", m.OrderID)
		}
		return nil
	case LogBookFrame:
		log.Info().Msg("log-book request received")
		return nil
	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) handleNewOrder(clientAddress string, f NewOrderFrame) error {
	id := uuid.New().String()

	s.sessionsLock.Lock()
	if conn, ok := s.sessions[clientAddress]; ok {
		s.orderClients[id] = conn
	}
	s.sessionsLock.Unlock()

	switch f.Kind {
	case domain.Limit:
		s.engine.PlaceLimit(f.Symbol, id, f.Side, f.Size, f.Price)
	case domain.Market:
		s.engine.PlaceMarket(f.Symbol, id, f.Side, f.Size)
	default:
		return fmt.Errorf("wire: unknown order kind %v", f.Kind)
	}
	return nil
}

// handleConnection reads one frame off conn, dispatches it, and re-queues
// the connection for its next frame. Any error returned here is logged by
// the worker pool, and the worker goes on to its next task;
// connection-local errors are handled and logged instead of returned.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("failed setting connection deadline")
		s.closeSession(conn)
		return nil
	}

	buffer := make([]byte, maxRecvSize)
	select {
	case <-t.Dying():
		return nil
	default:
	}

	n, err := conn.Read(buffer)
	if err != nil {
		s.closeSession(conn)
		return nil
	}

	message, err := ParseMessage(buffer[:n])
	if err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error parsing frame")
		s.reportError(conn.RemoteAddr().String(), err)
		s.pool.AddTask(conn)
		return nil
	}

	s.messages <- clientMessage{clientAddress: conn.RemoteAddr().String(), message: message}
	s.pool.AddTask(conn)
	return nil
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[conn.RemoteAddr().String()] = conn
}

func (s *Server) closeSession(conn net.Conn) {
	s.sessionsLock.Lock()
	delete(s.sessions, conn.RemoteAddr().String())
	s.sessionsLock.Unlock()
	conn.Close()
}
