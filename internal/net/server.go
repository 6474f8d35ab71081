package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	. "fenrir/internal/common"
	"fenrir/internal/config"
	"fenrir/internal/engine"
	"fenrir/internal/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultWriteTimeout = time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	id     string
	conn   net.Conn
	reader *bufio.Reader

	// Reports are written by the session handler, reads happen on the
	// worker pool.
	writeLock sync.Mutex
}

func (session *ClientSession) write(buf []byte) error {
	session.writeLock.Lock()
	defer session.writeLock.Unlock()

	if err := session.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	_, err := session.conn.Write(buf)
	return err
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	sessionID string
	message   Message
}

// Server exposes one order book over TCP. Connections are read on a worker
// pool, while every book operation runs on the single session handler
// goroutine, which is the book's only owner.
type Server struct {
	address     string
	port        int
	connTimeout time.Duration
	pool        utils.WorkerPool
	engine      *engine.Engine

	// Shutdown cancels ctx, which every Run is bound to.
	ctx    context.Context
	cancel context.CancelFunc

	ready    chan struct{}
	listener net.Listener

	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage

	// Owned by the session handler.
	owners owners
	taker  string
}

func New(cfg config.Config, eng *engine.Engine) *Server {
	s := &Server{
		address:        cfg.Address,
		port:           cfg.Port,
		connTimeout:    cfg.ConnTimeout,
		pool:           utils.NewWorkerPool(cfg.Workers),
		engine:         eng,
		ready:          make(chan struct{}),
		clientSessions: make(map[string]*ClientSession),
		clientMessages: make(chan ClientMessage, 1),
		owners:         make(owners),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	eng.SetReporter(s)
	return s
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	select {
	case <-s.ready:
		return s.listener.Addr()
	default:
		return nil
	}
}

func (s *Server) Run(ctx context.Context) error {
	// Either the caller's context or Shutdown stops the server.
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	if s.ctx.Err() != nil {
		return nil
	}
	t, ctx := tomb.WithContext(s.ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return err
	}
	s.listener = listener
	close(s.ready)

	// Unblock Accept once we are dying.
	t.Go(func() error {
		<-t.Dying()
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	// Start the worker pool.
	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	// Start accepting connections.
	t.Go(func() error {
		return s.acceptLoop(t, listener)
	})

	log.Info().Str("address", listener.Addr().String()).Msg("server running")

	<-t.Dying()
	err = t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(t *tomb.Tomb, listener net.Listener) error {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		session := s.addClientSession(conn)
		log.Info().
			Str("session", session.id).
			Str("address", conn.RemoteAddr().String()).
			Msg("new client added")

		// Pass over the connection to be read from.
		if !s.pool.AddTask(t, session) {
			return nil
		}
	}
}

// ReportTrade sends an execution report to the taker of the order being
// placed and to the session owning the maker, if it is still connected.
func (s *Server) ReportTrade(trade Trade) error {
	report := ExecutionReportMessage{Trade: trade}

	maker, ok := s.owners.fill(trade.MakerID, trade.Price, trade.Quantity)
	if ok && maker != s.taker {
		if err := s.send(maker, report); err != nil {
			log.Debug().Err(err).Str("session", maker).Msg("maker not reachable")
		}
	}
	return s.send(s.taker, report)
}

// send writes a report to the session. A session that cannot be written to
// is dropped.
func (s *Server) send(sessionID string, report Report) error {
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[sessionID]
	s.clientSessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}

	if err := session.write(report.Serialize()); err != nil {
		s.deleteClientSession(sessionID)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

// sessionHandler reads off incoming messages from clients and applies them to
// the book, one at a time. Messages are received from the pool of workers.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			s.handleMessage(message)
		}
	}
}

func (s *Server) handleMessage(message ClientMessage) {
	log.Debug().
		Str("session", message.sessionID).
		Stringer("type", message.message.GetType()).
		Msg("new message")

	// Any error here is a failed send, so there is nobody to report it to.
	var err error
	switch m := message.message.(type) {
	case NewOrderMessage:
		err = s.placeOrder(message.sessionID, m)
	case QueryLevelMessage:
		orders, _ := s.engine.Book().GetOrders(engine.NewPriceLevel(m.Price, m.Side))
		err = s.send(message.sessionID, LevelReportMessage{
			Side:   m.Side,
			Price:  m.Price,
			Orders: orders,
		})
	case BaseMessage:
		if m.TypeOf == QueryTop {
			err = s.send(message.sessionID, s.topOfBook())
		}
	default:
		s.reportError(message.sessionID, fmt.Errorf("%w: %T", ErrImproperConversion, m))
		return
	}

	if err != nil {
		log.Error().
			Err(err).
			Str("session", message.sessionID).
			Msg("unable to reply to message")
	}
}

// reportError logs err and sends it back to the session as an error report.
func (s *Server) reportError(sessionID string, err error) {
	log.Error().
		Err(err).
		Str("session", sessionID).
		Msg("error handling message")
	if sendErr := s.send(sessionID, ErrorReportMessage{Err: err.Error()}); sendErr != nil {
		log.Debug().Err(sendErr).Str("session", sessionID).Msg("unable to send error report")
	}
}

func (s *Server) placeOrder(sessionID string, m NewOrderMessage) error {
	s.taker = sessionID
	defer func() { s.taker = "" }()

	trades := s.engine.PlaceOrder(m.Side, m.Price, m.Quantity, m.ID)

	var filled uint64
	for _, trade := range trades {
		filled += trade.Quantity
	}
	resting := m.Quantity - filled
	if resting > 0 {
		s.owners.rest(m.ID, m.Price, resting, sessionID)
	}

	return s.send(sessionID, AckReportMessage{
		ID:      m.ID,
		Filled:  filled,
		Resting: resting,
	})
}

func (s *Server) topOfBook() TopOfBookReportMessage {
	book := s.engine.Book()
	var report TopOfBookReportMessage
	report.BuyPrice, report.BuyQuantity, report.HasBuy = book.BestBuy()
	report.SellPrice, report.SellQuantity, report.HasSell = book.BestSell()
	return report
}

// handleConnection is a short-lived worker method which reads the next message off the
// connection, parses and passes it forward to sessionHandler to handle it. If no message
// arrives before the read deadline the session is re-queued untouched. If the connection
// dies, the client session is cleaned up.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	session, ok := task.(*ClientSession)
	if !ok {
		return ErrImproperConversion
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	// Wait for the start of the next message without consuming it, so a
	// timeout here leaves the stream intact.
	if err := session.conn.SetReadDeadline(time.Now().Add(s.connTimeout)); err != nil {
		s.deleteClientSession(session.id)
		return nil
	}
	if _, err := session.reader.Peek(BaseMessageHeaderLen); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			s.pool.Requeue(t, session)
			return nil
		}
		log.Info().Err(err).Str("session", session.id).Msg("client disconnected")
		s.deleteClientSession(session.id)
		return nil
	}

	// A message has started, the rest of it must follow promptly.
	if err := session.conn.SetReadDeadline(time.Now().Add(s.connTimeout)); err != nil {
		s.deleteClientSession(session.id)
		return nil
	}
	message, err := ReadMessage(session.reader)
	if err != nil {
		log.Error().
			Err(err).
			Str("session", session.id).
			Msg("error parsing message")
		_ = session.write(ErrorReportMessage{Err: err.Error()}.Serialize())

		// An invalid side still consumed the whole message. Anything else
		// leaves the stream out of frame.
		if !errors.Is(err, ErrInvalidSide) {
			s.deleteClientSession(session.id)
			return nil
		}
	} else {
		// Pass over to the message handling buffer.
		select {
		case <-t.Dying():
			return nil
		case s.clientMessages <- ClientMessage{sessionID: session.id, message: message}:
		}
	}

	// Push the client connection back to handle the next message.
	s.pool.Requeue(t, session)
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) *ClientSession {
	session := &ClientSession{
		id:     uuid.New().String(),
		conn:   conn,
		reader: bufio.NewReader(conn),
	}

	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()
	s.clientSessions[session.id] = session
	return session
}

// deleteClientSession is an atomic map remove, closing the connection.
func (s *Server) deleteClientSession(id string) {
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[id]
	delete(s.clientSessions, id)
	s.clientSessionsLock.Unlock()

	if !ok {
		return
	}
	if err := session.conn.Close(); err != nil {
		log.Debug().Err(err).Str("session", id).Msg("unable to close connection")
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	ids := make([]string, 0, len(s.clientSessions))
	for id := range s.clientSessions {
		ids = append(ids, id)
	}
	s.clientSessionsLock.Unlock()

	for _, id := range ids {
		s.deleteClientSession(id)
	}
}
