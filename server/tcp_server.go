package server

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"OpenSampler/internal/config"
	"OpenSampler/internal/runtime"
	"OpenSampler/internal/sampling"
)

// Protocol verbs. Requests and replies are newline terminated.
//
//	SAMPLE <base64 JSON logits>  ->  TOKN <id> | ERR <base64 message>
//	ACCEPT <id>                  ->  ACK | ERR <base64 message>
//	RESET                        ->  ACK
//	PERF                         ->  RESP <base64 JSON perf>
const (
	CmdSample = "SAMPLE"
	CmdAccept = "ACCEPT"
	CmdReset  = "RESET"
	CmdPerf   = "PERF"

	ReplyToken = "TOKN"
	ReplyAck   = "ACK"
	ReplyResp  = "RESP"
	ReplyErr   = "ERR"
)

// maxLineSize bounds one request line. A base64 JSON array for a 256k
// vocabulary fits comfortably.
const maxLineSize = 16 << 20

// TCPServer serves sampling sessions. Every connection owns one chain built
// from the server's sampling configuration and lives until the peer hangs
// up.
type TCPServer struct {
	Address string
	Port    string

	sampling config.SamplingConfig
	vocab    runtime.Vocab
	logger   *zap.Logger

	ln       net.Listener
	mu       sync.RWMutex
	sessions map[string]net.Conn
	wg       sync.WaitGroup
	shutdown chan struct{}
}

// NewTCPServer creates a new TCP server instance.
func NewTCPServer(address, port string, cfg config.SamplingConfig, vocab runtime.Vocab, logger *zap.Logger) *TCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TCPServer{
		Address:  address,
		Port:     port,
		sampling: cfg,
		vocab:    vocab,
		logger:   logger.Named("tcp"),
		sessions: make(map[string]net.Conn),
		shutdown: make(chan struct{}),
	}
}

// Start validates the sampling configuration, binds the listener and
// accepts connections in the background.
func (s *TCPServer) Start() error {
	probe, err := runtime.NewChain(s.sampling, s.vocab, nil)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	stages := probe.Names()
	probe.Close()

	ln, err := net.Listen("tcp", net.JoinHostPort(s.Address, s.Port))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.logger.Info("TCP server started",
		zap.String("addr", ln.Addr().String()),
		zap.Strings("stages", stages))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.shutdown:
				default:
					s.logger.Error("accept failed", zap.Error(err))
				}
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}()
		}
	}()

	return nil
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	id := uuid.NewString()
	logger := s.logger.With(zap.String("session", id), zap.String("remote", conn.RemoteAddr().String()))

	writer := bufio.NewWriter(conn)
	reply := func(line string) bool {
		if _, err := writer.WriteString(line + "\n"); err != nil {
			logger.Warn("write failed", zap.Error(err))
			return false
		}
		if err := writer.Flush(); err != nil {
			logger.Warn("write failed", zap.Error(err))
			return false
		}
		return true
	}

	chain, err := runtime.NewChain(s.sampling, s.vocab, logger)
	if err != nil {
		reply(ReplyErr + " " + encodePayload(err.Error()))
		return
	}
	defer chain.Close()

	if !s.track(id, conn) {
		return
	}
	defer s.untrack(id)

	logger.Info("session opened")
	defer logger.Info("session closed")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if !reply(s.dispatch(chain, line, logger)) {
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		logger.Warn("read failed", zap.Error(err))
	}
}

// dispatch executes one request line against the session chain and returns
// the reply line.
func (s *TCPServer) dispatch(chain *sampling.Chain, line string, logger *zap.Logger) string {
	verb, payload, _ := strings.Cut(line, " ")

	switch strings.ToUpper(verb) {
	case CmdSample:
		logits, err := decodeLogits(payload, s.vocab.Size)
		if err != nil {
			sampleErrors.WithLabelValues(errorKind(err)).Inc()
			return errorReply(err)
		}

		start := time.Now()
		token, err := chain.Sample(logits)
		sampleDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			sampleErrors.WithLabelValues(errorKind(err)).Inc()
			logger.Debug("sample failed", zap.Error(err))
			return errorReply(err)
		}
		samplesTotal.WithLabelValues("session").Inc()
		return ReplyToken + " " + strconv.FormatInt(int64(token), 10)

	case CmdAccept:
		id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 32)
		if err != nil {
			return errorReply(fmt.Errorf("invalid token id %q", truncateLog(payload, 32)))
		}
		if id < 0 || (s.vocab.Size > 0 && id >= int64(s.vocab.Size)) {
			return errorReply(fmt.Errorf("token id %d outside vocabulary", id))
		}
		chain.Accept(sampling.Token(id))
		acceptedTotal.Inc()
		return ReplyAck

	case CmdReset:
		chain.Reset()
		return ReplyAck

	case CmdPerf:
		data, err := json.Marshal(chain.Perf())
		if err != nil {
			return errorReply(err)
		}
		return ReplyResp + " " + encodePayload(string(data))

	default:
		logger.Debug("unknown command", zap.String("line", truncateLog(line, 64)))
		return errorReply(fmt.Errorf("unknown command %q", truncateLog(verb, 32)))
	}
}

func (s *TCPServer) track(id string, conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.sessions[id] = conn
	openSessions.Inc()
	return true
}

func (s *TCPServer) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		openSessions.Dec()
	}
}

// Stop closes the listener and every open session and waits for their
// handlers to return.
func (s *TCPServer) Stop() error {
	s.mu.Lock()
	select {
	case <-s.shutdown:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.shutdown)

	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for _, conn := range s.sessions {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("TCP server stopped", zap.String("addr", net.JoinHostPort(s.Address, s.Port)))
	return err
}

// Sessions returns the number of connected sessions.
func (s *TCPServer) Sessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *TCPServer) GetAddress() string {
	return s.Address
}

func (s *TCPServer) GetPort() string {
	return s.Port
}

// GetListener returns the bound listener, or nil before Start.
func (s *TCPServer) GetListener() net.Listener {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ln
}

func (s *TCPServer) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return false
	}
	select {
	case <-s.shutdown:
		return false
	default:
		return true
	}
}

func decodeLogits(payload string, vocabSize int) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	// JSON has no infinities, so null marks a masked token.
	var values []*float32
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("invalid logits: %w", err)
	}
	if vocabSize > 0 && len(values) != vocabSize {
		return nil, fmt.Errorf("got %d logits, vocabulary has %d tokens", len(values), vocabSize)
	}
	logits := make([]float32, len(values))
	for i, v := range values {
		if v == nil {
			logits[i] = float32(math.Inf(-1))
			continue
		}
		logits[i] = *v
	}
	return logits, nil
}

func errorReply(err error) string {
	return ReplyErr + " " + encodePayload(err.Error())
}

func encodePayload(payload string) string {
	return base64.StdEncoding.EncodeToString([]byte(payload))
}

// truncateLog truncates a string for logging.
func truncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
