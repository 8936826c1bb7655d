// Package client talks to the sampling session server.
package client

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"OpenSampler/internal/sampling"
	"OpenSampler/server"
)

// ErrNotConnected is returned by calls made before Connect.
var ErrNotConnected = errors.New("client: not connected")

// SessionClient drives one server-side sampler chain over TCP. It is not
// safe for concurrent use, matching the chain it talks to.
type SessionClient struct {
	Address string
	Port    string
	// Timeout bounds every request/reply round trip. Zero disables it.
	Timeout time.Duration

	conn   net.Conn
	reader *bufio.Reader
}

func NewSessionClient(address, port string) *SessionClient {
	return &SessionClient{
		Address: address,
		Port:    port,
		Timeout: 30 * time.Second,
	}
}

func (c *SessionClient) Connect() error {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(c.Address, c.Port), 5*time.Second)
	if err != nil {
		return err
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

func (c *SessionClient) Disconnect() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}

// Sample sends logits to the session chain and returns the selected token.
// -Inf entries are sent as masked tokens.
func (c *SessionClient) Sample(logits []float32) (sampling.Token, error) {
	values := make([]*float32, len(logits))
	for i := range logits {
		if math.IsInf(float64(logits[i]), -1) {
			continue
		}
		values[i] = &logits[i]
	}
	data, err := json.Marshal(values)
	if err != nil {
		return -1, fmt.Errorf("client: encode logits: %w", err)
	}

	payload, err := c.roundTrip(server.CmdSample + " " + base64.StdEncoding.EncodeToString(data))
	if err != nil {
		return -1, err
	}
	verb, arg, _ := strings.Cut(payload, " ")
	if verb != server.ReplyToken {
		return -1, fmt.Errorf("client: unexpected reply %q", verb)
	}
	id, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		return -1, fmt.Errorf("client: invalid token %q: %w", arg, err)
	}
	return sampling.Token(id), nil
}

// Accept reports the emitted token to the session chain.
func (c *SessionClient) Accept(token sampling.Token) error {
	return c.expectAck(server.CmdAccept + " " + strconv.FormatInt(int64(token), 10))
}

// Reset clears the session chain's history.
func (c *SessionClient) Reset() error {
	return c.expectAck(server.CmdReset)
}

// Perf returns the session chain's timing summary.
func (c *SessionClient) Perf() (sampling.PerfData, error) {
	var perf sampling.PerfData
	line, err := c.roundTrip(server.CmdPerf)
	if err != nil {
		return perf, err
	}
	raw, err := decodeProtocolMessage(line)
	if err != nil {
		return perf, err
	}
	if err := json.Unmarshal([]byte(raw), &perf); err != nil {
		return perf, fmt.Errorf("client: decode perf: %w", err)
	}
	return perf, nil
}

func (c *SessionClient) expectAck(request string) error {
	line, err := c.roundTrip(request)
	if err != nil {
		return err
	}
	if line != server.ReplyAck {
		return fmt.Errorf("client: expected ACK, received %q", line)
	}
	return nil
}

// roundTrip writes one request line and reads one reply line. ERR replies
// are returned as errors.
func (c *SessionClient) roundTrip(request string) (string, error) {
	if c.conn == nil {
		return "", ErrNotConnected
	}
	if c.Timeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.Timeout)); err != nil {
			return "", err
		}
	}

	if _, err := c.conn.Write([]byte(request + "\n")); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")

	if strings.HasPrefix(line, server.ReplyErr+" ") {
		_, err := decodeProtocolMessage(line)
		return "", err
	}
	return line, nil
}

// decodeProtocolMessage decodes a "<VERB> <base64>" reply. ERR replies come
// back as errors.
func decodeProtocolMessage(raw string) (string, error) {
	prefix, payload, ok := strings.Cut(raw, " ")
	if !ok {
		return raw, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("client: invalid payload: %w", err)
	}

	switch strings.ToUpper(prefix) {
	case server.ReplyResp:
		return string(decoded), nil
	case server.ReplyErr:
		return "", fmt.Errorf("server: %s", decoded)
	default:
		return "", fmt.Errorf("client: unexpected reply %q", prefix)
	}
}
