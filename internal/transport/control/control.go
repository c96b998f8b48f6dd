// Package control implements the C10 control plane: a bidirectional
// message stream that negotiates a transfer before any payload bytes
// move. Messages are plain Go structs encoded with encoding/gob directly
// onto net.Conn — gob's own stream format already self-delimits each
// Encode/Decode call, so no extra length-prefix framing is layered on
// top (see DESIGN.md).
package control

import (
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"net"

	"github.com/roethlar/blit/pkg/errors"
	"github.com/roethlar/blit/pkg/types"
)

// Direction says which side of the session enumerates and sends the
// manifest. Push (the zero value) is the ordinary direction: the dialer
// streams FileHeaders and eventually the payload. Pull reverses it —
// the dialer is asking the accepting daemon to enumerate its own module
// and send the manifest back, classify what the dialer already has
// (via a NeedList traveling the other way), and become the payload
// sender once negotiated. execute_remote_pull and the pull half of
// execute_remote_remote use Pull so the source daemon, not the local
// caller, drives enumeration.
type Direction int

const (
	DirectionPush Direction = iota
	DirectionPull
)

// Header opens a control-plane session: the module being transferred,
// the transfer mode, the destination-relative path the manifest is
// written under (or read from, for Pull), which side enumerates, and
// whether the client wants the gRPC fallback path forced regardless of
// TCP reachability (diagnostic use).
type Header struct {
	Module              string
	Mode                types.Mode
	DestPath            string
	Direction           Direction
	SkipUnchanged       bool
	Checksum            bool
	Delete              bool
	CaseInsensitiveDest bool
	ForceGRPC           bool
}

// NeedListBatch is one incremental slice of the server's classification
// of the client's streamed manifest: the entries the server has
// determined it needs copied, and whether this is the final batch.
type NeedListBatch struct {
	Entries []types.FileRecord
	Final   bool
}

// messageKind discriminates the Envelope variants sent over the wire.
// Using one wrapper type keeps a single gob.Encoder/Decoder pair bound to
// the connection for its whole lifetime, which is what lets gob amortize
// its one-time type descriptor exchange across every message.
type messageKind int

const (
	kindHeader messageKind = iota
	kindFileHeader
	kindManifestComplete
	kindAck
	kindNeedList
	kindNegotiation
	kindSummary
)

// envelope is the sole type ever passed to gob.Encoder.Encode/Decoder.Decode
// on a control connection. Exactly one payload field is populated,
// selected by kind.
type envelope struct {
	Kind        messageKind
	Header      Header
	FileHeader  types.FileRecord
	NeedList    NeedListBatch
	Negotiation types.NegotiatedSession
	Summary     types.Summary
}

// Conn wraps a net.Conn with a bound gob encoder/decoder pair. Both Client
// and Server embed it; callers don't construct it directly.
type conn struct {
	nc  net.Conn
	enc *gob.Encoder
	dec *gob.Decoder
}

func newConn(nc net.Conn) *conn {
	return &conn{nc: nc, enc: gob.NewEncoder(nc), dec: gob.NewDecoder(nc)}
}

func (c *conn) send(env envelope) error {
	if err := c.enc.Encode(env); err != nil {
		return wrap(errors.ErrCodeNetworkError, "send", err)
	}
	return nil
}

func (c *conn) recv() (envelope, error) {
	var env envelope
	if err := c.dec.Decode(&env); err != nil {
		if err == io.EOF {
			return envelope{}, err
		}
		return envelope{}, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv", err)
	}
	return env, nil
}

func (c *conn) Close() error {
	return c.nc.Close()
}

func wrap(code errors.ErrorCode, op string, err error) error {
	return errors.NewError(code, "control plane "+op+" failed").
		WithComponent("transport/control").WithOperation(op).WithCause(err)
}

// Client is the client side of a control-plane session: it sends the
// header and streamed manifest, and receives NeedList batches, the
// negotiated data-plane session, and the final summary.
type Client struct {
	*conn
}

// NewClient wraps an established net.Conn as a control-plane client.
func NewClient(nc net.Conn) *Client {
	return &Client{conn: newConn(nc)}
}

// SendHeader opens the session.
func (c *Client) SendHeader(ctx context.Context, h Header) error {
	return c.send(envelope{Kind: kindHeader, Header: h})
}

// SendFileHeader streams one manifest entry. The client may call this any
// number of times without ever materializing the full manifest in memory.
func (c *Client) SendFileHeader(ctx context.Context, rec types.FileRecord) error {
	return c.send(envelope{Kind: kindFileHeader, FileHeader: rec})
}

// SendManifestComplete marks the end of the streamed manifest.
func (c *Client) SendManifestComplete(ctx context.Context) error {
	return c.send(envelope{Kind: kindManifestComplete})
}

// RecvAck waits for the server's acknowledgement of the header.
func (c *Client) RecvAck(ctx context.Context) error {
	env, err := c.recv()
	if err != nil {
		return err
	}
	if env.Kind != kindAck {
		return wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_ack", fmt.Errorf("unexpected message kind %d, want ack", env.Kind))
	}
	return nil
}

// RecvNeedListBatch reads the next incremental NeedList batch. Callers
// loop on this until a batch reports Final, then call RecvNegotiation.
func (c *Client) RecvNeedListBatch(ctx context.Context) (NeedListBatch, error) {
	env, err := c.recv()
	if err != nil {
		return NeedListBatch{}, err
	}
	if env.Kind != kindNeedList {
		return NeedListBatch{}, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_need_list", fmt.Errorf("unexpected message kind %d, want need_list", env.Kind))
	}
	return env.NeedList, nil
}

// RecvNegotiation reads the data-plane session the server has negotiated.
func (c *Client) RecvNegotiation(ctx context.Context) (types.NegotiatedSession, error) {
	env, err := c.recv()
	if err != nil {
		return types.NegotiatedSession{}, err
	}
	if env.Kind != kindNegotiation {
		return types.NegotiatedSession{}, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_negotiation", fmt.Errorf("unexpected message kind %d, want negotiation", env.Kind))
	}
	return env.Negotiation, nil
}

// RecvSummary reads the final transfer summary after the data plane has
// finished moving bytes.
func (c *Client) RecvSummary(ctx context.Context) (types.Summary, error) {
	env, err := c.recv()
	if err != nil {
		return types.Summary{}, err
	}
	if env.Kind != kindSummary {
		return types.Summary{}, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_summary", fmt.Errorf("unexpected message kind %d, want summary", env.Kind))
	}
	return env.Summary, nil
}

// RecvFileHeader reads the next manifest entry streamed by the
// accepting daemon during a Pull session, mirroring Server.RecvFileHeader
// for the reversed enumeration direction.
func (c *Client) RecvFileHeader(ctx context.Context) (rec types.FileRecord, done bool, err error) {
	env, err := c.recv()
	if err != nil {
		return types.FileRecord{}, false, err
	}
	if env.Kind == kindManifestComplete {
		return types.FileRecord{}, true, nil
	}
	if env.Kind != kindFileHeader {
		return types.FileRecord{}, false, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_file_header", fmt.Errorf("unexpected message kind %d, want file_header", env.Kind))
	}
	return env.FileHeader, false, nil
}

// SendNeedListBatch pushes one incremental NeedList batch back to the
// accepting daemon during a Pull session, mirroring
// Server.SendNeedListBatch for the reversed enumeration direction.
func (c *Client) SendNeedListBatch(ctx context.Context, batch NeedListBatch) error {
	return c.send(envelope{Kind: kindNeedList, NeedList: batch})
}

// Server is the server side of a control-plane session.
type Server struct {
	*conn
}

// NewServer wraps an accepted net.Conn as a control-plane server.
func NewServer(nc net.Conn) *Server {
	return &Server{conn: newConn(nc)}
}

// RecvHeader reads the client's opening header.
func (s *Server) RecvHeader(ctx context.Context) (Header, error) {
	env, err := s.recv()
	if err != nil {
		return Header{}, err
	}
	if env.Kind != kindHeader {
		return Header{}, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_header", fmt.Errorf("unexpected message kind %d, want header", env.Kind))
	}
	return env.Header, nil
}

// SendAck acknowledges the header.
func (s *Server) SendAck(ctx context.Context) error {
	return s.send(envelope{Kind: kindAck})
}

// RecvFileHeader reads the next streamed manifest entry. Once the client
// sends its manifest-complete marker it reports completion through the
// done return, with a nil error.
func (s *Server) RecvFileHeader(ctx context.Context) (rec types.FileRecord, done bool, err error) {
	env, err := s.recv()
	if err != nil {
		return types.FileRecord{}, false, err
	}
	if env.Kind == kindManifestComplete {
		return types.FileRecord{}, true, nil
	}
	if env.Kind != kindFileHeader {
		return types.FileRecord{}, false, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_file_header", fmt.Errorf("unexpected message kind %d, want file_header", env.Kind))
	}
	return env.FileHeader, false, nil
}

// SendNeedListBatch pushes one incremental NeedList batch. The server
// should call this as soon as it has classified enough entries to fill a
// batch, rather than waiting for the whole manifest, so first-byte
// latency on the need-list stays low regardless of manifest size.
func (s *Server) SendNeedListBatch(ctx context.Context, batch NeedListBatch) error {
	return s.send(envelope{Kind: kindNeedList, NeedList: batch})
}

// SendFileHeader streams one manifest entry from the accepting daemon's
// own enumeration during a Pull session, mirroring Client.SendFileHeader
// for the reversed enumeration direction.
func (s *Server) SendFileHeader(ctx context.Context, rec types.FileRecord) error {
	return s.send(envelope{Kind: kindFileHeader, FileHeader: rec})
}

// SendManifestComplete marks the end of the accepting daemon's own
// manifest during a Pull session.
func (s *Server) SendManifestComplete(ctx context.Context) error {
	return s.send(envelope{Kind: kindManifestComplete})
}

// RecvNeedListBatch reads the next incremental NeedList batch the dialer
// computed against its own journal during a Pull session, mirroring
// Client.RecvNeedListBatch for the reversed enumeration direction.
func (s *Server) RecvNeedListBatch(ctx context.Context) (NeedListBatch, error) {
	env, err := s.recv()
	if err != nil {
		return NeedListBatch{}, err
	}
	if env.Kind != kindNeedList {
		return NeedListBatch{}, wrap(errors.ErrCodeProtocolUnexpectedMessage, "recv_need_list", fmt.Errorf("unexpected message kind %d, want need_list", env.Kind))
	}
	return env.NeedList, nil
}

// SendNegotiation advertises the negotiated data-plane session.
func (s *Server) SendNegotiation(ctx context.Context, session types.NegotiatedSession) error {
	return s.send(envelope{Kind: kindNegotiation, Negotiation: session})
}

// SendSummary sends the final transfer summary, closing out the session.
func (s *Server) SendSummary(ctx context.Context, summary types.Summary) error {
	return s.send(envelope{Kind: kindSummary, Summary: summary})
}
