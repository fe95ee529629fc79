// Package mysqlcodec is the example C6 ProtocolModule the core's demo
// binary and tests exercise end-to-end against (SPEC_FULL.md §3 DOMAIN
// STACK). It recognizes MySQL's client packet framing well enough to
// extract COM_QUERY statements, and uses go-sql-driver/mysql's DSN
// parser — not its wire codec, which the driver does not export — to
// turn a target's connection string into the descriptor routing needs.
package mysqlcodec

import (
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/lordbasex/routingcore/internal/proto"
	"github.com/lordbasex/routingcore/internal/protoimpl/classify"
)

// MySQL command bytes this codec recognizes (protocol::COM_QUERY et al).
const (
	comQuery = 0x03
	comQuit  = 0x01
	comPing  = 0x0e
)

const headerLen = 4 // 3-byte length (LE) + 1-byte sequence id

// Target describes one backend server a Plan may route to, parsed from
// a MySQL-style DSN (e.g. "user:pass@tcp(host:3306)/db").
type Target struct {
	Name string
	DSN  string
	Cfg  *mysql.Config
}

// ParseTarget validates dsn with the real driver's DSN parser so
// malformed target configuration is caught at startup rather than on
// first connect (teacher dependency wired per SPEC_FULL.md §3).
func ParseTarget(name, dsn string) (Target, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return Target{}, fmt.Errorf("mysqlcodec: parse target %q dsn: %w", name, err)
	}
	return Target{Name: name, DSN: dsn, Cfg: cfg}, nil
}

// Codec implements proto.ProtocolModule for one client session.
type Codec struct {
	remoteAddr string
}

// Factory is a proto.ProtocolFactory constructing a Codec per accepted
// client connection (spec §6: "a constructor given a freshly accepted
// client fd").
func Factory(remoteAddr string) (proto.ProtocolModule, error) {
	return &Codec{remoteAddr: remoteAddr}, nil
}

// HandleClientBytes extracts complete MySQL client packets from buf and
// classifies COM_QUERY payloads into statements (spec §4.5 step 1, §4.6
// classify). Non-query commands (COM_PING, COM_QUIT) are consumed but
// yield no statement — the session simply acks or drains on hangup.
func (c *Codec) HandleClientBytes(buf []byte) (int, []proto.Classification, error) {
	var consumed int
	var out []proto.Classification

	for {
		remaining := buf[consumed:]
		if len(remaining) < headerLen {
			break
		}
		length := int(remaining[0]) | int(remaining[1])<<8 | int(remaining[2])<<16
		total := headerLen + length
		if len(remaining) < total {
			break // wait for the rest of this packet
		}
		payload := remaining[headerLen:total]
		consumed += total

		if len(payload) == 0 {
			continue
		}
		switch payload[0] {
		case comQuery:
			stmt := append([]byte(nil), payload[1:]...)
			out = append(out, classify.Classify(stmt))
		case comQuit, comPing:
			// no statement to route; session-level handling only.
		default:
			return 0, nil, fmt.Errorf("mysqlcodec: unsupported command byte 0x%02x", payload[0])
		}
	}
	return consumed, out, nil
}

// HandleBackendBytes treats one complete length-prefixed backend packet
// as one reply; packet framing itself is opaque to the core (spec §6:
// "packet framing opacity"), so this codec only decides IsTerminal by
// whether the packet carries an EOF/OK/ERR marker byte in the position
// MySQL's simple text-result protocol uses for single-row-set replies.
func (c *Codec) HandleBackendBytes(target string, buf []byte) (int, []proto.ReplyAction, error) {
	var consumed int
	var actions []proto.ReplyAction

	for {
		remaining := buf[consumed:]
		if len(remaining) < headerLen {
			break
		}
		length := int(remaining[0]) | int(remaining[1])<<8 | int(remaining[2])<<16
		total := headerLen + length
		if len(remaining) < total {
			break
		}
		packet := remaining[:total]
		consumed += total

		payload := packet[headerLen:]
		terminal := len(payload) > 0 && (payload[0] == 0x00 || payload[0] == 0xff || payload[0] == 0xfe)
		actions = append(actions, proto.ReplyAction{
			AppendToClient: append([]byte(nil), packet...),
			IsTerminal:     terminal,
			NextExpected:   proto.ReplySingle,
		})
	}
	return consumed, actions, nil
}

// SerializeForBackend rewraps stmt as a fresh COM_QUERY packet with
// sequence id 0, the framing a new backend connection or a freshly
// reset pooled one expects to start a command (spec §4.6
// serialize_for_backend).
func (c *Codec) SerializeForBackend(target string, stmt []byte) ([]byte, error) {
	payload := make([]byte, 1+len(stmt))
	payload[0] = comQuery
	copy(payload[1:], stmt)

	out := make([]byte, headerLen+len(payload))
	out[0] = byte(len(payload))
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload) >> 16)
	out[3] = 0 // sequence id
	copy(out[headerLen:], payload)
	return out, nil
}

// IsSafeToReuse reports whether a connection last used by this codec may
// be returned to the pool. The demo codec tracks no long-lived session
// state of its own (transaction/streaming tracking lives on
// internal/session's backendSlot), so it always defers to that caller.
func (c *Codec) IsSafeToReuse(sessionState interface{}) bool { return true }

// ResetForPooling returns the bytes to send a backend before parking it
// in the pool: a MySQL COM_RESET_CONNECTION-equivalent "ROLLBACK" text
// query, conservative but universally safe across session variable
// state (teacher grounding: server/transactions.go rolls back on release).
func (c *Codec) ResetForPooling(target string) ([]byte, error) {
	return c.SerializeForBackend(target, []byte("ROLLBACK"))
}
