// Package parser turns the game server's raw console output into classified
// lines. Input arrives in arbitrary chunks; a logical line may span chunks
// and a chunk may hold several lines.
package parser

import (
	"strings"
)

// Class is the kind of a console line.
type Class int

const (
	Unclassified Class = iota
	PlayerConnected
	PlayerDisconnected
	ServerReady
)

func (c Class) String() string {
	switch c {
	case PlayerConnected:
		return "player_connected"
	case PlayerDisconnected:
		return "player_disconnected"
	case ServerReady:
		return "server_ready"
	default:
		return "unclassified"
	}
}

// Line is one complete console line and its classification. Player is set for
// connect/disconnect lines when a name could be extracted.
type Line struct {
	Text   string
	Class  Class
	Player string
}

// Classifier decides the class of a complete line.
type Classifier interface {
	Classify(line string) (Class, string)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(line string) (Class, string)

func (f ClassifierFunc) Classify(line string) (Class, string) { return f(line) }

// Default markers printed by the Bedrock dedicated server.
const (
	DefaultConnectedMarker    = "Player connected:"
	DefaultDisconnectedMarker = "Player disconnected:"
	DefaultReadyMarker        = "Server started."
)

// SubstringClassifier matches lines by substring. An empty marker never matches.
type SubstringClassifier struct {
	ConnectedMarker    string
	DisconnectedMarker string
	ReadyMarker        string
}

// DefaultClassifier returns the Bedrock markers.
func DefaultClassifier() SubstringClassifier {
	return SubstringClassifier{
		ConnectedMarker:    DefaultConnectedMarker,
		DisconnectedMarker: DefaultDisconnectedMarker,
		ReadyMarker:        DefaultReadyMarker,
	}
}

// Classify implements Classifier. Disconnect is tested first so a marker that
// is a prefix of the other cannot shadow it.
func (c SubstringClassifier) Classify(line string) (Class, string) {
	if c.DisconnectedMarker != "" {
		if i := strings.Index(line, c.DisconnectedMarker); i >= 0 {
			return PlayerDisconnected, playerName(line[i+len(c.DisconnectedMarker):])
		}
	}
	if c.ConnectedMarker != "" {
		if i := strings.Index(line, c.ConnectedMarker); i >= 0 {
			return PlayerConnected, playerName(line[i+len(c.ConnectedMarker):])
		}
	}
	if c.ReadyMarker != "" && strings.Contains(line, c.ReadyMarker) {
		return ServerReady, ""
	}
	return Unclassified, ""
}

// playerName extracts "Steve" from " Steve, xuid: 2535...".
func playerName(rest string) string {
	rest = strings.TrimSpace(rest)
	if i := strings.IndexByte(rest, ','); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

// Parser buffers partial lines between chunks. It is not safe for concurrent
// use; the supervisor feeds it from its single state-machine goroutine.
type Parser struct {
	classifier Classifier
	partial    strings.Builder
}

// New returns a Parser using c, or the default classifier when c is nil.
func New(c Classifier) *Parser {
	if c == nil {
		c = DefaultClassifier()
	}
	return &Parser{classifier: c}
}

// Feed consumes one chunk and returns the complete lines it terminated, in
// order. Text after the last newline stays buffered until the next chunk or
// Flush. Blank lines are dropped.
func (p *Parser) Feed(chunk string) []Line {
	if chunk == "" {
		return nil
	}
	var out []Line
	for {
		i := strings.IndexByte(chunk, '\n')
		if i < 0 {
			p.partial.WriteString(chunk)
			return out
		}
		p.partial.WriteString(chunk[:i])
		chunk = chunk[i+1:]
		if l, ok := p.emit(); ok {
			out = append(out, l)
		}
	}
}

// Flush emits any buffered partial line, as at stream close.
func (p *Parser) Flush() []Line {
	if l, ok := p.emit(); ok {
		return []Line{l}
	}
	return nil
}

// Reset drops buffered input.
func (p *Parser) Reset() { p.partial.Reset() }

func (p *Parser) emit() (Line, bool) {
	text := strings.TrimRight(p.partial.String(), "\r")
	p.partial.Reset()
	if strings.TrimSpace(text) == "" {
		return Line{}, false
	}
	class, player := p.classifier.Classify(text)
	return Line{Text: text, Class: class, Player: player}, true
}
