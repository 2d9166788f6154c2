package blockparser

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/harun/actuator/pkg/action"
)

var (
	// ErrStreamClosed is returned by Feed after end of stream or a fatal error.
	ErrStreamClosed = errors.New("stream closed")
	// ErrOverlappingAction is returned when an action opens inside another one.
	ErrOverlappingAction = errors.New("overlapping action")
	// ErrCaptureTooLarge is returned when an action body exceeds MaxCaptureBytes.
	ErrCaptureTooLarge = errors.New("action capture too large")
)

const (
	DefaultEnvelopeTag     = "act"
	DefaultMaxCaptureBytes = 256 << 10
	DefaultMaxTagBytes     = 128
)

// Options control the parser.
type Options struct {
	// KnownActions may also be written as <name>...</name>.
	KnownActions []string
	// EnvelopeTag is the generic action tag, used as <act name="x">.
	EnvelopeTag     string
	MaxCaptureBytes int
	MaxTagBytes     int
	Debug           bool // if true, emit zerolog debug traces
}

func (o *Options) withDefaults() Options {
	ret := *o
	if ret.EnvelopeTag == "" {
		ret.EnvelopeTag = DefaultEnvelopeTag
	}
	if ret.MaxCaptureBytes <= 0 {
		ret.MaxCaptureBytes = DefaultMaxCaptureBytes
	}
	if ret.MaxTagBytes <= 0 {
		ret.MaxTagBytes = DefaultMaxTagBytes
	}
	return ret
}

type parserMode int

const (
	modeText parserMode = iota
	modeActionBody
	modeParamValue
)

type blockState struct {
	isAction bool
	text     strings.Builder

	name     string
	closeTag string
	params   action.Params

	// param currently being captured
	param      string
	paramClose string
	value      strings.Builder

	final        bool
	unterminated bool
	emitted      bool
}

func (b *blockState) snapshot() Block {
	if !b.isAction {
		return TextBlock{Text: b.text.String(), Partial: !b.final}
	}
	params := b.params.Clone()
	if b.param != "" {
		params.Set(b.param, b.value.String())
	}
	return ActionBlock{
		Name:         b.name,
		Params:       params,
		Partial:      !b.final,
		Unterminated: b.unterminated,
	}
}

// Parser splits a streamed response into text and action blocks.
// Only the newly fed suffix is scanned on each call. Bytes that may begin a
// tag are held back and never appear in text or parameter values until the
// ambiguity is resolved.
//
// A Parser is not safe for concurrent use.
type Parser struct {
	opts  Options
	known map[string]bool

	blocks []*blockState
	cur    *blockState
	mode   parserMode

	tagBuf strings.Builder
	lag    string

	captured int
	rescan   int

	touched map[int]bool
	closed  bool
	err     error
}

// New creates a parser.
func New(opts Options) *Parser {
	o := opts.withDefaults()
	known := make(map[string]bool, len(o.KnownActions))
	for _, name := range o.KnownActions {
		if name != "" && name != o.EnvelopeTag {
			known[name] = true
		}
	}
	return &Parser{
		opts:    o,
		known:   known,
		touched: make(map[int]bool),
	}
}

// Feed consumes the next fragment and returns one event per block that
// changed, in block order.
func (p *Parser) Feed(fragment string) ([]Event, error) {
	if p.closed {
		return nil, ErrStreamClosed
	}

	err := p.consume(fragment)
	events := p.collect()
	if err != nil {
		p.closed = true
		p.err = err
		if p.opts.Debug {
			log.Debug().Err(err).Int("blocks", len(p.blocks)).Msg("blockparser: fatal")
		}
		return events, err
	}
	return events, nil
}

// Finish signals end of stream. Held-back bytes are flushed and every open
// block is finalized; an unterminated action is emitted as-is. Calling Finish
// again returns no events.
func (p *Parser) Finish() ([]Event, error) {
	if p.closed {
		return nil, nil
	}
	p.closed = true

	switch p.mode {
	case modeText:
		if p.tagBuf.Len() > 0 {
			p.appendText(p.tagBuf.String())
			p.tagBuf.Reset()
		}
		p.finalizeText()
	case modeActionBody:
		p.tagBuf.Reset()
		p.finishAction(true)
	case modeParamValue:
		p.cur.value.WriteString(p.lag)
		p.lag = ""
		p.commitParam()
		p.finishAction(true)
	}

	if p.opts.Debug {
		log.Debug().Int("blocks", len(p.blocks)).Msg("blockparser: end of stream")
	}
	return p.collect(), nil
}

// Blocks returns a snapshot of every block seen so far.
func (p *Parser) Blocks() []Block {
	out := make([]Block, len(p.blocks))
	for i, b := range p.blocks {
		out[i] = b.snapshot()
	}
	return out
}

// Closed reports whether the parser accepts no more input.
func (p *Parser) Closed() bool {
	return p.closed
}

// Err returns the fatal error, if any.
func (p *Parser) Err() error {
	return p.err
}

func (p *Parser) consume(data string) error {
	for i := 0; i < len(data); i++ {
		c := data[i]

		switch p.mode {
		case modeText:
			if p.tagBuf.Len() == 0 {
				if c != '<' {
					next := strings.IndexByte(data[i:], '<')
					if next < 0 {
						next = len(data) - i
					}
					p.appendText(data[i : i+next])
					i += next - 1
					continue
				}
				p.tagBuf.WriteByte(c)
				continue
			}

			p.tagBuf.WriteByte(c)
			buf := p.tagBuf.String()
			name, envelope, m := p.matchActionOpen(buf)
			switch m {
			case matchPartial:
				continue
			case matchNo:
				p.tagBuf.Reset()
				p.appendText(buf[:1])
				data = buf[1:] + data[i+1:]
				i = -1
			case matchYes:
				p.tagBuf.Reset()
				p.openAction(name, envelope)
			}

		case modeActionBody:
			if err := p.count(); err != nil {
				return err
			}
			if p.tagBuf.Len() == 0 {
				// prose between parameters is dropped
				if c == '<' {
					p.tagBuf.WriteByte(c)
				}
				continue
			}

			p.tagBuf.WriteByte(c)
			buf := p.tagBuf.String()

			if buf == p.cur.closeTag {
				p.tagBuf.Reset()
				p.finishAction(false)
				continue
			}
			if name, _, m := p.matchActionOpen(buf); m == matchYes {
				return errors.Wrapf(ErrOverlappingAction, "%q opened inside %q", name, p.cur.name)
			}

			param, pm := matchParamOpen(buf)
			if pm == matchYes {
				p.tagBuf.Reset()
				p.openParam(param)
				continue
			}
			if p.couldStartBodyTag(buf) || pm == matchPartial {
				continue
			}
			p.tagBuf.Reset()
			data = buf[1:] + data[i+1:]
			p.rescan = len(buf) - 1
			i = -1

		case modeParamValue:
			if err := p.count(); err != nil {
				return err
			}
			p.lag += data[i : i+1]
			if p.lag == p.cur.paramClose {
				p.lag = ""
				p.commitParam()
				p.mode = modeActionBody
				p.touch(len(p.blocks) - 1)
				continue
			}
			if k := holdback(p.lag, p.cur.paramClose); k > 0 {
				p.cur.value.WriteString(p.lag[:k])
				p.lag = p.lag[k:]
				p.touch(len(p.blocks) - 1)
			}
		}
	}
	return nil
}

func (p *Parser) couldStartBodyTag(buf string) bool {
	if strings.HasPrefix(p.cur.closeTag, buf) {
		return true
	}
	_, _, m := p.matchActionOpen(buf)
	return m == matchPartial
}

// matchActionOpen reports whether buf opens an action, and whether it uses
// the envelope form.
func (p *Parser) matchActionOpen(buf string) (string, bool, tagMatch) {
	if len(buf) > p.opts.MaxTagBytes {
		return "", false, matchNo
	}
	name, m := matchEnvelope(buf, p.opts.EnvelopeTag)
	if m == matchYes {
		return name, true, m
	}
	dname, dm := matchDirect(buf, p.known)
	if dm == matchYes {
		return dname, false, dm
	}
	if m == matchPartial || dm == matchPartial {
		return "", false, matchPartial
	}
	return "", false, matchNo
}

// count tracks captured bytes; rescanned bytes were already counted.
func (p *Parser) count() error {
	if p.rescan > 0 {
		p.rescan--
		return nil
	}
	p.captured++
	if p.captured > p.opts.MaxCaptureBytes {
		return errors.Wrapf(ErrCaptureTooLarge, "action %q exceeded %d bytes", p.cur.name, p.opts.MaxCaptureBytes)
	}
	return nil
}

func (p *Parser) appendText(s string) {
	if s == "" {
		return
	}
	if p.cur == nil || p.cur.isAction {
		p.cur = &blockState{}
		p.blocks = append(p.blocks, p.cur)
	}
	p.cur.text.WriteString(s)
	p.touch(len(p.blocks) - 1)
}

func (p *Parser) finalizeText() {
	if p.cur == nil || p.cur.isAction {
		return
	}
	p.cur.final = true
	p.touch(len(p.blocks) - 1)
	p.cur = nil
}

func (p *Parser) openAction(name string, envelope bool) {
	p.finalizeText()

	closeTag := "</" + name + ">"
	if envelope {
		closeTag = "</" + p.opts.EnvelopeTag + ">"
	}

	p.cur = &blockState{
		isAction: true,
		name:     name,
		closeTag: closeTag,
		params:   action.NewParams(),
	}
	p.blocks = append(p.blocks, p.cur)
	p.mode = modeActionBody
	p.captured = 0
	p.rescan = 0
	p.touch(len(p.blocks) - 1)

	if p.opts.Debug {
		log.Debug().Str("action", name).Int("index", len(p.blocks)-1).Msg("blockparser: action opened")
	}
}

func (p *Parser) openParam(name string) {
	p.cur.param = name
	p.cur.paramClose = "</" + name + ">"
	p.cur.value.Reset()
	p.lag = ""
	p.mode = modeParamValue
	p.touch(len(p.blocks) - 1)
}

func (p *Parser) commitParam() {
	if p.cur.param == "" {
		return
	}
	p.cur.params.Set(p.cur.param, p.cur.value.String())
	p.cur.param = ""
	p.cur.paramClose = ""
	p.cur.value.Reset()
}

func (p *Parser) finishAction(unterminated bool) {
	p.cur.final = true
	p.cur.unterminated = unterminated
	p.touch(len(p.blocks) - 1)

	if p.opts.Debug {
		log.Debug().
			Str("action", p.cur.name).
			Int("params", p.cur.params.Len()).
			Bool("unterminated", unterminated).
			Msg("blockparser: action complete")
	}

	p.cur = nil
	p.mode = modeText
}

func (p *Parser) touch(index int) {
	p.touched[index] = true
}

func (p *Parser) collect() []Event {
	if len(p.touched) == 0 {
		return nil
	}
	indices := make([]int, 0, len(p.touched))
	for idx := range p.touched {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	events := make([]Event, 0, len(indices))
	for _, idx := range indices {
		b := p.blocks[idx]
		events = append(events, Event{
			Index: idx,
			Block: b.snapshot(),
			IsNew: !b.emitted,
		})
		b.emitted = true
	}
	clear(p.touched)
	return events
}
