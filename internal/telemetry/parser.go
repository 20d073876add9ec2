package telemetry

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"
)

// ErrMalformedDocument reports a structural failure: the stream could not be
// read to completion or is not a well-formed NotificationDetails document.
var ErrMalformedDocument = errors.New("malformed telemetry document")

var errMissingOutcomeName = errors.New("outcome has no name")

// Parser turns telemetry XML into Details. It holds no per-parse state and is
// safe for concurrent use.
type Parser struct {
	binding *binding
	logger  *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		binding: notificationDetailsBinding,
		logger:  logger,
	}
}

// WithLogger returns a parser sharing p's binding that reports diagnostics to
// logger.
func (p *Parser) WithLogger(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{binding: p.binding, logger: logger}
}

var defaultParser = NewParser(nil)

// Parse reads a whole telemetry document from r using a parser that does not
// log field diagnostics.
func Parse(r io.Reader) (*Details, error) {
	return defaultParser.Parse(r)
}

// Parse reads the whole document from r. Field conversion failures are logged,
// recorded in Details.Diagnostics and leave the field absent.
func (p *Parser) Parse(r io.Reader) (*Details, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrMalformedDocument)
	}

	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	root, err := documentRoot(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}

	st := &parseState{
		binding: p.binding,
		logger:  p.logger,
		details: &Details{},
	}
	st.walk(root)

	return st.details, nil
}

// parseState is owned by a single Parse call.
type parseState struct {
	binding *binding
	logger  *zap.Logger
	details *Details
}

func (st *parseState) walk(el *etree.Element) {
	for _, child := range el.ChildElements() {
		if p, ok := st.binding.containers[child.Tag]; ok {
			st.collectOutcomes(p, child)
			continue
		}
		if set, ok := st.binding.leaves[child.Tag]; ok {
			set(st, elementText(child))
			continue
		}
		st.walk(child)
	}
}

func (st *parseState) date(field string, text string) *time.Time {
	c := coerceDate(&text)
	if c.err != nil {
		st.warn(Diagnostic{Field: field, Value: text, Err: c.err})
	}
	return c.value
}

func (st *parseState) warn(d Diagnostic) {
	st.details.diagnostics = append(st.details.diagnostics, d)
	st.logger.Warn("telemetry field conversion failed",
		zap.String("field", d.Field),
		zap.String("provider", d.Provider.String()),
		zap.String("outcome", d.Outcome),
		zap.String("value", d.Value),
		zap.Error(d.Err),
	)
}

// documentRoot returns the single NotificationDetails element. Comments,
// processing instructions and directives may surround it; other elements and
// non-blank text may not.
func documentRoot(doc *etree.Document) (*etree.Element, error) {
	var root *etree.Element
	for _, tok := range doc.Child {
		switch t := tok.(type) {
		case *etree.Element:
			if root != nil {
				return nil, fmt.Errorf("element %q follows the root element", t.Tag)
			}
			root = t
		case *etree.CharData:
			if strings.TrimSpace(t.Data) != "" {
				return nil, errors.New("text outside the root element")
			}
		}
	}

	if root == nil {
		return nil, errors.New("document has no root element")
	}
	if root.Tag != rootElement {
		return nil, fmt.Errorf("unexpected root element %q", root.Tag)
	}
	return root, nil
}

// elementText joins the element's own character data, skipping text inside
// nested elements, and trims the result.
func elementText(el *etree.Element) string {
	var b strings.Builder
	for _, tok := range el.Child {
		if cd, ok := tok.(*etree.CharData); ok {
			b.WriteString(cd.Data)
		}
	}
	return strings.TrimSpace(b.String())
}
