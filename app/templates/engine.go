// Package templates renders transactional emails from a declarative catalog.
package templates

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"os"
	"sort"
	texttemplate "text/template"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrUnknownType     = errors.New("unknown email type")
	ErrMissingVariable = errors.New("missing template variable")
	ErrRender          = errors.New("template render failed")
	ErrInvalidCatalog  = errors.New("invalid template catalog")
)

// Error is returned for every rendering failure. Template errors are never
// retryable: the same inputs fail the same way.
type Error struct {
	EmailType string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("template %q: %v", e.EmailType, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Rendered holds the three parts of a rendered email.
type Rendered struct {
	HTML    string
	Text    string
	Subject string
}

type entry struct {
	Subject  string         `yaml:"subject"`
	Text     string         `yaml:"text"`
	HTML     string         `yaml:"html"`
	Required []string       `yaml:"required"`
	Defaults map[string]any `yaml:"defaults"`
}

type compiled struct {
	subject  *texttemplate.Template
	text     *texttemplate.Template
	html     *htmltemplate.Template
	required []string
	defaults map[string]any
}

// Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	types map[string]*compiled
}

// NewEngine builds an engine from the embedded catalog.
func NewEngine() (*Engine, error) {
	return Parse(defaultCatalog)
}

// NewEngineFromFile builds an engine from a YAML catalog on disk.
func NewEngineFromFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template catalog: %w", err)
	}
	return Parse(data)
}

// Parse compiles a YAML catalog keyed by email type.
func Parse(data []byte) (*Engine, error) {
	var entries map[string]entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no email types defined", ErrInvalidCatalog)
	}

	e := &Engine{types: make(map[string]*compiled, len(entries))}
	for name, ent := range entries {
		c, err := compile(name, ent)
		if err != nil {
			return nil, err
		}
		e.types[name] = c
	}
	return e, nil
}

func compile(name string, ent entry) (*compiled, error) {
	if ent.Subject == "" || (ent.Text == "" && ent.HTML == "") {
		return nil, fmt.Errorf("%w: %s needs a subject and a body", ErrInvalidCatalog, name)
	}

	subject, err := texttemplate.New(name + ".subject").Option("missingkey=error").Parse(ent.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %s subject: %v", ErrInvalidCatalog, name, err)
	}
	c := &compiled{subject: subject, required: ent.Required, defaults: ent.Defaults}

	if ent.Text != "" {
		if c.text, err = texttemplate.New(name + ".text").Option("missingkey=error").Parse(ent.Text); err != nil {
			return nil, fmt.Errorf("%w: %s text: %v", ErrInvalidCatalog, name, err)
		}
	}
	if ent.HTML != "" {
		if c.html, err = htmltemplate.New(name + ".html").Option("missingkey=error").Parse(ent.HTML); err != nil {
			return nil, fmt.Errorf("%w: %s html: %v", ErrInvalidCatalog, name, err)
		}
	}
	return c, nil
}

// Supports reports whether the catalog defines emailType.
func (e *Engine) Supports(emailType string) bool {
	_, ok := e.types[emailType]
	return ok
}

// Types lists the configured email types in sorted order.
func (e *Engine) Types() []string {
	names := make([]string, 0, len(e.types))
	for name := range e.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderByType renders the subject, text and HTML bodies for emailType.
func (e *Engine) RenderByType(emailType string, vars map[string]any) (Rendered, error) {
	c, ok := e.types[emailType]
	if !ok {
		return Rendered{}, &Error{EmailType: emailType, Err: ErrUnknownType}
	}

	data := make(map[string]any, len(c.defaults)+len(vars))
	for k, v := range c.defaults {
		data[k] = v
	}
	for k, v := range vars {
		data[k] = v
	}

	for _, name := range c.required {
		if isBlank(data[name]) {
			return Rendered{}, &Error{EmailType: emailType, Err: fmt.Errorf("%w: %s", ErrMissingVariable, name)}
		}
	}

	var subject, text, html bytes.Buffer
	if err := c.subject.Execute(&subject, data); err != nil {
		return Rendered{}, &Error{EmailType: emailType, Err: fmt.Errorf("%w: %v", ErrRender, err)}
	}
	if c.text != nil {
		if err := c.text.Execute(&text, data); err != nil {
			return Rendered{}, &Error{EmailType: emailType, Err: fmt.Errorf("%w: %v", ErrRender, err)}
		}
	}
	if c.html != nil {
		if err := c.html.Execute(&html, data); err != nil {
			return Rendered{}, &Error{EmailType: emailType, Err: fmt.Errorf("%w: %v", ErrRender, err)}
		}
	}

	return Rendered{HTML: html.String(), Text: text.String(), Subject: subject.String()}, nil
}

// IsTemplateError reports whether err came from the template engine.
func IsTemplateError(err error) bool {
	var tErr *Error
	return errors.As(err, &tErr)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
