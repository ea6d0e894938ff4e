package replay

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Origin is the scheme, host and port a request is addressed to.
type Origin struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
}

func ParseOrigin(raw string) (Origin, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Origin{}, errors.Wrapf(err, "unable to parse origin %q", raw)
	}
	if strings.TrimLeft(u.Path, "/") != "" || u.RawQuery != "" {
		return Origin{}, errors.Errorf("origin %q must not carry a path or query", raw)
	}
	return originFromURL(u)
}

func originFromURL(u *url.URL) (Origin, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Origin{}, errors.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return Origin{}, errors.Errorf("origin %q has no host", u.String())
	}

	port := defaultPort(scheme)
	if p := u.Port(); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Origin{}, errors.Errorf("invalid port %q", p)
		}
	}
	return Origin{Scheme: scheme, Host: host, Port: port}, nil
}

func defaultPort(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

func (o Origin) String() string {
	return fmt.Sprintf("%s://%s:%d", o.Scheme, o.Host, o.Port)
}

// Header is one response header. Values keep their recorded order.
type Header struct {
	Name   string   `json:"name" yaml:"name"`
	Values []string `json:"values" yaml:"values"`
}

type ResponseDefinition struct {
	Status  int
	Body    string
	Headers []Header
}

// InteractionDefinition is the raw form of an interaction as read from a
// fixture. Path is the literal path plus query string.
type InteractionDefinition struct {
	ID        string
	Origin    string
	Method    string
	Path      string
	PathRegex string
	Body      BodyMatcher
	Response  ResponseDefinition
}

func (d InteractionDefinition) clone() InteractionDefinition {
	out := d
	out.Body = d.Body.clone()
	out.Response.Headers = cloneHeaders(d.Response.Headers)
	return out
}

func cloneHeaders(headers []Header) []Header {
	if headers == nil {
		return nil
	}
	out := make([]Header, len(headers))
	for i, h := range headers {
		out[i] = Header{Name: h.Name, Values: append([]string(nil), h.Values...)}
	}
	return out
}

// Interaction is one expected request and its canned response. It is never
// modified after NewInteraction returns.
type Interaction struct {
	def         InteractionDefinition
	origin      Origin
	requestURI  string
	pathMatcher pathMatcher
}

func NewInteraction(def InteractionDefinition) (*Interaction, error) {
	def = def.clone()

	if def.Origin == "" {
		return nil, malformed("origin", "is required")
	}
	origin, err := ParseOrigin(def.Origin)
	if err != nil {
		return nil, malformed("origin", err.Error())
	}

	def.Method = strings.ToUpper(strings.TrimSpace(def.Method))
	if def.Method == "" {
		return nil, malformed("method", "is required")
	}
	if strings.ContainsAny(def.Method, " \t/") {
		return nil, malformed("method", fmt.Sprintf("%q is not a valid HTTP method", def.Method))
	}

	if def.Path == "" {
		return nil, malformed("path", "is required")
	}
	requestURI, err := normalizeRequestURI(def.Path)
	if err != nil || !strings.HasPrefix(requestURI, "/") {
		return nil, malformed("path", fmt.Sprintf("%q is not a valid request path", def.Path))
	}

	var matcher pathMatcher = &stringPathMatcher{val: requestURI}
	if def.PathRegex != "" {
		regex, err := regexp.Compile("^" + def.PathRegex + "$")
		if err != nil {
			return nil, malformed("path_regex", err.Error())
		}
		matcher = &regexPathMatcher{val: regex}
	}

	if err := def.Body.validate(); err != nil {
		return nil, malformed("body", err.Error())
	}

	if def.Response.Status == 0 {
		return nil, malformed("response.status", "is required")
	}
	if def.Response.Status < 100 || def.Response.Status > 999 {
		return nil, malformed("response.status", fmt.Sprintf("%d is not a valid HTTP status", def.Response.Status))
	}
	for _, h := range def.Response.Headers {
		if strings.TrimSpace(h.Name) == "" {
			return nil, malformed("response.headers", "contains a header without a name")
		}
	}

	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	return &Interaction{
		def:         def,
		origin:      origin,
		requestURI:  requestURI,
		pathMatcher: matcher,
	}, nil
}

func (i *Interaction) ID() string {
	return i.def.ID
}

func (i *Interaction) Origin() Origin {
	return i.origin
}

func (i *Interaction) Method() string {
	return i.def.Method
}

// Path is the recorded path plus query string.
func (i *Interaction) Path() string {
	return i.requestURI
}

func (i *Interaction) Status() int {
	return i.def.Response.Status
}

func (i *Interaction) Body() []byte {
	return []byte(i.def.Response.Body)
}

func (i *Interaction) Headers() []Header {
	return cloneHeaders(i.def.Response.Headers)
}

func (i *Interaction) BodyMatcher() BodyMatcher {
	return i.def.Body.clone()
}

func (i *Interaction) Definition() InteractionDefinition {
	return i.def.clone()
}

func (i *Interaction) String() string {
	return fmt.Sprintf("%s %s%s", i.def.Method, i.origin, i.requestURI)
}

// Matches reports whether req (with the already read body) is the call this
// interaction expects. The origin is taken from req.URL.
func (i *Interaction) Matches(req *http.Request, body []byte) bool {
	origin, err := originFromURL(req.URL)
	if err != nil {
		return false
	}
	return len(i.explain(origin, req, body)) == 0
}

// explain lists every reason req does not match; none means it matches.
func (i *Interaction) explain(origin Origin, req *http.Request, body []byte) []string {
	var reasons []string
	if origin != i.origin {
		reasons = append(reasons, fmt.Sprintf("origin %s does not match %s", origin, i.origin))
	}
	if !strings.EqualFold(req.Method, i.def.Method) {
		reasons = append(reasons, fmt.Sprintf("method %s does not match %s", req.Method, i.def.Method))
	}
	if requestURI := req.URL.RequestURI(); !i.pathMatcher.match(requestURI) {
		reasons = append(reasons, fmt.Sprintf("path %s does not match %s", requestURI, i.requestURI))
	}
	return append(reasons, i.def.Body.violations(body, req.URL)...)
}

// Response synthesizes a fresh copy of the recorded response.
func (i *Interaction) Response(req *http.Request) *http.Response {
	return i.respond(req, i.def.Response.Status, i.Body())
}

// respond builds a response around body. A recorded Content-Length is
// dropped, the header always describes body.
func (i *Interaction) respond(req *http.Request, status int, body []byte) *http.Response {
	header := make(http.Header)
	for _, h := range i.def.Response.Headers {
		if strings.EqualFold(h.Name, "Content-Length") {
			continue
		}
		for _, v := range h.Values {
			header.Add(h.Name, v)
		}
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// substitute returns a copy with every recorded identifier replaced.
func (i *Interaction) substitute(r *strings.Replacer) (*Interaction, error) {
	def := i.def.clone()
	def.Path = r.Replace(def.Path)
	def.PathRegex = r.Replace(def.PathRegex)
	def.Body.Text = r.Replace(def.Body.Text)
	for ci, c := range def.Body.Constraints {
		for vi, v := range c.Values {
			if s, ok := v.(string); ok {
				def.Body.Constraints[ci].Values[vi] = r.Replace(s)
			}
		}
	}
	def.Response.Body = r.Replace(def.Response.Body)
	for hi, h := range def.Response.Headers {
		for vi, v := range h.Values {
			def.Response.Headers[hi].Values[vi] = r.Replace(v)
		}
	}
	return NewInteraction(def)
}

// sameCall reports whether two interactions record one logical call over
// different schemes.
func (i *Interaction) sameCall(other *Interaction) bool {
	return i.origin.Scheme != other.origin.Scheme &&
		i.origin.Host == other.origin.Host &&
		i.origin.Port == other.origin.Port &&
		i.def.Method == other.def.Method &&
		i.requestURI == other.requestURI &&
		i.def.PathRegex == other.def.PathRegex &&
		i.def.Body.equal(other.def.Body)
}
