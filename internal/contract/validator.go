package contract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
)

// Validator checks observed shop API exchanges against an OpenAPI document
// and records which operations passed, so a run can report contract coverage
// afterwards. The coverage set is mutex-guarded; a single instance may be
// shared by parallel scenario workers.
type Validator struct {
	doc    *openapi3.T
	router routers.Router

	mu      sync.Mutex
	covered map[string]map[string]bool // method -> templated path
}

// LoadFromFile reads an OpenAPI document from disk.
func LoadFromFile(path string) (*Validator, error) {
	loader := &openapi3.Loader{IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contract %s: %w", path, err)
	}
	return newValidator(doc)
}

// LoadFromBytes builds a validator from an in-memory OpenAPI document.
func LoadFromBytes(b []byte) (*Validator, error) {
	loader := &openapi3.Loader{IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData(b)
	if err != nil {
		return nil, fmt.Errorf("parse contract: %w", err)
	}
	return newValidator(doc)
}

// A contract that fails the OpenAPI meta-schema is rejected up front instead
// of surfacing as confusing per-request errors mid-run.
func newValidator(doc *openapi3.T) (*Validator, error) {
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid contract: %w", err)
	}
	r, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("contract router: %w", err)
	}
	return &Validator{
		doc:     doc,
		router:  r,
		covered: map[string]map[string]bool{},
	}, nil
}

func (v *Validator) Doc() *openapi3.T { return v.doc }

// ValidateResponse checks one exchange against the contract: the request must
// route to a declared operation and the response must match that operation's
// declared status and schemas. A passing exchange marks its operation covered.
func (v *Validator) ValidateResponse(
	ctx context.Context,
	method string,
	rawURL string,
	status int,
	header map[string][]string,
	body []byte,
) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	hdr := http.Header(header)
	req := &http.Request{Method: method, URL: u, Header: hdr}

	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return fmt.Errorf("no operation for %s %s: %w", method, u.Path, err)
	}

	in := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
			Options:    &openapi3filter.Options{},
		},
		Status:  status,
		Header:  hdr,
		Body:    io.NopCloser(bytes.NewReader(body)),
		Options: &openapi3filter.Options{},
	}
	if err := openapi3filter.ValidateResponse(ctx, in); err != nil {
		return err
	}

	v.mu.Lock()
	if v.covered[route.Method] == nil {
		v.covered[route.Method] = map[string]bool{}
	}
	v.covered[route.Method][route.Path] = true
	v.mu.Unlock()
	return nil
}

// Covered returns a copy of the operations validated so far, keyed
// method -> templated path. Mutating the result does not affect the validator.
func (v *Validator) Covered() map[string]map[string]bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[string]map[string]bool, len(v.covered))
	for m, paths := range v.covered {
		cp := make(map[string]bool, len(paths))
		for p := range paths {
			cp[p] = true
		}
		out[m] = cp
	}
	return out
}
