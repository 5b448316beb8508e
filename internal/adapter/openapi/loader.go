package openapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"toolbridge/internal/domain"
)

// Load reads an OpenAPI document from a file path or an http(s) URL and
// resolves its local references. With strict set, the document must also
// pass structural validation.
func Load(ctx context.Context, source string, strict bool) (*openapi3.T, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, domain.NewDomainError("openapi.Load", domain.ErrCompile, "empty source")
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx

	var (
		doc *openapi3.T
		err error
	)
	if u, perr := url.Parse(source); perr == nil && (u.Scheme == "http" || u.Scheme == "https") {
		loader.IsExternalRefsAllowed = true
		doc, err = loader.LoadFromURI(u)
	} else {
		doc, err = loader.LoadFromFile(source)
	}
	if err != nil {
		return nil, domain.NewDomainError("openapi.Load", fmt.Errorf("%w: %w", domain.ErrCompile, err), source)
	}

	if strict {
		if err := doc.Validate(ctx); err != nil {
			return nil, domain.NewDomainError("openapi.Load", fmt.Errorf("%w: %w", domain.ErrCompile, err), "validate "+source)
		}
	}
	return doc, nil
}

// LoadData parses an in-memory document, YAML or JSON.
func LoadData(ctx context.Context, data []byte) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, domain.NewDomainError("openapi.LoadData", fmt.Errorf("%w: %w", domain.ErrCompile, err), "")
	}
	return doc, nil
}
