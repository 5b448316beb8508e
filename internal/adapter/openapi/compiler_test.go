package openapi

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolbridge/internal/domain"
	"toolbridge/internal/infra/logger"
)

func compileStore(t *testing.T) map[string]domain.ToolDefinition {
	t.Helper()
	defs, err := NewCompiler(logger.Discard()).Compile(context.Background(), loadStoreSpec(t))
	require.NoError(t, err)
	out := make(map[string]domain.ToolDefinition, len(defs))
	for _, d := range defs {
		out[d.Name] = d
	}
	return out
}

func TestCompileOrderAndNames(t *testing.T) {
	defs, err := NewCompiler(logger.Discard()).Compile(context.Background(), loadStoreSpec(t))
	require.NoError(t, err)

	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	// /orders sorts before /products/{id}; OPTIONS is never compiled.
	assert.Equal(t, []string{
		"getproduct",
		"create_order",
		"getproduct_2",
		"updateproduct",
		"patch_products_id",
	}, names)
}

func TestCompilePathParamsAreRequiredStrings(t *testing.T) {
	tool := compileStore(t)["getproduct_2"]

	id := tool.InputSchema.Properties["id"]
	require.NotNil(t, id)
	assert.Equal(t, domain.TypeString, id.Type)
	assert.Equal(t, "Product id", id.Description)
	assert.True(t, tool.InputSchema.IsRequired("id"))
	assert.Equal(t, []string{"id"}, tool.Binding.PathParams)
}

func TestCompileQueryAndHeaderParams(t *testing.T) {
	tool := compileStore(t)["getproduct_2"]

	expand := tool.InputSchema.Properties["expand"]
	require.NotNil(t, expand)
	assert.Equal(t, []any{"reviews", "stock"}, expand.Enum)
	assert.False(t, tool.InputSchema.IsRequired("expand"))
	assert.True(t, tool.InputSchema.IsRequired("X-Locale"))

	assert.Equal(t, []string{"expand"}, tool.Binding.QueryParams)
	assert.Equal(t, []string{"X-Locale"}, tool.Binding.HeaderParams)
	assert.Equal(t, domain.BodyNone, tool.Binding.BodyMode)
	assert.Equal(t, "Fetch a product (GET /products/{id})", tool.Description)

	require.NotNil(t, tool.Binding.ResponseSchema)
	assert.Equal(t, []string{"id", "name"}, tool.Binding.ResponseSchema.Required)
}

func TestCompileFlattensObjectBody(t *testing.T) {
	tool := compileStore(t)["updateproduct"]
	in := tool.InputSchema

	assert.Equal(t, domain.BodyFlattened, tool.Binding.BodyMode)
	assert.ElementsMatch(t, []string{"id", "name"}, in.Required)
	require.NotNil(t, in.AdditionalProperties)
	assert.False(t, *in.AdditionalProperties)

	name := in.Properties["name"]
	require.NotNil(t, name.MinLength)
	assert.Equal(t, uint64(1), *name.MinLength)

	price := in.Properties["price"]
	require.NotNil(t, price.Minimum)
	assert.Equal(t, 0.0, *price.Minimum)

	tags := in.Properties["tags"]
	assert.Equal(t, domain.TypeArray, tags.Type)
	require.NotNil(t, tags.Items)
	assert.Equal(t, domain.TypeString, tags.Items.Type)

	// Without a summary the description is the binding alone.
	assert.Equal(t, "PUT /products/{id}", tool.Description)
}

func TestCompileWrapsNonObjectBody(t *testing.T) {
	tool := compileStore(t)["patch_products_id"]

	assert.Equal(t, domain.BodyWrapped, tool.Binding.BodyMode)
	body := tool.InputSchema.Properties[domain.ParamBody]
	require.NotNil(t, body)
	assert.Equal(t, domain.TypeArray, body.Type)
	assert.Equal(t, []string{"id"}, tool.InputSchema.Required)
}

func TestCompileMergesAllOfBody(t *testing.T) {
	tool := compileStore(t)["create_order"]

	assert.Equal(t, domain.BodyFlattened, tool.Binding.BodyMode)
	assert.Contains(t, tool.InputSchema.Properties, "sku")
	assert.Contains(t, tool.InputSchema.Properties, "quantity")
	assert.Equal(t, []string{"sku"}, tool.InputSchema.Required)
	assert.Equal(t, "Place an order (POST /orders)", tool.Description)
}

func TestCompileNestedObjectsKeepRequired(t *testing.T) {
	in := compileStore(t)["create_order"].InputSchema

	customer := in.Properties["customer"]
	require.NotNil(t, customer)
	assert.Equal(t, domain.TypeObject, customer.Type)
	assert.Equal(t, []string{"email"}, customer.Required)
	require.Contains(t, customer.Properties, "email")
	assert.Equal(t, `^[^@\s]+@[^@\s]+$`, customer.Properties["email"].Pattern)
	assert.False(t, in.IsRequired("customer"))

	lines := in.Properties["lines"]
	require.NotNil(t, lines)
	assert.Equal(t, domain.TypeArray, lines.Type)
	require.NotNil(t, lines.Items)
	assert.Equal(t, domain.TypeObject, lines.Items.Type)
	assert.Equal(t, []string{"sku"}, lines.Items.Required)
	qty := lines.Items.Properties["quantity"]
	require.NotNil(t, qty)
	assert.Equal(t, domain.TypeInteger, qty.Type)
	require.NotNil(t, qty.Minimum)
	assert.Equal(t, 1.0, *qty.Minimum)
}

func TestCompileDropsUnsupportedPattern(t *testing.T) {
	in := compileStore(t)["create_order"].InputSchema

	coupon := in.Properties["coupon"]
	require.NotNil(t, coupon)
	assert.Equal(t, domain.TypeString, coupon.Type)
	assert.Empty(t, coupon.Pattern, "lookahead is not valid RE2")
}

func TestCompileDescriptionFallsBackToFirstLine(t *testing.T) {
	tool := compileStore(t)["getproduct"]
	assert.Equal(t, "Lists orders. (GET /orders)", tool.Description)

	limit := tool.InputSchema.Properties["limit"]
	require.NotNil(t, limit)
	assert.Equal(t, domain.TypeInteger, limit.Type)
	require.NotNil(t, limit.Maximum)
	assert.Equal(t, 100.0, *limit.Maximum)
}

func TestCompileIsDeterministic(t *testing.T) {
	c := NewCompiler(logger.Discard())
	doc := loadStoreSpec(t)

	first, err := c.Compile(context.Background(), doc)
	require.NoError(t, err)
	second, err := c.Compile(context.Background(), doc)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCompileSkipsMalformedTemplate(t *testing.T) {
	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Paths: openapi3.NewPaths(
			openapi3.WithPath("/broken/{id", &openapi3.PathItem{
				Get: &openapi3.Operation{OperationID: "broken"},
			}),
			openapi3.WithPath("/health", &openapi3.PathItem{
				Get: &openapi3.Operation{OperationID: "health"},
			}),
		),
	}

	defs, err := NewCompiler(logger.Discard()).Compile(context.Background(), doc)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "health", defs[0].Name)
	assert.Empty(t, defs[0].InputSchema.Properties)
}

func TestCompileNilDocument(t *testing.T) {
	_, err := NewCompiler(logger.Discard()).Compile(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrCompile)
}

func TestSanitizeName(t *testing.T) {
	tests := map[string]string{
		"getProduct":      "getproduct",
		"Create-Order":    "create_order",
		"__weird..name__": "weird_name",
		"GET /users/{id}": "get_users_id",
		"---":             "",
		"list_v2_items":   "list_v2_items",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeName(in), in)
	}
}

func TestPathParams(t *testing.T) {
	assert.Equal(t, []string{"org", "id"}, PathParams("/orgs/{org}/items/{id}/{org}"))
	assert.Empty(t, PathParams("/health"))
	assert.True(t, balancedTemplate("/a/{b}/c"))
	assert.False(t, balancedTemplate("/a/{b/c"))
	assert.False(t, balancedTemplate("/a/b}/c"))
}
