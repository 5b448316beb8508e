package openapi

import (
	"context"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/require"
)

const storeSpec = `
openapi: 3.0.3
info:
  title: Store
  version: "1.0"
paths:
  /products/{id}:
    parameters:
      - name: id
        in: path
        required: true
        description: Product id
        schema:
          type: integer
    get:
      operationId: getProduct
      summary: Fetch a product
      parameters:
        - name: expand
          in: query
          schema:
            type: string
            enum: [reviews, stock]
        - name: X-Locale
          in: header
          required: true
          schema:
            type: string
      responses:
        "200":
          description: ok
          content:
            application/json:
              schema:
                type: object
                required: [id, name]
                properties:
                  id:
                    type: string
                  name:
                    type: string
    put:
      operationId: updateProduct
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [name]
              properties:
                name:
                  type: string
                  minLength: 1
                price:
                  type: number
                  minimum: 0
                tags:
                  type: array
                  items:
                    type: string
      responses:
        "200":
          description: ok
    patch:
      requestBody:
        content:
          application/json:
            schema:
              type: array
              items:
                type: string
      responses:
        "204":
          description: no content
    options:
      operationId: productOptions
      responses:
        "204":
          description: no content
  /orders:
    get:
      operationId: getProduct
      description: |
        Lists orders.
        Paged by cursor.
      parameters:
        - name: limit
          in: query
          schema:
            type: integer
            minimum: 1
            maximum: 100
      responses:
        "200":
          description: ok
    post:
      operationId: Create-Order
      summary: Place an order
      requestBody:
        required: true
        content:
          application/json:
            schema:
              allOf:
                - type: object
                  required: [sku]
                  properties:
                    sku:
                      type: string
                - type: object
                  properties:
                    quantity:
                      type: integer
                    coupon:
                      type: string
                      pattern: '^(?=.*[A-Z])[A-Z0-9]+$'
                    customer:
                      type: object
                      required: [email]
                      properties:
                        email:
                          type: string
                          pattern: '^[^@\s]+@[^@\s]+$'
                        name:
                          type: string
                    lines:
                      type: array
                      items:
                        type: object
                        required: [sku]
                        properties:
                          sku:
                            type: string
                          quantity:
                            type: integer
                            minimum: 1
      responses:
        "201":
          description: created
`

func loadStoreSpec(t *testing.T) *openapi3.T {
	t.Helper()
	doc, err := LoadData(context.Background(), []byte(storeSpec))
	require.NoError(t, err)
	return doc
}
