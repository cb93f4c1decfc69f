// Package graphql serves the genomics GraphQL API: it validates queries
// against the embedded schema, prices them with the @cost directive, and
// executes them against registered field resolvers.
package graphql

import (
	_ "embed"
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

//go:embed schema.graphql
var schemaSDL string

// LoadSchema parses the embedded schema.
func LoadSchema() (*ast.Schema, error) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "schema.graphql", Input: schemaSDL})
	if err != nil {
		return nil, fmt.Errorf("loading graphql schema: %w", err)
	}
	return schema, nil
}
