package graphql

import (
	"context"
	"errors"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	apperrors "github.com/Adithya-Monish-Kumar-K/genomics-graphql-api/pkg/errors"
)

// Request-level error codes. Field-level codes come from apperrors.Code.
const (
	CodeValidationFailed = "GRAPHQL_VALIDATION_FAILED"
	CodeBadRequest       = "BAD_REQUEST"
	CodeTimeout          = "TIMEOUT"
	CodeCancelled        = "CANCELLED"
)

// ToGQLError converts a resolver error into a GraphQL error carrying a
// machine-readable extensions.code. Infrastructure details stay in the
// logs; the message is the public one.
func ToGQLError(err error, path ast.Path, pos *ast.Position) *gqlerror.Error {
	code := apperrors.Code(err)
	msg := apperrors.PublicMessage(err)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && code == "INTERNAL":
		code, msg = CodeTimeout, "Query timeout exceeded"
	case errors.Is(err, context.Canceled) && code == "INTERNAL":
		code, msg = CodeCancelled, "Query cancelled"
	}
	gerr := &gqlerror.Error{
		Err:        err,
		Message:    msg,
		Path:       path,
		Extensions: map[string]any{"code": code},
	}
	if pos != nil {
		gerr.Locations = []gqlerror.Location{{Line: pos.Line, Column: pos.Column}}
	}
	return gerr
}

func requestError(code, msg string) *gqlerror.Error {
	return &gqlerror.Error{Message: msg, Extensions: map[string]any{"code": code}}
}

// withCode tags validation errors from the parser that carry no code yet.
func withCode(list gqlerror.List, code string) gqlerror.List {
	for _, e := range list {
		if e.Extensions == nil {
			e.Extensions = map[string]any{}
		}
		if _, ok := e.Extensions["code"]; !ok {
			e.Extensions["code"] = code
		}
	}
	return list
}
