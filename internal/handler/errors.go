package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/bazaar/internal/domain/coupon"
	"github.com/xenking/bazaar/internal/domain/shop"
)

// requestError is a client error detected before reaching the domain.
type requestError struct {
	status  int
	code    string
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, code: "bad_request", message: msg}
}

func unprocessable(format string, args ...any) error {
	return &requestError{
		status:  http.StatusUnprocessableEntity,
		code:    "validation_error",
		message: fmt.Sprintf(format, args...),
	}
}

// asRequestError keeps request errors raised inside decoder callbacks and
// turns anything else into a malformed JSON error.
func asRequestError(err error) error {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	return badRequest("malformed JSON: " + err.Error())
}

// writeError maps err to the error envelope. Unknown errors are logged and
// reported as 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		reqErr *requestError
		valErr *coupon.ValidationError
	)
	switch {
	case errors.As(err, &reqErr):
		writeErrorBody(w, reqErr.status, reqErr.code, reqErr.message)
	case errors.As(err, &valErr):
		writeErrorBody(w, http.StatusUnprocessableEntity, "validation_error", valErr.Error())
	case errors.Is(err, coupon.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "coupon_not_found", "coupon not found")
	case errors.Is(err, shop.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, "shop_not_found", "shop not found")
	case errors.Is(err, coupon.ErrDuplicateName):
		writeErrorBody(w, http.StatusConflict, "duplicate_name", "coupon name already exists for shop")
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrorBody(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(false)
	e.FieldStart("code")
	e.Str(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
	writeJSON(w, status, &e)
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
