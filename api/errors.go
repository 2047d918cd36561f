package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/marwen-abid/offramp-go/errors"
)

var kindStatus = map[errors.Code]int{
	errors.CONFIG_INVALID:           http.StatusInternalServerError,
	errors.AUTH_FAILED:              http.StatusBadGateway,
	errors.ASSET_UNSUPPORTED:        http.StatusUnprocessableEntity,
	errors.ANCHOR_PROTOCOL_ERROR:    http.StatusBadGateway,
	errors.WATCH_TIMEOUT:            http.StatusGatewayTimeout,
	errors.LEDGER_SUBMISSION_FAILED: http.StatusBadGateway,
}

// statusFor maps an error to an HTTP status and the code reported to clients. The
// caller-facing kind wins; otherwise bad input and missing records get their own status.
func statusFor(err error) (int, errors.Code) {
	if kind := errors.KindOf(err); kind != "" {
		return kindStatus[kind], kind
	}
	switch {
	case errors.HasCode(err, errors.INVALID_REQUEST):
		return http.StatusBadRequest, errors.INVALID_REQUEST
	case errors.HasCode(err, errors.NOT_FOUND):
		return http.StatusNotFound, errors.NOT_FOUND
	case errors.HasCode(err, errors.ACCOUNT_NOT_FOUND):
		return http.StatusNotFound, errors.ACCOUNT_NOT_FOUND
	}
	var oe *errors.OfframpError
	if errors.As(err, &oe) {
		return http.StatusInternalServerError, oe.Code
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeError(c *gin.Context, err error, extra gin.H) {
	status, code := statusFor(err)
	body := gin.H{"success": false, "error": err.Error(), "code": code}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg, "code": errors.INVALID_REQUEST})
}
