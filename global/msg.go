package global

import (
	"net/http"

	"PPLive/tools/errs"
)

// Msg is the JSON body of every HTTP response.
type Msg struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func Sucess(data any) *Msg {
	return &Msg{
		Code: 200,
		Msg:  "",
		Data: data,
	}
}

// Fail turns err into a response body and the HTTP status it should go out with.
func Fail(err error) (int, *Msg) {
	code := errs.Code(err)
	if code == 0 {
		code = errs.ErrInternalServer.Code
	}
	body := &Msg{Code: code, Msg: err.Error()}
	switch {
	case errs.Is(err, errs.ErrArgs):
		return http.StatusBadRequest, body
	case errs.Is(err, errs.ErrTokenInvalid):
		return http.StatusUnauthorized, body
	case errs.Is(err, errs.ErrNoPermission):
		return http.StatusForbidden, body
	case errs.Is(err, errs.ErrRecordNotFound):
		return http.StatusNotFound, body
	default:
		return http.StatusInternalServerError, body
	}
}
