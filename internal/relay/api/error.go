package api

import "fmt"

type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay api error: code=%s, message=%s", e.Code, e.Message)
}
