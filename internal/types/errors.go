package types

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds a consistent API error payload.
// details can be string, map, struct, etc.
func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// ErrorFrom uses the error text as details, nil errors leave them empty
func ErrorFrom(code, message string, err error) ErrorResponse {
	if err == nil {
		return NewErrorResponse(code, message, nil)
	}
	return NewErrorResponse(code, message, err.Error())
}
