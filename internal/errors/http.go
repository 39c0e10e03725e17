package errors

import (
	"fmt"
	"net/http"
)

// FromHTTPStatus classifies a non-2xx response from an external API.
// 429 and 5xx are transient; any other 4xx is a definitive rejection.
func FromHTTPStatus(apiName string, status int, body string) *AppError {
	cause := fmt.Errorf("status %d: %s", status, body)

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return NewExternalAPIError(apiName, cause)
	}

	return NewDeclinedError(apiName, cause)
}
