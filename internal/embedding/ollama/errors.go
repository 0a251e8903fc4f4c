package ollama

import (
	"errors"
	"net/http"

	"github.com/ollama/ollama/api"

	"pdfrag/internal/resilience"
)

// classify marks server-side and throttling failures as retryable. Client
// errors such as an unknown model are returned as is.
func classify(err error) error {
	var se api.StatusError
	if errors.As(err, &se) {
		if se.StatusCode >= http.StatusInternalServerError || se.StatusCode == http.StatusTooManyRequests {
			return resilience.Retryable(err)
		}
		return err
	}
	return err
}
