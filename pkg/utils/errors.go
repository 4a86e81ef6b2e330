package utils

import (
	"context"
	"errors"
	"net"
	"strings"
)

// --- Sentinel Errors for Categorization ---
var (
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last underlying error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")          // Wraps original error/status
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")          // Wraps original error/status
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")       // Wraps original error/status
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrParsing          = errors.New("parsing error") // Wraps specific parsing error (URL, update JSON)
	ErrDatabase         = errors.New("database error") // Wraps badger errors
	ErrConfigValidation = errors.New("configuration validation error")
	ErrDelivery         = errors.New("delivery failed")      // Telegram send failures
	ErrDownload         = errors.New("file download failed") // Telegram document download failures
	ErrNoValidURLs      = errors.New("no valid URLs found")
	ErrSeedPanic        = errors.New("seed processing panicked")
)

// CategorizeError maps an error to a predefined category string for logging.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrRetryFailed):
		return "RetryFailed_" + retryCause(err)
	case errors.Is(err, ErrClientHTTPError):
		return clientStatusCategory(err.Error())
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrParsing):
		return "Content_Parsing"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrDelivery):
		return "Delivery_Send"
	case errors.Is(err, ErrDownload):
		return "Delivery_Download"
	case errors.Is(err, ErrNoValidURLs):
		return "Input_NoValidURLs"
	case errors.Is(err, ErrSeedPanic):
		return "Internal_SeedPanic"
	case errors.Is(err, context.Canceled):
		return "System_ContextCanceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "System_ContextDeadlineExceeded"
	}

	if cat := networkCategory(err); cat != "" {
		return "Network_" + cat
	}
	return "Unknown"
}

// retryCause classifies the last attempt's error carried by an ErrRetryFailed chain.
// The chain may be joined with several %w verbs, so the whole tree is searched.
func retryCause(err error) string {
	switch {
	case errors.Is(err, ErrServerHTTPError):
		return "HTTPServer"
	case errors.Is(err, ErrClientHTTPError):
		return "HTTPClient"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTPOther"
	case errors.Is(err, context.Canceled):
		return "Cancelled"
	}

	rest := strings.Replace(err.Error(), ErrRetryFailed.Error(), "", 1)
	if strings.Trim(rest, ": ") == "" {
		return "Unknown"
	}
	switch cat := networkCategory(err); cat {
	case "":
		return "NetworkOther"
	case "Timeout", "TimeoutGeneric":
		return "NetworkTimeout"
	case "DNSLookup", "ConnectionRefused":
		return cat
	default:
		return "Network" + cat
	}
}

func clientStatusCategory(msg string) string {
	for _, code := range []string{"404", "403", "429"} {
		if strings.Contains(msg, " "+code+" ") {
			return "HTTP_" + code
		}
	}
	return "HTTP_4xx"
}

// networkCategory recognizes transport failures; "" means none matched
func networkCategory(err error) string {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Timeout"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "TimeoutGeneric"
	case strings.Contains(msg, "connection refused"):
		return "ConnectionRefused"
	case strings.Contains(msg, "no such host"):
		return "DNSLookup"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "TLS"
	case strings.Contains(msg, "reset by peer"):
		return "ConnectionReset"
	}
	return ""
}
