package exchange

import (
	"errors"
	"fmt"
	"time"
)

// Классы ошибок биржевого API
//
// Клиент (адаптер биржи) обязан классифицировать каждую ошибку:
// retryable (сеть, rate-limit) или fatal (аутентификация, невалидные
// параметры). Ядро на эту классификацию опирается при retry.
const (
	KindNetwork      = "network"       // таймаут, обрыв соединения (retryable)
	KindRateLimit    = "rate_limit"    // превышен лимит запросов (retryable, с задержкой)
	KindAuth         = "auth"          // ошибка аутентификации/прав (fatal)
	KindInvalidParam = "invalid_param" // невалидные параметры ордера/символа (fatal)
	KindExchange     = "exchange"      // прочие ошибки биржи (fatal)
)

// Сентинельные ошибки
var (
	ErrOrderNotFound = errors.New("order not found on exchange")
)

// Error представляет классифицированную ошибку биржевого API
type Error struct {
	Exchange string
	Kind     string
	Code     string // код ошибки биржи, если есть
	Message  string
	RetryIn  time.Duration // рекомендованная задержка (rate-limit Retry-After)
	Original error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s/%s]: %s", e.Exchange, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Exchange, e.Kind, e.Message)
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *Error) Unwrap() error {
	return e.Original
}

// Retryable сообщает pkg/retry можно ли повторять операцию
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindRateLimit
}

// RetryAfter возвращает рекомендованную биржей задержку (0 если нет)
func (e *Error) RetryAfter() time.Duration {
	return e.RetryIn
}

// NewNetworkError создаёт retryable сетевую ошибку
func NewNetworkError(exchange string, original error) *Error {
	return &Error{
		Exchange: exchange,
		Kind:     KindNetwork,
		Message:  original.Error(),
		Original: original,
	}
}

// NewRateLimitError создаёт retryable rate-limit ошибку с рекомендованной задержкой
func NewRateLimitError(exchange string, retryIn time.Duration) *Error {
	return &Error{
		Exchange: exchange,
		Kind:     KindRateLimit,
		Message:  "rate limit exceeded",
		RetryIn:  retryIn,
	}
}

// NewAuthError создаёт fatal ошибку аутентификации
func NewAuthError(exchange, message string) *Error {
	return &Error{
		Exchange: exchange,
		Kind:     KindAuth,
		Message:  message,
	}
}

// NewInvalidParamError создаёт fatal ошибку невалидных параметров
func NewInvalidParamError(exchange, message string) *Error {
	return &Error{
		Exchange: exchange,
		Kind:     KindInvalidParam,
		Message:  message,
	}
}

// IsRetryable проверяет классификацию произвольной ошибки
func IsRetryable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Retryable()
	}
	return false
}
