// Package provider выполняет запросы статуса к API провайдеров по декларативному описанию
// и разбирает ответы в единый результат.
package provider

import "strings"

// AuthScheme определяет, куда подставляется API-ключ.
type AuthScheme string

const (
	AuthBody   AuthScheme = "body"
	AuthQuery  AuthScheme = "query"
	AuthHeader AuthScheme = "header"
	AuthBearer AuthScheme = "bearer"
	AuthNone   AuthScheme = "none"
)

// BodyFormat — формат тела запроса.
type BodyFormat string

const (
	BodyForm BodyFormat = "form"
	BodyJSON BodyFormat = "json"
)

// Auth описывает способ передачи ключа.
type Auth struct {
	Scheme AuthScheme `yaml:"scheme" validate:"omitempty,oneof=body query header bearer none"`
	// Param — имя поля в теле или query для схем body/query.
	Param string `yaml:"param"`
	// Header — имя заголовка для схемы header.
	Header string `yaml:"header"`
}

// RateLimit ограничивает частоту запросов к одному провайдеру в пределах прогона.
type RateLimit struct {
	PerSecond float64 `yaml:"per_second" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

// ResponseMapping перечисляет пути-кандидаты для каждого поля ответа. Берётся первый найденный.
type ResponseMapping struct {
	Root          []string `yaml:"root"`
	Status        []string `yaml:"status" validate:"required,min=1,dive,required"`
	StartCount    []string `yaml:"start_count"`
	Remains       []string `yaml:"remains"`
	Charge        []string `yaml:"charge"`
	Error         []string `yaml:"error"`
	TransactionID []string `yaml:"transaction_id"`
}

// Spec — полное описание запроса статуса и разбора ответа для провайдера.
type Spec struct {
	Method     string            `yaml:"method" validate:"omitempty,oneof=GET POST PUT get post put"`
	URL        string            `yaml:"url" validate:"required"`
	Action     string            `yaml:"action"`
	Auth       Auth              `yaml:"auth"`
	BodyFormat BodyFormat        `yaml:"body_format" validate:"omitempty,oneof=form json"`
	Body       map[string]string `yaml:"body"`
	Query      map[string]string `yaml:"query"`
	Headers    map[string]string `yaml:"headers"`
	RateLimit  RateLimit         `yaml:"rate_limit"`
	Response   ResponseMapping   `yaml:"response"`
}

// DefaultSpec — распространённый SMM API v2: POST формой key/action/order.
func DefaultSpec() Spec {
	return Spec{
		Method:     "POST",
		URL:        "{{api_url}}",
		Action:     "status",
		Auth:       Auth{Scheme: AuthBody, Param: "key"},
		BodyFormat: BodyForm,
		Body: map[string]string{
			"action": "{{action}}",
			"order":  "{{order_id}}",
		},
		Response: ResponseMapping{
			Root:          []string{"{{order_id}}", "data"},
			Status:        []string{"status", "order_status", "state"},
			StartCount:    []string{"start_count", "startCount", "start"},
			Remains:       []string{"remains", "remain", "remaining"},
			Charge:        []string{"charge", "cost", "price"},
			Error:         []string{"error", "errors", "error_message"},
			TransactionID: []string{"order", "order_id", "orderId", "transaction_id", "transactionId", "trx_id"},
		},
	}
}

// Merge накладывает непустые поля override поверх базового описания.
func (s Spec) Merge(override Spec) Spec {
	out := s.clone()
	if override.Method != "" {
		out.Method = override.Method
	}
	if override.URL != "" {
		out.URL = override.URL
	}
	if override.Action != "" {
		out.Action = override.Action
	}
	if override.Auth.Scheme != "" {
		out.Auth = override.Auth
	}
	if override.BodyFormat != "" {
		out.BodyFormat = override.BodyFormat
	}
	if override.Body != nil {
		out.Body = copyMap(override.Body)
	}
	if override.Query != nil {
		out.Query = copyMap(override.Query)
	}
	if override.Headers != nil {
		out.Headers = copyMap(override.Headers)
	}
	if override.RateLimit.PerSecond > 0 {
		out.RateLimit = override.RateLimit
	}
	r := override.Response
	if r.Root != nil {
		out.Response.Root = append([]string(nil), r.Root...)
	}
	if len(r.Status) > 0 {
		out.Response.Status = append([]string(nil), r.Status...)
	}
	if len(r.StartCount) > 0 {
		out.Response.StartCount = append([]string(nil), r.StartCount...)
	}
	if len(r.Remains) > 0 {
		out.Response.Remains = append([]string(nil), r.Remains...)
	}
	if len(r.Charge) > 0 {
		out.Response.Charge = append([]string(nil), r.Charge...)
	}
	if len(r.Error) > 0 {
		out.Response.Error = append([]string(nil), r.Error...)
	}
	if len(r.TransactionID) > 0 {
		out.Response.TransactionID = append([]string(nil), r.TransactionID...)
	}
	return out
}

// method возвращает HTTP-метод: из описания, затем из настроек провайдера, иначе POST.
func (s Spec) method(providerMethod string) string {
	if m := strings.TrimSpace(s.Method); m != "" {
		return strings.ToUpper(m)
	}
	if m := strings.TrimSpace(providerMethod); m != "" {
		return strings.ToUpper(m)
	}
	return "POST"
}

func (s Spec) clone() Spec {
	out := s
	out.Body = copyMap(s.Body)
	out.Query = copyMap(s.Query)
	out.Headers = copyMap(s.Headers)
	out.Response.Root = append([]string(nil), s.Response.Root...)
	out.Response.Status = append([]string(nil), s.Response.Status...)
	out.Response.StartCount = append([]string(nil), s.Response.StartCount...)
	out.Response.Remains = append([]string(nil), s.Response.Remains...)
	out.Response.Charge = append([]string(nil), s.Response.Charge...)
	out.Response.Error = append([]string(nil), s.Response.Error...)
	out.Response.TransactionID = append([]string(nil), s.Response.TransactionID...)
	return out
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
