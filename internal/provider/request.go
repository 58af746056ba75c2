package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/vladislavdragonenkov/smmsync/internal/domain"
)

// vars — значения для подстановки в шаблоны описания.
type vars map[string]string

func newVars(spec Spec, p domain.Provider, remoteOrderID, serviceID string) vars {
	return vars{
		"api_url":    strings.TrimRight(p.APIURL, "/"),
		"api_key":    p.APIKey,
		"order_id":   remoteOrderID,
		"service_id": serviceID,
		"action":     spec.Action,
	}
}

// render подставляет {{name}} из vars. Неизвестные переменные остаются как есть.
func (v vars) render(tpl string) string {
	if !strings.Contains(tpl, "{{") {
		return tpl
	}
	pairs := make([]string, 0, len(v)*2)
	for k, val := range v {
		pairs = append(pairs, "{{"+k+"}}", val)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// BuildRequest собирает HTTP-запрос статуса для одного заказа.
func BuildRequest(ctx context.Context, spec Spec, p domain.Provider, remoteOrderID, serviceID string) (*http.Request, error) {
	if strings.TrimSpace(remoteOrderID) == "" {
		return nil, domain.ErrInvalidProviderOrderID
	}
	v := newVars(spec, p, remoteOrderID, serviceID)

	rawURL := v.render(spec.URL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider %s: invalid api url %q", p.ID, rawURL)
	}

	query := u.Query()
	for _, k := range sortedKeys(spec.Query) {
		query.Set(k, v.render(spec.Query[k]))
	}

	body := make(map[string]string, len(spec.Body)+1)
	for k, tpl := range spec.Body {
		body[k] = v.render(tpl)
	}

	headers := make(http.Header)
	for _, k := range sortedKeys(spec.Headers) {
		headers.Set(k, v.render(spec.Headers[k]))
	}

	switch spec.Auth.Scheme {
	case AuthBody:
		body[spec.Auth.Param] = p.APIKey
	case AuthQuery:
		query.Set(spec.Auth.Param, p.APIKey)
	case AuthHeader:
		headers.Set(spec.Auth.Header, p.APIKey)
	case AuthBearer:
		headers.Set("Authorization", "Bearer "+p.APIKey)
	}
	u.RawQuery = query.Encode()

	method := spec.method(p.HTTPMethod)

	var reader io.Reader
	if method != http.MethodGet && len(body) > 0 {
		switch spec.BodyFormat {
		case BodyJSON:
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request body: %w", err)
			}
			reader = bytes.NewReader(payload)
			headers.Set("Content-Type", "application/json")
		default:
			form := make(url.Values, len(body))
			for k, val := range body {
				form.Set(k, val)
			}
			reader = strings.NewReader(form.Encode())
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else if method == http.MethodGet && len(body) > 0 {
		// у GET тело переносим в query
		for k, val := range body {
			query.Set(k, val)
		}
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	for k, vals := range headers {
		req.Header[k] = vals
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
